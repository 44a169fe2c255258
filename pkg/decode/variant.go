package decode

import "regexp"

var wechatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?://u\.wechat\.com`),
	regexp.MustCompile(`(?i)^https?://weixin\.qq\.com`),
	regexp.MustCompile(`(?i)^https?://mp\.weixin\.qq\.com`),
	regexp.MustCompile(`(?i)^weixin://`),
	regexp.MustCompile(`(?i)^wxp://`),
}

// IsWechatVariant reports whether a decoded payload points into the WeChat
// ecosystem (contact cards, official accounts, payment codes).
func IsWechatVariant(payload string) bool {
	for _, re := range wechatPatterns {
		if re.MatchString(payload) {
			return true
		}
	}
	return false
}
