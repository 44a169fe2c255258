package decode

import "testing"

func TestIsWechatVariant(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
	}{
		{"https://u.wechat.com/abc", true},
		{"http://u.wechat.com/abc", true},
		{"https://weixin.qq.com/r/xyz", true},
		{"HTTPS://WEIXIN.QQ.COM/r/xyz", true},
		{"https://mp.weixin.qq.com/s/123", true},
		{"weixin://dl/business", true},
		{"WXP://f2f0abc", true},
		{"https://example.com/weixin.qq.com", false},
		{"https://wechat.com/", false},
		{" weixin://leading-space", false},
		{"plain text", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWechatVariant(tt.payload); got != tt.want {
			t.Errorf("IsWechatVariant(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}
