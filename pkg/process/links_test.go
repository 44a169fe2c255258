package process

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-spider/pkg/config"
	"qr-spider/pkg/fetch"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestLinkExtractor_ScopeAndOrder(t *testing.T) {
	html := `
		<a href="/b">B</a>
		<a href="a">A relative</a>
		<a href="https://other.com/x">other host</a>
		<a href="https://sub.example.com/y">subdomain</a>
		<a href="#top">fragment</a>
		<a href="">empty</a>
		<a>no href</a>
		<a href="mailto:x@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="/b#section">dup with fragment</a>
		<a href="HTTPS://EXAMPLE.COM/c?page=2">upper</a>
		<a href="http://[::1">bad</a>`
	le := NewLinkExtractor(nil, nil, testLogger())
	page := mustURL(t, "https://example.com/dir/index.html")
	seed := mustURL(t, "https://example.com/")

	got := le.Extract(context.Background(), mustDoc(t, html), page, seed)
	assert.Equal(t, []string{
		"https://example.com/b",
		"https://example.com/dir/a",
		"https://example.com/c?page=2",
	}, got)
}

func TestLinkExtractor_SkippedExtensions(t *testing.T) {
	html := `
		<a href="/report.PDF">pdf</a>
		<a href="/archive.tar.gz">gz</a>
		<a href="/pic.jpeg">jpeg</a>
		<a href="/data.json">json</a>
		<a href="/page.html">html</a>
		<a href="/page.php?file=a.pdf">query is not path</a>`
	le := NewLinkExtractor(nil, nil, testLogger())
	u := mustURL(t, "https://example.com/")

	got := le.Extract(context.Background(), mustDoc(t, html), u, u)
	assert.Equal(t, []string{
		"https://example.com/page.html",
		"https://example.com/page.php?file=a.pdf",
	}, got)
}

func TestLinkExtractor_ExcludePatterns(t *testing.T) {
	le := NewLinkExtractor([]*regexp.Regexp{regexp.MustCompile(`(?i)/logout`)}, nil, testLogger())
	u := mustURL(t, "https://example.com/")

	got := le.Extract(context.Background(), mustDoc(t, `<a href="/LOGOUT">x</a><a href="/keep">y</a>`), u, u)
	assert.Equal(t, []string{"https://example.com/keep"}, got)
}

func TestLinkExtractor_ScopeUsesSeedHostAfterRedirect(t *testing.T) {
	le := NewLinkExtractor(nil, nil, testLogger())
	// page was redirected off-host; relative links resolve there and fall out of scope
	page := mustURL(t, "https://cdn.example.net/landing")
	seed := mustURL(t, "https://example.com/")

	got := le.Extract(context.Background(), mustDoc(t, `<a href="/x">x</a><a href="https://example.com/y">y</a>`), page, seed)
	assert.Equal(t, []string{"https://example.com/y"}, got)
}

func TestLinkExtractor_Robots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := config.NewDefaultConfig()
	f := fetch.NewFetcher(server.Client(), &cfg, testLogger())
	robots := fetch.NewRobotsHandler(f, "test-agent", 5*time.Second, testLogger())
	le := NewLinkExtractor(nil, robots, testLogger())
	u := mustURL(t, server.URL+"/")

	got := le.Extract(context.Background(), mustDoc(t, `<a href="/private/a">p</a><a href="/public">q</a>`), u, u)
	require.Len(t, got, 1)
	assert.Equal(t, server.URL+"/public", got[0])
}

func TestHasSkippedExtension(t *testing.T) {
	assert.True(t, HasSkippedExtension(mustURL(t, "https://e.com/a.ZIP")))
	assert.True(t, HasSkippedExtension(mustURL(t, "https://e.com/style.css?v=2")))
	assert.False(t, HasSkippedExtension(mustURL(t, "https://e.com/dir/")))
	assert.False(t, HasSkippedExtension(mustURL(t, "https://e.com/page.aspx")))
}
