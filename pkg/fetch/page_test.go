package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-spider/pkg/utils"
)

func newTestPageFetcher(maxBytes int64) *PageFetcher {
	return NewPageFetcher(testFetcher(0), "qr-spider-test", maxBytes, 5*time.Second, testLogger())
}

func TestPageFetcher_ParsesHTMLAndFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "qr-spider-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Hello</h1><img src="qr.png"></body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	page, err := newTestPageFetcher(1<<20).Fetch(context.Background(), server.URL+"/old")
	require.NoError(t, err)

	assert.Equal(t, "/new/", page.URL.Path)
	assert.Equal(t, "Hello", page.Doc.Find("h1").Text())
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestPageFetcher_DecodesCharset(t *testing.T) {
	// "二维码" in GBK
	gbk := []byte{0xb6, 0xfe, 0xce, 0xac, 0xc2, 0xeb}
	body := append([]byte(`<html><body><p>`), gbk...)
	body = append(body, []byte(`</p></body></html>`)...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=gbk")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	page, err := newTestPageFetcher(1<<20).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "二维码", page.Doc.Find("p").Text())
}

func TestPageFetcher_ContentEncodings(t *testing.T) {
	const html = `<html><body><p>compressed</p></body></html>`

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(html))
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(html))
	require.NoError(t, bw.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"gzip", gz.Bytes()},
		{"br", br.Bytes()},
		{"", []byte(html)},
	}

	for _, tt := range tests {
		t.Run("encoding="+tt.encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
				w.Header().Set("Content-Type", "text/html")
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			t.Cleanup(server.Close)

			page, err := newTestPageFetcher(1<<20).Fetch(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Equal(t, "compressed", page.Doc.Find("p").Text())
		})
	}
}

func TestPageFetcher_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", http.NotFound)
	mux.HandleFunc("/pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	pf := newTestPageFetcher(1024)

	_, err := pf.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)

	_, err = pf.Fetch(context.Background(), server.URL+"/pdf")
	assert.ErrorIs(t, err, utils.ErrParsing)

	_, err = pf.Fetch(context.Background(), server.URL+"/huge")
	assert.ErrorIs(t, err, utils.ErrResponseTooLarge)

	_, err = pf.Fetch(context.Background(), "http://%zz")
	assert.ErrorIs(t, err, utils.ErrRequestCreation)
}

func TestImageDownloader_Download(t *testing.T) {
	var gotReferer atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/qr.png", func(w http.ResponseWriter, r *http.Request) {
		gotReferer.Store(r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/empty.png", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/big.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 200))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	pool := NewHostSemaphorePool(1, testLogger())
	d := NewImageDownloader(testFetcher(0), pool, "ua", 100, 5*time.Second, time.Second, testLogger())

	data, err := d.Download(context.Background(), server.URL+"/qr.png", "https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "https://example.com/page", gotReferer.Load())

	_, err = d.Download(context.Background(), server.URL+"/empty.png", "")
	assert.ErrorIs(t, err, utils.ErrEmptyImage)

	_, err = d.Download(context.Background(), server.URL+"/big.png", "")
	assert.ErrorIs(t, err, utils.ErrResponseTooLarge)

	_, err = d.Download(context.Background(), server.URL+"/nope.png", "")
	assert.ErrorIs(t, err, utils.ErrClientHTTPError)

	u, _ := url.Parse(server.URL)
	assert.Equal(t, 1, pool.Len(), "semaphore tracked for %s", u.Host)
	assert.Zero(t, pool.InUse(u.Host), "every download released its slot")
}

func TestImageDownloader_DataURI(t *testing.T) {
	d := NewImageDownloader(testFetcher(0), nil, "ua", 1024, time.Second, time.Second, testLogger())

	raw := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	data, err := d.Download(context.Background(), uri, "")
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	unpadded := "data:image/png;base64," + base64.RawStdEncoding.EncodeToString(raw)
	data, err = d.Download(context.Background(), unpadded, "")
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	_, err = d.Download(context.Background(), "data:image/svg+xml,<svg/>", "")
	assert.True(t, errors.Is(err, utils.ErrParsing))

	_, err = d.Download(context.Background(), "data:image/png;base64,", "")
	assert.ErrorIs(t, err, utils.ErrEmptyImage)
}

func TestRobotsHandler_TestAgent(t *testing.T) {
	var robotsHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		robotsHits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	rh := NewRobotsHandler(testFetcher(0), "qr-spider", time.Second, testLogger())

	allowed, _ := url.Parse(server.URL + "/public/page")
	blocked, _ := url.Parse(server.URL + "/private/page")

	assert.True(t, rh.TestAgent(context.Background(), allowed))
	assert.False(t, rh.TestAgent(context.Background(), blocked))
	assert.Equal(t, int32(1), robotsHits.Load(), "robots.txt should be cached per host")
}

func TestRobotsHandler_MissingRobotsAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	rh := NewRobotsHandler(testFetcher(0), "qr-spider", time.Second, testLogger())
	target, _ := url.Parse(server.URL + "/anything")
	assert.True(t, rh.TestAgent(context.Background(), target))
}
