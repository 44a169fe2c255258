package fetch

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"qr-spider/pkg/utils"
)

// acceptEncoding is sent on every request; the transport's transparent
// gzip is disabled so br can be negotiated too.
const acceptEncoding = "gzip, br"

// readBody returns the decompressed response body, failing with
// utils.ErrResponseTooLarge once more than limit bytes have been produced.
// A limit <= 0 disables the cap.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	if limit > 0 && resp.ContentLength > limit && resp.Header.Get("Content-Encoding") == "" {
		return nil, fmt.Errorf("%w: Content-Length %d > %d", utils.ErrResponseTooLarge, resp.ContentLength, limit)
	}

	body, closeFn, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if limit <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", utils.ErrResponseTooLarge, limit)
	}
	return data, nil
}

// decodeBody wraps the response body according to Content-Encoding.
func decodeBody(resp *http.Response) (io.Reader, func(), error) {
	closeFn := func() {}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, closeFn, nil
	case "br":
		return brotli.NewReader(resp.Body), closeFn, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %v", utils.ErrResponseBodyRead, err)
		}
		return gz, func() { gz.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported Content-Encoding %q", utils.ErrResponseBodyRead, resp.Header.Get("Content-Encoding"))
	}
}
