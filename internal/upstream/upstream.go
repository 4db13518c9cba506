// Package upstream holds the transport details shared by every outbound call
// to the chat service: the browser header profile, cookie attachment and
// response body decoding.
package upstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"akash-router/internal/models"
)

// UserAgent mimics the desktop browser the upstream expects.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36 Edg/136.0.0.0"

const (
	acceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8,en-GB;q=0.7,en-US;q=0.6"
	acceptEncoding = "gzip, deflate, br, zstd"
	secCHUA        = `"Chromium";v="136", "Microsoft Edge";v="136", "Not.A/Brand";v="99"`
)

// SetBrowserHeaders applies the fixed browser-like header set. baseURL is the
// upstream landing page used for Referer and Origin. JSON bodies additionally
// get Content-Type and Origin, as a same-origin fetch would send.
func SetBrowserHeaders(h http.Header, baseURL string, jsonBody bool) {
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Accept-Encoding", acceptEncoding)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Priority", "u=1, i")
	h.Set("Referer", baseURL)
	h.Set("Sec-Ch-Ua", secCHUA)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", UserAgent)

	if jsonBody {
		h.Set("Content-Type", "application/json")
		h.Set("Origin", strings.TrimRight(baseURL, "/"))
	}
}

// AttachCookies adds every non-empty cookie of set to req in name order.
func AttachCookies(req *http.Request, set models.CookieSet) {
	for _, name := range set.Names() {
		if value := set[name]; value != "" {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}
}

// DecodeBody wraps resp.Body according to its Content-Encoding. Because the
// header profile sets Accept-Encoding explicitly, net/http does not
// decompress transparently. The returned closer also closes resp.Body.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: zr.Close, source: resp.Body}, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open deflate body: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: zr.Close, source: resp.Body}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), source: resp.Body}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open zstd body: %w", err)
		}
		return &decodedBody{
			Reader: zr,
			closeDecoder: func() error {
				zr.Close()
				return nil
			},
			source: resp.Body,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// ReadBody decodes and fully reads a response body, capped at limit bytes.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	body, err := DecodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return data, nil
}

type decodedBody struct {
	io.Reader
	closeDecoder func() error
	source       io.Closer
}

func (d *decodedBody) Close() error {
	var decoderErr error
	if d.closeDecoder != nil {
		decoderErr = d.closeDecoder()
	}
	sourceErr := d.source.Close()
	if decoderErr != nil {
		return decoderErr
	}
	return sourceErr
}
