package akash

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"akash-router/internal/models"
	"akash-router/internal/provider"
)

var testCookies = models.CookieSet{
	models.CookieClearance: "clear",
	models.CookieSession:   "sess",
}

func testRequest() models.UpstreamRequest {
	return models.UpstreamRequest{
		ID:       "0123456789abcdef",
		Messages: []models.Message{{Role: "user", Content: "hi"}},
		Model:    "DeepSeek-R1",
		TopP:     1,
		Context:  []any{},
	}
}

func newTestProvider(t *testing.T, url string, retries int) *Provider {
	t.Helper()
	p, err := New(http.DefaultClient, nil, Options{
		ChatURL:    url,
		BaseURL:    "https://chat.example/",
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// dropConnection closes the connection without writing a response.
func dropConnection(t *testing.T, w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Error("response writer cannot hijack")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Error(err)
		return
	}
	conn.Close()
}

func TestChatSendsBrowserRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if r.Header.Get("Origin") != "https://chat.example" || r.Header.Get("Referer") != "https://chat.example/" {
			t.Errorf("origin/referer = %q / %q", r.Header.Get("Origin"), r.Header.Get("Referer"))
		}
		if c, err := r.Cookie(models.CookieSession); err != nil || c.Value != "sess" {
			t.Errorf("session cookie missing: %v", err)
		}
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "topP").Float() != 1 || gjson.GetBytes(body, "context").Raw != "[]" {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, "0:\"ok\"\n")
	}))
	defer srv.Close()

	got, err := newTestProvider(t, srv.URL, 0).Chat(context.Background(), testRequest(), testCookies)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0:\"ok\"\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestChatRetriesTransportFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			dropConnection(t, w)
			return
		}
		io.WriteString(w, "0:\"third time\"\n")
	}))
	defer srv.Close()

	got, err := newTestProvider(t, srv.URL, 3).Chat(context.Background(), testRequest(), testCookies)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0:\"third time\"\n" || hits.Load() != 3 {
		t.Fatalf("body = %q after %d attempts", got, hits.Load())
	}
}

func TestChatGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		dropConnection(t, w)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL, 2).Chat(context.Background(), testRequest(), testCookies)
	if !errors.Is(err, provider.ErrUpstreamTransport) {
		t.Fatalf("err = %v, want ErrUpstreamTransport", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", hits.Load())
	}
}

func TestChatDoesNotRetryStatusErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "blocked")
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL, 3).Chat(context.Background(), testRequest(), testCookies)
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusForbidden || statusErr.Body != "blocked" {
		t.Fatalf("status error = %+v", statusErr)
	}
	if hits.Load() != 1 {
		t.Fatalf("attempts = %d, status errors must not be retried", hits.Load())
	}
}

func TestChatStreamDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		io.WriteString(zw, "0:\"streamed\"\n")
		zw.Close()
	}))
	defer srv.Close()

	body, err := newTestProvider(t, srv.URL, 0).ChatStream(context.Background(), testRequest(), testCookies)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0:\"streamed\"\n" {
		t.Fatalf("stream body = %q", data)
	}
}

func TestChatStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL, 0).ChatStream(context.Background(), testRequest(), testCookies)
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusTooManyRequests || statusErr.Body != "slow down" {
		t.Fatalf("err = %v", err)
	}
}

func TestRawReportsAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusBadRequest)
		w.Write(body)
	}))
	defer srv.Close()

	resp, err := newTestProvider(t, srv.URL, 0).Raw(context.Background(), []byte(`{"probe":true}`), testCookies)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest || resp.Text != `{"probe":true}` {
		t.Fatalf("raw = %+v", resp)
	}
}

func TestIsTransportError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.ErrUnexpectedEOF, true},
		{context.Canceled, false},
		{errors.New("marshal failed"), false},
		{&provider.StatusError{Code: 500}, false},
	}
	for _, tt := range tests {
		if got := isTransportError(tt.err); got != tt.want {
			t.Errorf("isTransportError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
