// Package akash talks to the Akash chat endpoint the way its web client does.
package akash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"akash-router/internal/models"
	"akash-router/internal/provider"
	"akash-router/internal/upstream"
)

const (
	providerName = "akash"

	maxBodyBytes  = 32 << 20
	maxErrorBytes = 64 << 10
)

// Options configures the upstream client.
type Options struct {
	ChatURL    string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// Provider posts chat requests upstream. Non-streaming calls are retried on
// transport failures; streaming calls are not.
type Provider struct {
	client       *http.Client
	streamClient *http.Client
	chatURL      string
	baseURL      string
	maxRetries   int
	retryDelay   time.Duration
}

// New creates a provider. streamClient must not impose an overall timeout;
// if nil, client is used for streams too.
func New(client, streamClient *http.Client, opts Options) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if streamClient == nil {
		streamClient = client
	}
	if strings.TrimSpace(opts.ChatURL) == "" {
		return nil, errors.New("chat url must not be empty")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}

	return &Provider{
		client:       client,
		streamClient: streamClient,
		chatURL:      opts.ChatURL,
		baseURL:      opts.BaseURL,
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
	}, nil
}

func (p *Provider) Name() string {
	return providerName
}

// Chat posts req and returns the whole upstream body.
func (p *Provider) Chat(ctx context.Context, req models.UpstreamRequest, cookies models.CookieSet) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal upstream request: %w", err)
	}

	resp, err := p.postWithRetry(ctx, payload, cookies, maxBodyBytes)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &provider.StatusError{Code: resp.StatusCode, Body: resp.Text}
	}
	return resp.Text, nil
}

// ChatStream posts req and hands back the live, decoded body.
func (p *Provider) ChatStream(ctx context.Context, req models.UpstreamRequest, cookies models.CookieSet) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := p.newRequest(ctx, payload, cookies)
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrUpstreamTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, readErr := upstream.ReadBody(resp, maxErrorBytes)
		if readErr != nil {
			slog.Debug("read upstream error body", "err", readErr)
		}
		return nil, &provider.StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	body, err := upstream.DecodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return body, nil
}

// Raw posts payload unchanged and reports the upstream reply whatever its status.
func (p *Provider) Raw(ctx context.Context, payload []byte, cookies models.CookieSet) (*provider.RawResponse, error) {
	return p.postWithRetry(ctx, payload, cookies, maxBodyBytes)
}

func (p *Provider) postWithRetry(ctx context.Context, payload []byte, cookies models.CookieSet, limit int64) (*provider.RawResponse, error) {
	policy := retrypolicy.NewBuilder[*provider.RawResponse]().
		HandleIf(func(_ *provider.RawResponse, err error) bool {
			return isTransportError(err)
		}).
		WithMaxRetries(p.maxRetries).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[*provider.RawResponse]) time.Duration {
			return p.retryDelay * time.Duration(exec.Attempts())
		}).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*provider.RawResponse]) {
			slog.Warn("retrying upstream request", "attempt", e.Attempts(), "err", e.LastError())
		}).
		Build()

	resp, err := failsafe.With(policy).WithContext(ctx).Get(func() (*provider.RawResponse, error) {
		return p.post(ctx, payload, cookies, limit)
	})
	if err != nil {
		if isTransportError(err) {
			return nil, fmt.Errorf("%w: %w", provider.ErrUpstreamTransport, err)
		}
		return nil, err
	}
	return resp, nil
}

func (p *Provider) post(ctx context.Context, payload []byte, cookies models.CookieSet, limit int64) (*provider.RawResponse, error) {
	httpReq, err := p.newRequest(ctx, payload, cookies)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := upstream.ReadBody(resp, limit)
	if err != nil {
		return nil, err
	}
	return &provider.RawResponse{StatusCode: resp.StatusCode, Text: string(data)}, nil
}

func (p *Provider) newRequest(ctx context.Context, payload []byte, cookies models.CookieSet) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	upstream.SetBrowserHeaders(req.Header, p.baseURL, true)
	upstream.AttachCookies(req, cookies)
	return req, nil
}

// isTransportError reports connection-level failures worth retrying.
// Cancellation and HTTP status failures are never retried.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) && !isNetTimeout(err) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
