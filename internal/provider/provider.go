package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"akash-router/internal/models"
)

// ErrUnknownModel indicates the requested model could not be resolved.
var ErrUnknownModel = errors.New("unknown model")

// ErrUpstreamTransport wraps connection-level failures that survived every retry.
var ErrUpstreamTransport = errors.New("upstream transport failure")

// StatusError is an upstream application failure: a response other than 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, body)
}

// RawResponse is an upstream reply returned without interpretation.
type RawResponse struct {
	StatusCode int    `json:"status_code"`
	Text       string `json:"text"`
}

// Provider defines the behaviour required to talk to the chat upstream.
type Provider interface {
	Name() string
	// Chat returns the complete upstream body of a non-streaming call.
	Chat(ctx context.Context, req models.UpstreamRequest, cookies models.CookieSet) (string, error)
	// ChatStream returns the decoded live body; the caller must close it.
	ChatStream(ctx context.Context, req models.UpstreamRequest, cookies models.CookieSet) (io.ReadCloser, error)
	// Raw posts payload verbatim and reports whatever came back.
	Raw(ctx context.Context, payload []byte, cookies models.CookieSet) (*RawResponse, error)
}
