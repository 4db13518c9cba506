package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"akash-router/internal/models"
	"akash-router/internal/provider"
	"akash-router/internal/translator"
)

// CookieSource yields a usable cookie set, refreshing when needed.
// GetCookies returns whatever is held right now without refreshing.
type CookieSource interface {
	EnsureValid(ctx context.Context) (models.CookieSet, error)
	GetCookies() models.CookieSet
}

// Directory resolves inbound model names and lists the known models.
type Directory interface {
	Resolve(name string) string
	Models() []models.ModelDescriptor
}

// Overrides carries per-request cookie values supplied by the caller.
type Overrides struct {
	SessionToken string
	Clearance    string
}

func (o Overrides) set() models.CookieSet {
	set := models.CookieSet{}
	if o.SessionToken != "" {
		set[models.CookieSession] = o.SessionToken
	}
	if o.Clearance != "" {
		set[models.CookieClearance] = o.Clearance
	}
	return set
}

// Router turns inbound requests into upstream calls.
type Router struct {
	provider  provider.Provider
	directory Directory
	cookies   CookieSource
	now       func() time.Time
}

// New constructs a router over the upstream provider.
func New(p provider.Provider, directory Directory, cookies CookieSource) *Router {
	return &Router{
		provider:  p,
		directory: directory,
		cookies:   cookies,
		now:       time.Now,
	}
}

// Chat runs a non-streaming completion and translates the upstream body.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest, ov Overrides) (openai.ChatCompletionResponse, error) {
	upstreamReq, err := r.prepare(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	set, err := r.cookiesFor(ctx, ov)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	body, err := r.provider.Chat(ctx, upstreamReq, set)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("provider %s chat request: %w", r.provider.Name(), err)
	}
	return translator.FromUpstream(body, upstreamReq.Model), nil
}

// ChatStream opens a streaming completion. It returns the live upstream body
// and the resolved model id the chunks should carry.
func (r *Router) ChatStream(ctx context.Context, req models.ChatRequest, ov Overrides) (io.ReadCloser, string, error) {
	upstreamReq, err := r.prepare(req)
	if err != nil {
		return nil, "", err
	}

	set, err := r.cookiesFor(ctx, ov)
	if err != nil {
		return nil, upstreamReq.Model, err
	}

	body, err := r.provider.ChatStream(ctx, upstreamReq, set)
	if err != nil {
		return nil, upstreamReq.Model, fmt.Errorf("provider %s stream request: %w", r.provider.Name(), err)
	}
	return body, upstreamReq.Model, nil
}

// Debug forwards payload to the upstream chat endpoint unchanged.
func (r *Router) Debug(ctx context.Context, payload []byte, ov Overrides) (*provider.RawResponse, error) {
	set, err := r.cookiesFor(ctx, ov)
	if err != nil {
		return nil, err
	}
	return r.provider.Raw(ctx, payload, set)
}

// Models lists the directory in the OpenAI envelope.
func (r *Router) Models() translator.ModelList {
	return translator.FromDescriptors(r.directory.Models(), r.now())
}

func (r *Router) prepare(req models.ChatRequest) (models.UpstreamRequest, error) {
	upstreamReq := translator.ToUpstream(req, r.directory)
	if upstreamReq.Model == "" {
		return models.UpstreamRequest{}, fmt.Errorf("%w: %q", provider.ErrUnknownModel, req.Model)
	}
	if upstreamReq.Model != req.Model {
		slog.Debug("resolved model", "requested", req.Model, "model", upstreamReq.Model)
	}
	return upstreamReq, nil
}

// cookiesFor returns the shared set with any overrides applied on top. A
// complete override set is used without touching the refresh chain; the
// shared set only contributes the analytics cookies it already holds.
func (r *Router) cookiesFor(ctx context.Context, ov Overrides) (models.CookieSet, error) {
	override := ov.set()
	if override.Complete() {
		return r.cookies.GetCookies().Merge(override), nil
	}

	set, err := r.cookies.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return set.Merge(override), nil
}
