package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"akash-router/internal/cookies"
	"akash-router/internal/models"
	"akash-router/internal/provider"
)

type fakeProvider struct {
	body     string
	err      error
	gotReq   models.UpstreamRequest
	gotSet   models.CookieSet
	gotRaw   []byte
	rawReply *provider.RawResponse
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(_ context.Context, req models.UpstreamRequest, set models.CookieSet) (string, error) {
	f.gotReq, f.gotSet = req, set
	return f.body, f.err
}

func (f *fakeProvider) ChatStream(_ context.Context, req models.UpstreamRequest, set models.CookieSet) (io.ReadCloser, error) {
	f.gotReq, f.gotSet = req, set
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeProvider) Raw(_ context.Context, payload []byte, set models.CookieSet) (*provider.RawResponse, error) {
	f.gotRaw, f.gotSet = payload, set
	return f.rawReply, f.err
}

type fakeCookies struct {
	set     models.CookieSet
	err     error
	ensured int
}

func (f *fakeCookies) EnsureValid(context.Context) (models.CookieSet, error) {
	f.ensured++
	return f.set.Clone(), f.err
}

func (f *fakeCookies) GetCookies() models.CookieSet {
	return f.set.Clone()
}

type fakeDirectory map[string]string

func (d fakeDirectory) Resolve(name string) string {
	if id, ok := d[name]; ok {
		return id
	}
	return d["default"]
}

func (d fakeDirectory) Models() []models.ModelDescriptor {
	return []models.ModelDescriptor{{ID: "DeepSeek-R1"}, {ID: "Qwen3"}}
}

var (
	directory = fakeDirectory{"deepseek": "DeepSeek-R1", "DeepSeek-R1": "DeepSeek-R1", "default": "DeepSeek-R1"}
	storeSet  = models.CookieSet{models.CookieClearance: "store-clear", models.CookieSession: "store-sess", models.CookieAnalytics: "ga"}
)

func chatRequest(model string) models.ChatRequest {
	return models.ChatRequest{
		Model:       model,
		Messages:    []models.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
		TopP:        1,
	}
}

func TestChatResolvesModelAndTranslates(t *testing.T) {
	p := &fakeProvider{body: "0:\"<think>x</think>Hi\"\nd:{\"finishReason\":\"stop\"}\n"}
	r := New(p, directory, &fakeCookies{set: storeSet})

	resp, err := r.Chat(context.Background(), chatRequest("deepseek"), Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if p.gotReq.Model != "DeepSeek-R1" || resp.Model != "DeepSeek-R1" {
		t.Fatalf("model = %q / %q", p.gotReq.Model, resp.Model)
	}
	if resp.Choices[0].Message.Content != "Hi" {
		t.Fatalf("content = %q", resp.Choices[0].Message.Content)
	}
	if p.gotSet[models.CookieSession] != "store-sess" {
		t.Fatalf("cookies = %v", p.gotSet)
	}
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	p := &fakeProvider{body: "0:\"x\"\n"}
	r := New(p, directory, &fakeCookies{set: storeSet})

	if _, err := r.Chat(context.Background(), chatRequest("gpt-4o"), Overrides{}); err != nil {
		t.Fatal(err)
	}
	if p.gotReq.Model != "DeepSeek-R1" {
		t.Fatalf("model = %q, want default", p.gotReq.Model)
	}
}

func TestNoResolvableModel(t *testing.T) {
	r := New(&fakeProvider{}, fakeDirectory{}, &fakeCookies{set: storeSet})
	_, err := r.Chat(context.Background(), chatRequest("anything"), Overrides{})
	if !errors.Is(err, provider.ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	p := &fakeProvider{body: "0:\"x\"\n"}
	r := New(p, directory, &fakeCookies{set: storeSet})

	_, err := r.Chat(context.Background(), chatRequest("deepseek"), Overrides{SessionToken: "req-sess"})
	if err != nil {
		t.Fatal(err)
	}
	if p.gotSet[models.CookieSession] != "req-sess" || p.gotSet[models.CookieClearance] != "store-clear" || p.gotSet[models.CookieAnalytics] != "ga" {
		t.Fatalf("cookies = %v", p.gotSet)
	}
}

func TestCompleteOverridesSurviveStoreFailure(t *testing.T) {
	p := &fakeProvider{body: "0:\"x\"\n"}
	r := New(p, directory, &fakeCookies{err: cookies.ErrNoCookies})

	if _, err := r.Chat(context.Background(), chatRequest("deepseek"), Overrides{SessionToken: "s"}); !errors.Is(err, cookies.ErrNoCookies) {
		t.Fatalf("partial overrides: err = %v, want ErrNoCookies", err)
	}

	_, err := r.Chat(context.Background(), chatRequest("deepseek"), Overrides{SessionToken: "s", Clearance: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !p.gotSet.Complete() || len(p.gotSet) != 2 {
		t.Fatalf("cookies = %v", p.gotSet)
	}
}

func TestCompleteOverridesSkipRefresh(t *testing.T) {
	tests := []struct {
		name  string
		store models.CookieSet
		want  models.CookieSet
	}{
		{
			name:  "empty store",
			store: nil,
			want:  models.CookieSet{models.CookieSession: "s", models.CookieClearance: "c"},
		},
		{
			name:  "store extras kept",
			store: storeSet,
			want: models.CookieSet{
				models.CookieSession:   "s",
				models.CookieClearance: "c",
				models.CookieAnalytics: "ga",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{body: "0:\"x\"\n"}
			src := &fakeCookies{set: tt.store, err: cookies.ErrNoCookies}
			r := New(p, directory, src)

			_, err := r.Chat(context.Background(), chatRequest("deepseek"), Overrides{SessionToken: "s", Clearance: "c"})
			if err != nil {
				t.Fatal(err)
			}
			if src.ensured != 0 {
				t.Fatalf("EnsureValid called %d times, want 0", src.ensured)
			}
			for k, v := range tt.want {
				if p.gotSet[k] != v {
					t.Fatalf("cookies = %v, want %v", p.gotSet, tt.want)
				}
			}
		})
	}
}

func TestChatStreamReturnsResolvedModel(t *testing.T) {
	p := &fakeProvider{body: "0:\"x\"\n"}
	r := New(p, directory, &fakeCookies{set: storeSet})

	body, model, err := r.ChatStream(context.Background(), chatRequest("deepseek"), Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	if model != "DeepSeek-R1" {
		t.Fatalf("model = %q", model)
	}
}

func TestChatStreamWrapsProviderError(t *testing.T) {
	p := &fakeProvider{err: &provider.StatusError{Code: 403, Body: "blocked"}}
	r := New(p, directory, &fakeCookies{set: storeSet})

	_, model, err := r.ChatStream(context.Background(), chatRequest("deepseek"), Overrides{})
	var statusErr *provider.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 403 {
		t.Fatalf("err = %v", err)
	}
	if model != "DeepSeek-R1" {
		t.Fatalf("model = %q, stream errors still need the chunk model", model)
	}
}

func TestDebugForwardsPayload(t *testing.T) {
	p := &fakeProvider{rawReply: &provider.RawResponse{StatusCode: 200, Text: "ok"}}
	r := New(p, directory, &fakeCookies{set: storeSet})

	resp, err := r.Debug(context.Background(), []byte(`{"x":1}`), Overrides{})
	if err != nil {
		t.Fatal(err)
	}
	if string(p.gotRaw) != `{"x":1}` || resp.Text != "ok" {
		t.Fatalf("raw = %s / %+v", p.gotRaw, resp)
	}
}

func TestModels(t *testing.T) {
	r := New(&fakeProvider{}, directory, &fakeCookies{})
	list := r.Models()
	if list.Object != "list" || len(list.Data) != 2 || list.Data[1].ID != "Qwen3" {
		t.Fatalf("models = %+v", list)
	}
}
