// Package catalog discovers the upstream's model list and resolves the
// names clients send to canonical upstream ids.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"akash-router/internal/models"
	"akash-router/internal/upstream"
)

// DefaultKey is the mapping entry used when a requested model is unknown.
const DefaultKey = "default"

const maxScriptBytes = 16 << 20

// DefaultAliases maps short names to canonical ids.
var DefaultAliases = map[string]string{
	"qwen-3":       "Qwen3-235B-A22B-FP8",
	"llama-4":      "meta-llama-Llama-4-Maverick-17B-128E-Instruct-FP8",
	"llama-3-3":    "nvidia-Llama-3-3-Nemotron-Super-49B-v1",
	"qwen-qwq":     "Qwen-QwQ-32B",
	"llama-3-70b":  "Meta-Llama-3-3-70B-Instruct",
	"deepseek":     "DeepSeek-R1",
	"llama-3-405b": "Meta-Llama-3-1-405B-Instruct-FP8",
}

// BuildMapping derives the lookup table for descriptors. Canonical ids map to
// themselves, an alias is kept only when its target is present, and
// DefaultKey points at defaultModel when present or the first descriptor
// otherwise. extra aliases are layered over DefaultAliases.
func BuildMapping(descriptors []models.ModelDescriptor, defaultModel string, extra map[string]string) map[string]string {
	mapping := make(map[string]string, len(descriptors)+len(DefaultAliases)+1)
	for _, d := range descriptors {
		mapping[d.ID] = d.ID
	}

	addAliases := func(aliases map[string]string) {
		for alias, target := range aliases {
			if _, ok := mapping[target]; !ok || mapping[target] != target {
				continue
			}
			if existing, ok := mapping[alias]; ok && existing == alias {
				// never shadow a canonical id
				continue
			}
			mapping[alias] = target
		}
	}
	addAliases(DefaultAliases)
	addAliases(extra)

	switch {
	case mapping[defaultModel] == defaultModel && defaultModel != "":
		mapping[DefaultKey] = defaultModel
	case len(descriptors) > 0:
		mapping[DefaultKey] = descriptors[0].ID
	}
	return mapping
}

// Options configures a Directory.
type Options struct {
	ScriptURL    string
	BaseURL      string
	DefaultModel string
	Aliases      map[string]string
	Strategies   []Strategy
}

// Directory owns the current model list and its mapping. Both are replaced
// together on every refresh; readers get copies.
type Directory struct {
	client *http.Client
	opts   Options

	mu          sync.RWMutex
	descriptors []models.ModelDescriptor
	mapping     map[string]string
	source      string
}

// New returns a directory seeded with the built-in list so lookups work
// before the first refresh.
func New(client *http.Client, opts Options) *Directory {
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies
	}
	d := &Directory{client: client, opts: opts}
	d.replace(Fallback(), "fallback")
	return d
}

// Refresh fetches the script asset and rebuilds the directory. It never
// fails: a fetch error or an unrecognised asset yields the built-in list.
func (d *Directory) Refresh(ctx context.Context) []models.ModelDescriptor {
	script, err := d.fetch(ctx)
	var (
		found  []models.ModelDescriptor
		source string
	)
	if err != nil {
		slog.Warn("model script fetch failed; using built-in list", "url", d.opts.ScriptURL, "err", err)
		found, source = Fallback(), "fallback"
	} else {
		found, source = Extract(script, d.opts.Strategies)
	}

	d.replace(found, source)
	slog.Info("model directory refreshed", "models", len(found), "source", source)
	return d.Models()
}

// RefreshInBackground adapts Refresh to a periodic task.
func (d *Directory) RefreshInBackground(ctx context.Context) {
	d.Refresh(ctx)
}

func (d *Directory) replace(found []models.ModelDescriptor, source string) {
	mapping := BuildMapping(found, d.opts.DefaultModel, d.opts.Aliases)

	d.mu.Lock()
	d.descriptors = found
	d.mapping = mapping
	d.source = source
	d.mu.Unlock()
}

func (d *Directory) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.opts.ScriptURL, nil)
	if err != nil {
		return "", fmt.Errorf("construct model script request: %w", err)
	}
	upstream.SetBrowserHeaders(req.Header, d.opts.BaseURL, false)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch model script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch model script: status %d", resp.StatusCode)
	}

	body, err := upstream.ReadBody(resp, maxScriptBytes)
	if err != nil {
		return "", fmt.Errorf("read model script: %w", err)
	}
	return string(body), nil
}

// Models returns a copy of the current descriptors.
func (d *Directory) Models() []models.ModelDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.ModelDescriptor, len(d.descriptors))
	copy(out, d.descriptors)
	return out
}

// Source names the strategy that produced the current list.
func (d *Directory) Source() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.source
}

// Lookup resolves name through the mapping without falling back.
func (d *Directory) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.mapping[name]
	return id, ok
}

// Resolve maps a requested model to a canonical id: exact ids and aliases
// resolve directly, anything else goes to the default entry.
func (d *Directory) Resolve(name string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.mapping[name]; ok {
		return id
	}
	return d.mapping[DefaultKey]
}

// Mapping returns a copy of the alias table.
func (d *Directory) Mapping() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.mapping))
	for k, v := range d.mapping {
		out[k] = v
	}
	return out
}
