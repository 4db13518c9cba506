// Package factory assembles the runtime object graph from configuration.
package factory

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"akash-router/internal/catalog"
	"akash-router/internal/config"
	"akash-router/internal/cookies"
	"akash-router/internal/models"
	"akash-router/internal/provider/akash"
	"akash-router/internal/router"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Stack is everything a command needs to talk to the upstream.
type Stack struct {
	Files     *cookies.FileStore
	Refresher *cookies.Refresher
	Cookies   *cookies.Manager
	Directory *catalog.Directory
	Provider  *akash.Provider
	Router    *router.Router
}

// Options tweaks construction for callers other than the server.
type Options struct {
	// Interactive enables the terminal prompt tier regardless of configuration.
	Interactive bool
}

// Build constructs the cookie chain, the model directory, the upstream
// provider and the router.
func Build(cfg config.Config, opts Options) (*Stack, error) {
	client := newHTTPClient(cfg.Upstream.Timeout, 0)
	streamClient := newHTTPClient(0, cfg.Upstream.Timeout)

	files := cookies.NewFileStore(cfg.Cookies.File, cfg.Cookies.ExpiryThreshold)
	prober := cookies.NewSessionProber(client, cfg.Upstream.SessionURL, cfg.Upstream.BaseURL)

	refresherOpts := cookies.RefresherOptions{
		Manual:     manualSources(cfg, opts),
		LandingURL: cfg.Upstream.BaseURL,
	}
	if solver := cookies.NewCommandSolver(cfg.Challenge.Command, cfg.Challenge.InitialWait, cfg.Challenge.PollInterval, cfg.Challenge.MaxWait); solver != nil {
		refresherOpts.Solver = solver
		refresherOpts.SolveTimeout = solver.Budget()
	}
	refresher := cookies.NewRefresher(files, prober, refresherOpts)
	manager := cookies.NewManager(cookies.NewStore(), refresher.Refresh)

	directory := catalog.New(client, catalog.Options{
		ScriptURL:    cfg.Upstream.ModelsScriptURL,
		BaseURL:      cfg.Upstream.BaseURL,
		DefaultModel: cfg.Upstream.DefaultModel,
		Aliases:      cfg.Upstream.Aliases,
	})

	upstreamProvider, err := akash.New(client, streamClient, akash.Options{
		ChatURL:    cfg.Upstream.ChatURL,
		BaseURL:    cfg.Upstream.BaseURL,
		MaxRetries: cfg.Upstream.MaxRetries,
		RetryDelay: cfg.Upstream.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise akash provider: %w", err)
	}

	return &Stack{
		Files:     files,
		Refresher: refresher,
		Cookies:   manager,
		Directory: directory,
		Provider:  upstreamProvider,
		Router:    router.New(upstreamProvider, directory, manager),
	}, nil
}

// manualSources returns the operator tiers: configured values first, then
// the terminal prompt when enabled.
func manualSources(cfg config.Config, opts Options) []cookies.Source {
	sources := []cookies.Source{
		cookies.NewStaticSource(models.CookieSet{
			models.CookieClearance:    cfg.Cookies.Clearance,
			models.CookieSession:      cfg.Cookies.Session,
			models.CookieAnalytics:    cfg.Cookies.Analytics,
			models.CookieAnalyticsTag: cfg.Cookies.AnalyticsTag,
		}),
	}
	if cfg.Cookies.Prompt || opts.Interactive {
		sources = append(sources, cookies.NewPromptSource(os.Stdin, os.Stderr, cfg.Upstream.BaseURL))
	}
	return sources
}

// newHTTPClient returns a client with a tuned transport. timeout bounds the
// whole exchange; headerTimeout only bounds the wait for response headers,
// which suits streams whose bodies may run for minutes.
func newHTTPClient(timeout, headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
