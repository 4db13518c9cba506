package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"akash-router/internal/config"
	"akash-router/internal/cookies"
	providerfactory "akash-router/internal/provider/factory"
	"akash-router/internal/server"
	"akash-router/internal/worker"
)

func newServeCommand(cfgPath *string) *cobra.Command {
	var (
		overridePort int
		overrideHost string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = overrideHost
			}

			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port from configuration")
	cmd.Flags().StringVar(&overrideHost, "host", "", "override listen host from configuration")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logConfigSummary(cfg)

	stack, err := providerfactory.Build(cfg, providerfactory.Options{})
	if err != nil {
		return err
	}

	if err := cookies.Bootstrap(ctx, stack.Cookies, stack.Files); err != nil {
		slog.Warn("starting without valid cookies; requests will retry the refresh chain", "err", err)
	}

	found := stack.Directory.Refresh(ctx)
	slog.Info("model directory ready", "models", len(found), "source", stack.Directory.Source())

	srv, err := server.New(cfg, stack.Router)
	if err != nil {
		return err
	}

	cookieTask := worker.NewPeriodic("cookie-refresh", cfg.Cookies.RefreshInterval, stack.Cookies.RefreshInBackground)
	modelTask := worker.NewPeriodic("model-refresh", cfg.Upstream.ModelsRefresh, func(ctx context.Context) {
		stack.Directory.RefreshInBackground(ctx)
	})
	cookieTask.Start(ctx)
	modelTask.Start(ctx)
	defer modelTask.Stop()
	defer cookieTask.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.Cookies.Watch {
		g.Go(func() error {
			if err := cookies.WatchFile(gctx, stack.Cookies, stack.Files); err != nil {
				slog.Warn("cookie file watcher stopped", "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func logConfigSummary(cfg config.Config) {
	slog.Info("configuration",
		"listen", cfg.Address(),
		"chat_url", cfg.Upstream.ChatURL,
		"session_url", cfg.Upstream.SessionURL,
		"models_script_url", cfg.Upstream.ModelsScriptURL,
		"default_model", cfg.Upstream.DefaultModel,
		"timeout", cfg.Upstream.Timeout,
		"max_retries", cfg.Upstream.MaxRetries,
		"retry_delay", cfg.Upstream.RetryDelay,
		"cookie_file", cfg.Cookies.File,
		"cookie_expiry", cfg.Cookies.ExpiryThreshold,
		"cookie_refresh", cfg.Cookies.RefreshInterval,
		"challenge_helper", cfg.Challenge.Command != "",
		"cookie_prompt", cfg.Cookies.Prompt,
		"stream_chunk_size", cfg.Stream.ChunkSize,
	)
}
