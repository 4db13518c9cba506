package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"akash-router/internal/config"
	"akash-router/internal/logging"
)

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "akash-router",
		Short: "OpenAI-compatible proxy for Akash chat",
		Long: `akash-router exposes an OpenAI-compatible API in front of the Akash chat
service and keeps its browser-challenge cookies valid in the background.

Configuration is read from an optional YAML file, a .env file in the working
directory and the environment, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		newServeCommand(&cfgPath),
		newCookiesCommand(&cfgPath),
		newModelsCommand(&cfgPath),
	)
	return root
}

// loadConfig reads configuration and installs the logger. The closer flushes
// the optional log file.
func loadConfig(path string) (config.Config, io.Closer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	_, closer := logging.Setup(cfg.Log)
	return cfg, closer, nil
}
