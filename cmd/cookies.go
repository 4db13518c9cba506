package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"akash-router/internal/config"
	"akash-router/internal/cookies"
	"akash-router/internal/logging"
	"akash-router/internal/models"
	providerfactory "akash-router/internal/provider/factory"
)

func newCookiesCommand(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect or update the upstream cookie file",
	}
	cmd.AddCommand(
		newCookiesShowCommand(cfgPath),
		newCookiesSetCommand(cfgPath),
		newCookiesRefreshCommand(cfgPath),
	)
	return cmd
}

func newCookiesShowCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved cookies (masked) and their freshness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			files := cookies.NewFileStore(cfg.Cookies.File, cfg.Cookies.ExpiryThreshold)
			snap, err := files.Read()
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "no cookie file at %s\n", files.Path())
				return nil
			}
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), cfg, files.Path(), snap, time.Now())
			return nil
		},
	}
}

func newCookiesSetCommand(cfgPath *string) *cobra.Command {
	var values struct {
		clearance, session, ga, gaTag string
	}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save operator-supplied cookies to the cookie file",
		Long: `Save cookies copied from a browser session. Values not given as flags are
asked for on the terminal. A running server picks the new file up when the
cookie watcher is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			set := models.CookieSet{
				models.CookieClearance:    values.clearance,
				models.CookieSession:      values.session,
				models.CookieAnalytics:    values.ga,
				models.CookieAnalyticsTag: values.gaTag,
			}
			var src cookies.Source = cookies.NewStaticSource(set)
			if !set.Complete() {
				src = cookies.NewPromptSource(cmd.InOrStdin(), cmd.ErrOrStderr(), cfg.Upstream.BaseURL)
			}

			got, err := src.Cookies(cmd.Context())
			if err != nil {
				return err
			}

			files := cookies.NewFileStore(cfg.Cookies.File, cfg.Cookies.ExpiryThreshold)
			if err := files.Save(got); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d cookies to %s\n", len(got), files.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&values.clearance, "cf-clearance", "", "cf_clearance cookie value")
	cmd.Flags().StringVar(&values.session, "session-token", "", "session_token cookie value")
	cmd.Flags().StringVar(&values.ga, "ga", "", "_ga cookie value (optional)")
	cmd.Flags().StringVar(&values.gaTag, "ga-tag", "", "_ga_LFRGN2J2RV cookie value (optional)")
	return cmd
}

func newCookiesRefreshCommand(cfgPath *string) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run the cookie refresh chain once and save the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			stack, err := providerfactory.Build(cfg, providerfactory.Options{Interactive: interactive})
			if err != nil {
				return err
			}

			if _, ok := stack.Cookies.Refresh(cmd.Context()); !ok {
				return cookies.ErrNoCookies
			}
			snap := stack.Cookies.Store().Snapshot()
			printSnapshot(cmd.OutOrStdout(), cfg, stack.Files.Path(), snap, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "prompt on the terminal if automated refresh fails")
	return cmd
}

func printSnapshot(w io.Writer, cfg config.Config, path string, snap models.Snapshot, now time.Time) {
	fmt.Fprintf(w, "file:    %s\n", path)
	if !snap.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "updated: %s (%s ago)\n", snap.UpdatedAt.Format(time.RFC3339), now.Sub(snap.UpdatedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "fresh:   %t (threshold %s)\n", snap.Fresh(cfg.Cookies.ExpiryThreshold, now), cfg.Cookies.ExpiryThreshold)
	for _, name := range snap.Cookies.Names() {
		fmt.Fprintf(w, "  %-16s %s\n", name, logging.Mask(snap.Cookies[name]))
	}
	if !snap.Cookies.Complete() {
		fmt.Fprintln(w, "warning: cf_clearance and session_token are both required")
	}
}
