package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"akash-router/internal/catalog"
	providerfactory "akash-router/internal/provider/factory"
	"akash-router/internal/translator"
)

func newModelsCommand(cfgPath *string) *cobra.Command {
	var (
		asJSON      bool
		showAliases bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Discover and print the upstream model directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			stack, err := providerfactory.Build(cfg, providerfactory.Options{})
			if err != nil {
				return err
			}
			stack.Directory.Refresh(cmd.Context())

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(translator.FromDescriptors(stack.Directory.Models(), time.Now()))
			}
			return printDirectory(out, stack.Directory, showAliases)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the /v1/models response body")
	cmd.Flags().BoolVar(&showAliases, "aliases", false, "also print the alias table")
	return cmd
}

func printDirectory(w io.Writer, dir *catalog.Directory, showAliases bool) error {
	fmt.Fprintf(w, "source: %s\n\n", dir.Source())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
	for _, m := range dir.Models() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Name, m.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !showAliases {
		return nil
	}

	mapping := dir.Mapping()
	names := make([]string, 0, len(mapping))
	for name, target := range mapping {
		if name != target {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ALIAS\tMODEL")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, mapping[name])
	}
	return tw.Flush()
}
