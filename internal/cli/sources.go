package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/source"
)

var sourcesArchivesFile string

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources in merge precedence order",
	Long: `List every enabled source adapter in the order a run fetches and merges them.
Disabled archives from the configuration are listed after the enabled sources.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if sourcesArchivesFile != "" {
			archives, err := source.ReadArchiveList(sourcesArchivesFile)
			if err != nil {
				return fmt.Errorf("archives file: %w", err)
			}
			cfg.Sources.Archives = append(cfg.Sources.Archives, archives...)
		}

		registry, err := source.NewRegistryFromConfig(cfg, fetch.New(cfg.HTTP, cfg.Fetch))
		if err != nil {
			return err
		}
		return printSources(cmd.OutOrStdout(), registry, cfg)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().StringVar(&sourcesArchivesFile, "archives-file", "", "file listing extra archive URLs, one per line")
}

func printSources(w io.Writer, registry *source.Registry, cfg *model.Config) error {
	adapters := registry.All()
	source.SortByPrecedence(adapters)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENDPOINT\tNOTES")
	for _, a := range adapters {
		notes := ""
		if legacy, ok := a.(*source.LegacyAdapter); ok {
			notes = "mode=" + legacy.Mode()
			if fields := legacy.FormFields(); len(fields) > 0 {
				notes += " form=" + strings.Join(fields, ",")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID(), a.Kind(), a.Endpoint(), notes)
	}
	for _, archive := range cfg.Sources.Archives {
		if !archive.Enabled {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", archive.ID, model.SourceKindArchive, archive.URL, "disabled")
		}
	}
	return tw.Flush()
}
