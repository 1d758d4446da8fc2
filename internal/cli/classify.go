package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/lodeclaim/internal/export"
	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/pipeline"
)

var (
	classifyAsOf string
	classifyOut  string
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify <claims.geojson>",
	Short: "Recompute lifecycle states of an exported claim set",
	Long: `Classify re-reads a claims.geojson written by a previous run and recomputes
every claim's lifecycle state for a new reference date. No source is fetched.

The updated claims.geojson and per-state files are written to --out
(default: the directory of the input file).

Example:
  lodeclaim classify ./data/claims.geojson --as-of 2026-01-01
  lodeclaim classify ./data/claims.geojson --as-of 2026-01-01 --out ./what-if`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyAsOf, "as-of", "", "lifecycle reference date YYYY-MM-DD (default today, UTC)")
	classifyCmd.Flags().StringVar(&classifyOut, "out", "", "output directory (default: directory of the input file)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asOf, err := parseAsOf(classifyAsOf)
	if err != nil {
		return err
	}

	in := args[0]
	claims, err := export.ReadGeoJSON(in)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		return fmt.Errorf("%s: %w", in, model.ErrNoClaims)
	}

	out := classifyOut
	if out == "" {
		out = filepath.Dir(in)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	claims, dist := pipeline.Reclassify(claims, cfg.Lifecycle.TerminalStatuses, asOf)

	name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	if cfg.Database.Dataset != "" {
		name = cfg.Database.Dataset
	}
	if err := export.WriteGeoJSON(filepath.Join(out, export.ClaimsFileName), name, claims); err != nil {
		return err
	}
	if _, err := export.WriteStateFiles(out, name, claims); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Reclassified %d claims as of %s\n", len(claims), asOf.Format("2006-01-02"))
	fmt.Fprintf(os.Stderr, "Lifecycle: %s\n", dist)
	fmt.Fprintf(os.Stderr, "Written to %s\n", out)
	return nil
}
