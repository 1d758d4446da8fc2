package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
	logJSON bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lodeclaim",
	Short: "lodeclaim - mining claim ingestion, reconciliation and lifecycle classification",
	Long: `lodeclaim collects mining claim records for one jurisdiction from a structured
API, a legacy report system and historical archives, reconciles them into one
canonical record per claim, and classifies every claim as active, expired,
abandoned or unknown as of a given date.

It reports what the sources say. It does not determine legal title or validity.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lodeclaim %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.lodeclaim/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON instead of text")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".lodeclaim"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configureEnv maps LODECLAIM_FETCH_TIMEOUT to fetch.timeout, and so on.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("LODECLAIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "LODECLAIM_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("database.dsn", "LODECLAIM_DATABASE_DSN", "DATABASE_URL")
}

// loadConfig returns the defaults overlaid with the config file and environment.
func loadConfig() (*model.Config, error) {
	return loadConfigFrom(viper.GetViper())
}

func loadConfigFrom(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()

	// Registering the defaults tells viper every key, so env overrides apply
	// to keys that are absent from the config file.
	defaults, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(defaults, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}
	for key, value := range tree {
		v.SetDefault(key, value)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Jurisdiction == "" {
		return nil, fmt.Errorf("jurisdiction must not be empty")
	}
	return cfg, nil
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if logJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
