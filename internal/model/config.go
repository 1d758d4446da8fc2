package model

import "time"

// Config is the complete lodeclaim configuration.
type Config struct {
	Jurisdiction string                   `yaml:"jurisdiction" mapstructure:"jurisdiction"`
	HTTP         HTTPConfig               `yaml:"http" mapstructure:"http"`
	Sources      SourcesConfig            `yaml:"sources" mapstructure:"sources"`
	Fetch        FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	RateLimiting RateLimitConfig          `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig              `yaml:"cache" mapstructure:"cache"`
	Identity     IdentityConfig           `yaml:"identity" mapstructure:"identity"`
	Lifecycle    LifecycleConfig          `yaml:"lifecycle" mapstructure:"lifecycle"`
	Mappings     map[string]SourceMapping `yaml:"mappings,omitempty" mapstructure:"mappings"`
	Output       OutputConfig             `yaml:"output" mapstructure:"output"`
	Database     DatabaseConfig           `yaml:"database" mapstructure:"database"`
	LLM          LLMConfig                `yaml:"llm" mapstructure:"llm"`
}

// HTTPConfig configures the HTTP transport shared by adapters.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// SourcesConfig lists the adapters available to a run.
type SourcesConfig struct {
	API      APISourceConfig       `yaml:"api" mapstructure:"api"`
	Legacy   LegacySourceConfig    `yaml:"legacy" mapstructure:"legacy"`
	Archives []ArchiveSourceConfig `yaml:"archives" mapstructure:"archives"`
}

// APISourceConfig configures the structured JSON API adapter.
type APISourceConfig struct {
	Enabled   bool              `yaml:"enabled" mapstructure:"enabled"`
	ID        string            `yaml:"id" mapstructure:"id"`
	URL       string            `yaml:"url" mapstructure:"url"`
	Query     map[string]string `yaml:"query,omitempty" mapstructure:"query"`
	KeyField  string            `yaml:"key_field" mapstructure:"key_field"`
	APIKeyEnv string            `yaml:"api_key_env,omitempty" mapstructure:"api_key_env"`
}

// Legacy fetch modes.
const (
	LegacyModeFallback = "fallback" // Only when every API source failed
	LegacyModeAlways   = "always"   // Always, as a supplementary source
)

// LegacySourceConfig configures the legacy report-form scraper.
type LegacySourceConfig struct {
	Enabled bool              `yaml:"enabled" mapstructure:"enabled"`
	ID      string            `yaml:"id" mapstructure:"id"`
	URL     string            `yaml:"url" mapstructure:"url"`
	Form    map[string]string `yaml:"form,omitempty" mapstructure:"form"`
	Mode    string            `yaml:"mode" mapstructure:"mode"`
}

// ArchiveSourceConfig configures one historical archive.
type ArchiveSourceConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	ID      string `yaml:"id" mapstructure:"id"`
	URL     string `yaml:"url" mapstructure:"url"`
	Format  string `yaml:"format,omitempty" mapstructure:"format"` // json, csv, html; detected when empty
}

// FetchConfig bounds the fetch phase.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	Offline     bool          `yaml:"offline" mapstructure:"offline"`
}

// RateLimitConfig configures per-host request rate.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// CacheConfig configures the raw payload cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// IdentityConfig configures claim id canonicalization.
// PrefixAliases rewrites a canonical id prefix, e.g. AZMC -> AZ, so that
// systems using different serial prefixes for the same claim agree.
type IdentityConfig struct {
	PrefixAliases map[string]string `yaml:"prefix_aliases,omitempty" mapstructure:"prefix_aliases"`
}

// LifecycleConfig configures the classifier vocabulary.
type LifecycleConfig struct {
	TerminalStatuses []string `yaml:"terminal_statuses" mapstructure:"terminal_statuses"`
}

// OutputConfig configures where run artifacts go.
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DatabaseConfig configures the optional spatial store.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Dataset string `yaml:"dataset" mapstructure:"dataset"`
}

// LLMConfig configures the optional run narrative.
type LLMConfig struct {
	Provider  string `yaml:"provider,omitempty" mapstructure:"provider"`
	Model     string `yaml:"model,omitempty" mapstructure:"model"`
	APIKey    string `yaml:"-" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int    `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FieldRule maps one canonical attribute to native fields and a conversion.
// Fallback is consulted only when no listed field is present.
type FieldRule struct {
	Fields   []string   `yaml:"fields" mapstructure:"fields"`
	Convert  string     `yaml:"convert" mapstructure:"convert"`
	Fallback *FieldRule `yaml:"fallback,omitempty" mapstructure:"fallback"`
}

// Key derivation strategies.
const (
	KeyFromNativeKey = "native_key"
	KeyFromField     = "field"
)

// KeyRule describes how claim_id is derived for a source.
type KeyRule struct {
	From    string   `yaml:"from" mapstructure:"from"`
	Fields  []string `yaml:"fields,omitempty" mapstructure:"fields"`
	Column  *int     `yaml:"column,omitempty" mapstructure:"column"` // col_N positional fallback; unset disables
	Pattern string   `yaml:"pattern,omitempty" mapstructure:"pattern"`
}

// PositionalColumn returns the col_N fallback index, if one is configured.
func (k KeyRule) PositionalColumn() (int, bool) {
	if k.Column == nil || *k.Column < 0 {
		return 0, false
	}
	return *k.Column, true
}

// SourceMapping is the field-mapping table of one source kind.
type SourceMapping struct {
	Key        KeyRule              `yaml:"key" mapstructure:"key"`
	Attributes map[string]FieldRule `yaml:"attributes" mapstructure:"attributes"`
}

// DefaultTerminalStatuses is the built-in closed/abandoned vocabulary.
var DefaultTerminalStatuses = []string{
	"CLOSED",
	"ABANDONED",
	"ABANDONED AND VOID",
	"VOID",
	"NULL AND VOID",
	"DECLARED VOID",
	"FORFEITED",
	"CLOSED BY FORFEITURE",
	"RELINQUISHED",
	"CANCELLED",
	"CANCELED",
}

// DefaultConfig returns the built-in configuration for Arizona claims.
func DefaultConfig() *Config {
	return &Config{
		Jurisdiction: "AZ",
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "lodeclaim/0.1 (+https://github.com/ppiankov/lodeclaim)",
			MaxBodyBytes:  50 << 20,
			RespectRobots: true,
		},
		Sources: SourcesConfig{
			API: APISourceConfig{
				Enabled:   true,
				ID:        "mlrs-api",
				URL:       "https://mlrs.blm.gov/api/v1/mining/claims",
				Query:     map[string]string{"state": "AZ"},
				KeyField:  "blm_case_id",
				APIKeyEnv: "MLRS_API_KEY",
			},
			Legacy: LegacySourceConfig{
				Enabled: true,
				ID:      "lr2000",
				URL:     "https://reports.blm.gov/reports.cfm?application=LR2000",
				Form: map[string]string{
					"state_code":  "04",
					"county_code": "",
					"report_type": "MC_CLAIM_RPT",
					"sort_by":     "CASE_NBR",
				},
				Mode: LegacyModeFallback,
			},
			Archives: []ArchiveSourceConfig{
				{ID: "az-state-library", URL: "https://azlibrary.gov/archives"},
				{ID: "ua-mining-archives", URL: "https://www.library.arizona.edu/archives/miners"},
				{ID: "blm-glo-records", URL: "https://glorecords.blm.gov/"},
			},
		},
		Fetch: FetchConfig{
			Timeout:     5 * time.Minute,
			MaxRetries:  3,
			BackoffBase: time.Second,
			Workers:     4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Lifecycle: LifecycleConfig{
			TerminalStatuses: append([]string(nil), DefaultTerminalStatuses...),
		},
		Output: OutputConfig{
			Dir: "./data",
		},
		Database: DatabaseConfig{
			Dataset: "mining_claims",
		},
		LLM: LLMConfig{
			Timeout:   30,
			MaxTokens: 800,
		},
	}
}
