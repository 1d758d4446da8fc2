package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Summarize writes a narrative of a run restricted to the allowed claim ids
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// SummarizeRequest contains the input for a run narrative
type SummarizeRequest struct {
	// Summary is the finished run summary
	Summary model.RunSummary

	// ClaimIDs is the STRICT allowlist of claim ids the narrative may cite.
	// Any other id-shaped token in the response is treated as a fabrication.
	ClaimIDs []string

	// Prompt overrides the default prompt when set
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// SummarizeResponse contains the LLM's narrative
type SummarizeResponse struct {
	Summary    string
	CitedIDs   []string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai" or "" (disabled)
	Provider string

	Model   string
	APIKey  string
	BaseURL string // OpenAI-compatible endpoint, e.g. a local gateway

	Timeout int // seconds

	// StrictCitations rejects narratives citing claim ids outside the allowlist
	StrictCitations bool

	MaxTokens int

	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:        "", // Disabled by default
		Timeout:         30,
		StrictCitations: true,
		MaxTokens:       800,
	}
}

// maxPromptIDs bounds the allowlist rendered into the prompt.
const maxPromptIDs = 40

// BuildPrompt constructs the default prompt for a run narrative.
func BuildPrompt(summary model.RunSummary, claimIDs []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are summarizing a lodeclaim run. lodeclaim reconciles mining claim records from several public sources and classifies each claim's lifecycle state. It reports what the sources say; it NEVER asserts legal title or validity.

CRITICAL RULES:
1. You may ONLY mention claim ids from this allowed list:
%s

2. DO NOT invent claim ids, claimants, locations or numbers not given below.
3. If a source failed, say so plainly; do not guess what it would have contained.
4. Describe coverage and data quality, not the merits of any claim.

Run:
- Jurisdiction: %s
- As of: %s
- Status: %s
- Raw records: %d (malformed fields dropped: %d)
- Reconciled claims: %d
- Unresolved records: %d
- Claims needing review (conflicting sources): %d

Sources:
`, joinIDs(claimIDs), summary.Jurisdiction, summary.AsOf.Format("2006-01-02"), summary.Status,
		summary.RawRecords, summary.MalformedFields, summary.Merged, summary.Unresolved, summary.Conflicted)

	for _, o := range summary.Sources {
		line := fmt.Sprintf("- %s (%s): %s, %d records", o.SourceID, o.Kind, o.Status, o.Records)
		if o.ErrorKind != "" {
			line += fmt.Sprintf(", error %s", o.ErrorKind)
		}
		if o.FromCache {
			line += ", served from cache"
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\nLifecycle distribution:\n")
	for _, state := range model.AllLifecycleStates {
		fmt.Fprintf(&b, "- %s: %d\n", state, summary.Lifecycle[state.String()])
	}

	if len(summary.Exports) > 0 {
		b.WriteString("\nExports:\n")
		for _, e := range summary.Exports {
			status := "ok"
			if e.Error != "" {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s: %s, %d rows\n", e.Sink, status, e.Rows)
		}
	}

	b.WriteString("\nWrite a 4-6 sentence Markdown summary of coverage, source health and review workload.")
	return b.String()
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "(No claim ids may be cited)"
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var b strings.Builder
	for i, id := range sorted {
		if i >= maxPromptIDs {
			fmt.Fprintf(&b, "\n... and %d more ids", len(sorted)-maxPromptIDs)
			break
		}
		b.WriteString("\n- " + id)
	}
	return b.String()
}
