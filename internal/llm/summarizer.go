// Package llm generates an optional Markdown narrative of a finished run.
// The narrative is written after every result is final and never feeds back
// into claims, lifecycle states or exports.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Summarizer wraps a provider with graceful degradation: provider failures
// become warnings on the returned summary, never run errors.
type Summarizer struct {
	provider Provider
	config   Config
}

// NewSummarizer creates a summarizer. An empty provider name disables it.
func NewSummarizer(config Config) (*Summarizer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	return &Summarizer{provider: provider, config: config}, nil
}

// IsEnabled reports whether a provider is configured.
func (s *Summarizer) IsEnabled() bool {
	return s != nil && s.provider != nil
}

// ProviderName returns the configured provider name, or "".
func (s *Summarizer) ProviderName() string {
	if !s.IsEnabled() {
		return ""
	}
	return s.provider.Name()
}

// GenerateSummary narrates summary, citing only claimIDs.
func (s *Summarizer) GenerateSummary(ctx context.Context, summary model.RunSummary, claimIDs []string) (*model.LLMSummary, error) {
	if !s.IsEnabled() {
		return nil, nil
	}

	out := &model.LLMSummary{
		Provider:        s.ProviderName(),
		Model:           s.config.Model,
		StrictCitations: s.config.StrictCitations,
	}

	if !s.provider.IsAvailable(ctx) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("LLM provider %s is not available, narrative skipped", out.Provider))
		return out, nil
	}
	out.Enabled = true

	resp, err := s.provider.Summarize(ctx, SummarizeRequest{
		Summary:   summary,
		ClaimIDs:  claimIDs,
		Model:     s.config.Model,
		MaxTokens: s.config.MaxTokens,
	})
	if err != nil {
		out.Warnings = append(out.Warnings, fmt.Sprintf("narrative generation failed: %v", err))
		return out, nil
	}

	out.SummaryMD = resp.Summary
	if resp.Model != "" {
		out.Model = resp.Model
	}
	if resp.TokensUsed > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Tokens used: %d", resp.TokensUsed))
	}
	if s.config.StrictCitations {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Verified %d claim id citations against the run", len(resp.CitedIDs)))
	}
	return out, nil
}

// RenderSeparateMarkdown renders the narrative as a standalone Markdown file.
func RenderSeparateMarkdown(summary *model.LLMSummary) string {
	if summary == nil || !summary.Enabled {
		return ""
	}

	var b strings.Builder
	b.WriteString("# LLM Summary\n\n")
	b.WriteString("> **GENERATED CONTENT.** Claim states, conflicts and counts were determined independently ")
	b.WriteString("by lodeclaim. This narrative is a reading aid only.\n\n")
	fmt.Fprintf(&b, "- **Provider:** %s\n", summary.Provider)
	if summary.Model != "" {
		fmt.Fprintf(&b, "- **Model:** %s\n", summary.Model)
	}
	fmt.Fprintf(&b, "- **Strict Citations:** %t\n\n", summary.StrictCitations)

	if summary.SummaryMD == "" {
		b.WriteString("_No summary generated._\n")
	} else {
		b.WriteString(summary.SummaryMD + "\n")
	}

	if len(summary.Warnings) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, w := range summary.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	return b.String()
}

// ReviewIDs picks the claim ids a narrative may cite: conflicted claims first,
// then the rest in id order, up to limit.
func ReviewIDs(claims []model.Claim, limit int) []string {
	var flagged, rest []string
	for _, c := range claims {
		if c.NeedsReview() {
			flagged = append(flagged, c.ClaimID)
		} else {
			rest = append(rest, c.ClaimID)
		}
	}
	ids := append(flagged, rest...)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
