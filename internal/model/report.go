package model

import "time"

// FetchStatus is the per-source result of a fetch phase.
type FetchStatus string

const (
	FetchOK      FetchStatus = "ok"      // Fetched and parsed (possibly zero records)
	FetchError   FetchStatus = "error"   // Failed after retries, or at the deadline
	FetchSkipped FetchStatus = "skipped" // Not needed (fallback unused) or not selected
)

// FetchOutcome records what happened to one source during a run.
type FetchOutcome struct {
	SourceID    string         `json:"source_id"`
	Kind        SourceKind     `json:"kind"`
	Status      FetchStatus    `json:"status"`
	ErrorKind   FetchErrorKind `json:"error_kind,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Records     int            `json:"records"`
	Attempts    int            `json:"attempts"`
	FromCache   bool           `json:"from_cache,omitempty"`
	RetrievedAt time.Time      `json:"retrieved_at,omitzero"`
	Duration    time.Duration  `json:"duration_ns"`
}

// OK reports whether the source produced a usable payload.
func (o FetchOutcome) OK() bool {
	return o.Status == FetchOK
}

// ExportOutcome records the result of one export sink.
type ExportOutcome struct {
	Sink   string `json:"sink"`
	Target string `json:"target"`
	Rows   int    `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// RunStatus is the overall result of a pipeline run.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial" // Claims produced but an export sink failed
	RunFailed  RunStatus = "failed"  // No claims at all
)

// RunSummary is produced by every run regardless of partial failures.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Jurisdiction string    `json:"jurisdiction"`
	AsOf         time.Time `json:"as_of"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       RunStatus `json:"status"`

	Sources []FetchOutcome `json:"sources"`

	RawRecords      int `json:"raw_records"`
	MalformedFields int `json:"malformed_fields"`
	Merged          int `json:"merged_claims"`
	Unresolved      int `json:"unresolved"`
	Conflicted      int `json:"conflicted"`

	Lifecycle map[string]int `json:"lifecycle"`

	Exports []ExportOutcome `json:"exports,omitempty"`

	LLM *LLMSummary `json:"llm,omitempty"`
}

// LLMSummary contains the optional narrative of a run.
// It is generated after classification and never feeds back into any result.
type LLMSummary struct {
	Enabled         bool     `json:"enabled"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	StrictCitations bool     `json:"strict_citations"`
	SummaryMD       string   `json:"summary_md,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}
