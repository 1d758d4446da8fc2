package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SourceKind classifies a source adapter. The kind determines merge precedence.
type SourceKind string

const (
	SourceKindAPI     SourceKind = "api"     // Structured API, authoritative and freshest
	SourceKindLegacy  SourceKind = "legacy"  // Legacy form-based report system (scraped)
	SourceKindArchive SourceKind = "archive" // Historical archives (supplementary)
)

// Rank returns the precedence rank of the kind. Lower ranks win field conflicts.
func (k SourceKind) Rank() int {
	switch k {
	case SourceKindAPI:
		return 0
	case SourceKindLegacy:
		return 1
	case SourceKindArchive:
		return 2
	default:
		return 3
	}
}

// Valid reports whether k is one of the known kinds.
func (k SourceKind) Valid() bool {
	return k.Rank() < 3
}

// LifecycleState is the classified state of a claim as of a given date.
// The zero value is LifecycleUnknown, so a Claim always carries a defined state.
type LifecycleState int

const (
	LifecycleUnknown   LifecycleState = 0
	LifecycleActive    LifecycleState = 1
	LifecycleExpired   LifecycleState = 2
	LifecycleAbandoned LifecycleState = 3
)

// AllLifecycleStates lists every state in reporting order.
var AllLifecycleStates = []LifecycleState{
	LifecycleActive,
	LifecycleExpired,
	LifecycleAbandoned,
	LifecycleUnknown,
}

func (s LifecycleState) String() string {
	switch s {
	case LifecycleActive:
		return "active"
	case LifecycleExpired:
		return "expired"
	case LifecycleAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ParseLifecycleState parses a state name. Unrecognized names map to LifecycleUnknown.
func ParseLifecycleState(s string) LifecycleState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return LifecycleActive
	case "expired":
		return LifecycleExpired
	case "abandoned":
		return LifecycleAbandoned
	default:
		return LifecycleUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LifecycleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LifecycleState) UnmarshalText(text []byte) error {
	*s = ParseLifecycleState(string(text))
	return nil
}

// CRS84 is the coordinate reference system used for all exported geometry (lon/lat, WGS84).
const CRS84 = "EPSG:4326"

// Geometry is a GeoJSON geometry with its coordinate reference system.
// Coordinates are kept as compact JSON so values compare byte-for-byte.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	CRS         string          `json:"-"`
}

// String renders the geometry in a stable textual form used for comparison.
func (g *Geometry) String() string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("%s%s", g.Type, string(g.Coordinates))
}

// ProvenanceEntry records one source contribution to a Claim.
type ProvenanceEntry struct {
	SourceID    string     `json:"source_id"`
	SourceKind  SourceKind `json:"source_kind"`
	NativeKey   string     `json:"native_key,omitempty"`
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// Conflict marks a field where equal-precedence, equal-recency sources disagreed.
type Conflict struct {
	Field   string   `json:"field"`
	Values  []string `json:"values"`
	Sources []string `json:"sources"`
	Chosen  string   `json:"chosen"`
}

// Claim is the canonical record for a single mining claim.
type Claim struct {
	ClaimID      string `json:"claim_id"`
	Jurisdiction string `json:"jurisdiction"`

	Claimant   string `json:"claimant,omitempty"`
	ClaimName  string `json:"claim_name,omitempty"`
	ClaimType  string `json:"claim_type,omitempty"`
	County     string `json:"county,omitempty"`
	StatusCode string `json:"status_code,omitempty"`

	// Public Land Survey System location and claim extent.
	Township  string   `json:"township,omitempty"`
	Range     string   `json:"range,omitempty"`
	Section   string   `json:"section,omitempty"`
	Meridian  string   `json:"meridian,omitempty"`
	Acreage   *float64 `json:"acreage,omitempty"`
	Commodity string   `json:"commodity,omitempty"`

	Location *Geometry `json:"location,omitempty"`

	FiledDate      *time.Time `json:"filed_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	FeePaidThrough *time.Time `json:"fee_paid_through,omitempty"`

	Lifecycle       LifecycleState `json:"lifecycle_state"`
	LifecycleReason string         `json:"lifecycle_reason,omitempty"`

	Provenance []ProvenanceEntry `json:"provenance"`
	Conflicts  []Conflict        `json:"conflicts,omitempty"`
}

// NeedsReview reports whether the claim carries a conflict marker.
func (c *Claim) NeedsReview() bool {
	return len(c.Conflicts) > 0
}

// Date returns t truncated to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders an optional date as YYYY-MM-DD, or "" when absent.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
