// Package lifecycle classifies claims as active, expired, abandoned or unknown
// as of a reference date.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Rule names reported as LifecycleReason.
const (
	ReasonTerminalStatus = "terminal_status"
	ReasonFeeLapsed      = "fee_paid_through_before_as_of"
	ReasonExpired        = "expiration_date_before_as_of"
	ReasonCurrent        = "date_on_or_after_as_of"
	ReasonNoEvidence     = "no_status_or_dates"
)

// Classifier applies the lifecycle decision rules. It is safe for concurrent use.
type Classifier struct {
	terminal map[string]bool
}

// NewClassifier creates a classifier with the given terminal status vocabulary.
// An empty vocabulary uses model.DefaultTerminalStatuses.
func NewClassifier(terminalStatuses []string) *Classifier {
	if len(terminalStatuses) == 0 {
		terminalStatuses = model.DefaultTerminalStatuses
	}
	terminal := make(map[string]bool, len(terminalStatuses))
	for _, s := range terminalStatuses {
		terminal[normalizeStatus(s)] = true
	}
	return &Classifier{terminal: terminal}
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Classify returns the state of c as of asOf and the rule that decided it.
// The first matching rule wins:
//  1. terminal status code -> Abandoned
//  2. fee paid through a day before asOf -> Expired
//  3. expiration date before asOf -> Expired
//  4. either date on or after asOf -> Active
//  5. otherwise -> Unknown
//
// Dates compare as UTC calendar days.
func (cl *Classifier) Classify(c model.Claim, asOf time.Time) (model.LifecycleState, string) {
	day := model.Date(asOf)

	if c.StatusCode != "" && cl.terminal[normalizeStatus(c.StatusCode)] {
		return model.LifecycleAbandoned, ReasonTerminalStatus
	}
	if c.FeePaidThrough != nil && model.Date(*c.FeePaidThrough).Before(day) {
		return model.LifecycleExpired, ReasonFeeLapsed
	}
	if c.ExpirationDate != nil && model.Date(*c.ExpirationDate).Before(day) {
		return model.LifecycleExpired, ReasonExpired
	}
	if c.FeePaidThrough != nil || c.ExpirationDate != nil {
		return model.LifecycleActive, ReasonCurrent
	}
	return model.LifecycleUnknown, ReasonNoEvidence
}

// Distribution counts claims per lifecycle state.
type Distribution map[model.LifecycleState]int

// ByName returns the distribution keyed by state name, with every state present.
func (d Distribution) ByName() map[string]int {
	out := make(map[string]int, len(model.AllLifecycleStates))
	for _, s := range model.AllLifecycleStates {
		out[s.String()] = d[s]
	}
	return out
}

// String renders the distribution in reporting order.
func (d Distribution) String() string {
	parts := make([]string, 0, len(model.AllLifecycleStates))
	for _, s := range model.AllLifecycleStates {
		parts = append(parts, fmt.Sprintf("%s=%d", s, d[s]))
	}
	return strings.Join(parts, " ")
}

// ClassifyAll returns copies of claims with Lifecycle and LifecycleReason set.
// The input slice is not modified.
func (cl *Classifier) ClassifyAll(claims []model.Claim, asOf time.Time) ([]model.Claim, Distribution) {
	out := make([]model.Claim, len(claims))
	dist := make(Distribution, len(model.AllLifecycleStates))
	for _, s := range model.AllLifecycleStates {
		dist[s] = 0
	}

	for i, c := range claims {
		c.Lifecycle, c.LifecycleReason = cl.Classify(c, asOf)
		out[i] = c
		dist[c.Lifecycle]++
	}
	return out, dist
}
