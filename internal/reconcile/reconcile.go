// Package reconcile folds normalized claims from several sources into one
// canonical record per claim id.
package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Result is the reconciled claim set.
type Result struct {
	Claims     []model.Claim
	Unresolved []model.UnresolvedRecord
	Conflicted int
}

// attribute reads and copies one mergeable claim field.
// render returns "" when the field is absent.
type attribute struct {
	name   string
	render func(c *model.Claim) string
	copy   func(dst, src *model.Claim)
}

var attributes = []attribute{
	{"claimant", func(c *model.Claim) string { return c.Claimant }, func(d, s *model.Claim) { d.Claimant = s.Claimant }},
	{"claim_name", func(c *model.Claim) string { return c.ClaimName }, func(d, s *model.Claim) { d.ClaimName = s.ClaimName }},
	{"claim_type", func(c *model.Claim) string { return c.ClaimType }, func(d, s *model.Claim) { d.ClaimType = s.ClaimType }},
	{"county", func(c *model.Claim) string { return c.County }, func(d, s *model.Claim) { d.County = s.County }},
	{"township", func(c *model.Claim) string { return c.Township }, func(d, s *model.Claim) { d.Township = s.Township }},
	{"range", func(c *model.Claim) string { return c.Range }, func(d, s *model.Claim) { d.Range = s.Range }},
	{"section", func(c *model.Claim) string { return c.Section }, func(d, s *model.Claim) { d.Section = s.Section }},
	{"meridian", func(c *model.Claim) string { return c.Meridian }, func(d, s *model.Claim) { d.Meridian = s.Meridian }},
	{"acreage", func(c *model.Claim) string { return formatAcreage(c.Acreage) }, func(d, s *model.Claim) { d.Acreage = cloneFloat(s.Acreage) }},
	{"commodity", func(c *model.Claim) string { return c.Commodity }, func(d, s *model.Claim) { d.Commodity = s.Commodity }},
	{"status_code", func(c *model.Claim) string { return c.StatusCode }, func(d, s *model.Claim) { d.StatusCode = s.StatusCode }},
	{"location", func(c *model.Claim) string { return c.Location.String() }, func(d, s *model.Claim) { d.Location = cloneGeometry(s.Location) }},
	{"filed_date", func(c *model.Claim) string { return model.FormatDate(c.FiledDate) }, func(d, s *model.Claim) { d.FiledDate = cloneTime(s.FiledDate) }},
	{"expiration_date", func(c *model.Claim) string { return model.FormatDate(c.ExpirationDate) }, func(d, s *model.Claim) { d.ExpirationDate = cloneTime(s.ExpirationDate) }},
	{"fee_paid_through", func(c *model.Claim) string { return model.FormatDate(c.FeePaidThrough) }, func(d, s *model.Claim) { d.FeePaidThrough = cloneTime(s.FeePaidThrough) }},
}

// member is one contributing claim with its precedence key.
type member struct {
	claim *model.Claim
	key   model.ProvenanceEntry
}

// Merge groups claims by ClaimID and folds each group by precedence:
// lower source rank first, then most recent retrieval. For every attribute
// the first member holding a value wins. Members at the same rank and
// retrieval time that disagree produce a Conflict; the lexicographically
// greatest value is kept so the result never depends on input order.
//
// Merge does not modify its inputs. Claims without an id are moved to the
// unresolved bucket.
func Merge(claims []model.Claim, unresolved []model.UnresolvedRecord) Result {
	out := Result{
		Unresolved: append([]model.UnresolvedRecord(nil), unresolved...),
	}

	groups := make(map[string][]member)
	for i := range claims {
		c := &claims[i]
		if c.ClaimID == "" {
			out.Unresolved = append(out.Unresolved, unresolvedFromClaim(c))
			continue
		}
		groups[c.ClaimID] = append(groups[c.ClaimID], member{claim: c, key: precedenceKey(c)})
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out.Claims = make([]model.Claim, 0, len(ids))
	for _, id := range ids {
		merged := fold(id, groups[id])
		if merged.NeedsReview() {
			out.Conflicted++
		}
		out.Claims = append(out.Claims, merged)
	}

	return out
}

func fold(id string, members []member) model.Claim {
	sort.SliceStable(members, func(i, j int) bool {
		return lessEntry(members[i].key, members[j].key)
	})

	merged := model.Claim{ClaimID: id}

	for _, m := range members {
		if merged.Jurisdiction == "" {
			merged.Jurisdiction = m.claim.Jurisdiction
		}
		merged.Provenance = append(merged.Provenance, m.claim.Provenance...)
	}
	sortProvenance(merged.Provenance)

	for _, attr := range attributes {
		if conflict := mergeAttribute(&merged, attr, members); conflict != nil {
			merged.Conflicts = append(merged.Conflicts, *conflict)
		}
	}

	return merged
}

// mergeAttribute copies the winning value of attr into merged and returns a
// conflict when equal-precedence members disagree.
func mergeAttribute(merged *model.Claim, attr attribute, members []member) *model.Conflict {
	first := -1
	for i, m := range members {
		if attr.render(m.claim) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}

	level := members[first].key
	winner := members[first].claim
	winnerValue := attr.render(winner)

	values := map[string]bool{winnerValue: true}
	sources := map[string]bool{}
	for _, m := range members[first:] {
		if !sameLevel(m.key, level) {
			break
		}
		v := attr.render(m.claim)
		if v == "" {
			continue
		}
		values[v] = true
		sources[m.key.SourceID] = true
		if v > winnerValue {
			winner, winnerValue = m.claim, v
		}
	}

	attr.copy(merged, winner)

	if len(values) < 2 {
		return nil
	}
	return &model.Conflict{
		Field:   attr.name,
		Values:  sortedKeys(values),
		Sources: sortedKeys(sources),
		Chosen:  winnerValue,
	}
}

// precedenceKey is the best provenance entry of a claim.
func precedenceKey(c *model.Claim) model.ProvenanceEntry {
	if len(c.Provenance) == 0 {
		return model.ProvenanceEntry{SourceKind: model.SourceKind("")}
	}
	best := c.Provenance[0]
	for _, p := range c.Provenance[1:] {
		if lessEntry(p, best) {
			best = p
		}
	}
	return best
}

// lessEntry orders entries by kind rank, newest retrieval, source id, native key.
func lessEntry(a, b model.ProvenanceEntry) bool {
	if ra, rb := a.SourceKind.Rank(), b.SourceKind.Rank(); ra != rb {
		return ra < rb
	}
	if !a.RetrievedAt.Equal(b.RetrievedAt) {
		return a.RetrievedAt.After(b.RetrievedAt)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.NativeKey < b.NativeKey
}

func sameLevel(a, b model.ProvenanceEntry) bool {
	return a.SourceKind.Rank() == b.SourceKind.Rank() && a.RetrievedAt.Equal(b.RetrievedAt)
}

func sortProvenance(entries []model.ProvenanceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return lessEntry(entries[i], entries[j])
	})
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unresolvedFromClaim(c *model.Claim) model.UnresolvedRecord {
	u := model.UnresolvedRecord{Reason: "claim has no id"}
	if len(c.Provenance) > 0 {
		p := c.Provenance[0]
		u.SourceID, u.SourceKind, u.NativeKey, u.RetrievedAt = p.SourceID, p.SourceKind, p.NativeKey, p.RetrievedAt
	}
	return u
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func formatAcreage(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func cloneGeometry(g *model.Geometry) *model.Geometry {
	if g == nil {
		return nil
	}
	v := *g
	v.Coordinates = append([]byte(nil), g.Coordinates...)
	return &v
}

// ConflictString renders a one-line description of a conflict for logs.
func ConflictString(c model.Conflict) string {
	return fmt.Sprintf("%s: %v from %v, chose %q", c.Field, c.Values, c.Sources, c.Chosen)
}
