// Package normalize maps source-native records onto the canonical claim model
// using per-source mapping tables.
package normalize

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// Batch is the output of NormalizeAll.
type Batch struct {
	Identified      []model.Claim
	Unresolved      []model.UnresolvedRecord
	MalformedFields int
}

type keyRule struct {
	model.KeyRule
	pattern *regexp.Regexp
}

type alias struct {
	from, to string
}

// Normalizer converts RawRecords to Claims. It never fails on a record:
// unparseable fields are dropped with a diagnostic.
type Normalizer struct {
	jurisdiction string
	mappings     map[model.SourceKind]model.SourceMapping
	keys         map[model.SourceKind]keyRule
	aliases      []alias
	logger       *slog.Logger

	mu        sync.Mutex
	malformed map[string]int
}

// New builds a Normalizer from the config mapping overrides and identity settings.
func New(cfg *model.Config, logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	n := &Normalizer{
		jurisdiction: cfg.Jurisdiction,
		mappings:     MergeMappings(cfg.Mappings),
		keys:         make(map[model.SourceKind]keyRule),
		logger:       logger,
		malformed:    make(map[string]int),
	}

	for kind, m := range n.mappings {
		if !kind.Valid() {
			return nil, fmt.Errorf("mappings: unknown source kind %q", kind)
		}
		for attr, rule := range m.Attributes {
			if !knownAttributes[attr] {
				return nil, fmt.Errorf("mappings.%s: unknown attribute %q", kind, attr)
			}
			if err := validateRule(rule); err != nil {
				return nil, fmt.Errorf("mappings.%s.%s: %w", kind, attr, err)
			}
		}

		kr := keyRule{KeyRule: m.Key}
		switch m.Key.From {
		case model.KeyFromNativeKey, model.KeyFromField:
		default:
			return nil, fmt.Errorf("mappings.%s.key: unknown source %q", kind, m.Key.From)
		}
		if m.Key.Pattern != "" {
			re, err := regexp.Compile(m.Key.Pattern)
			if err != nil {
				return nil, fmt.Errorf("mappings.%s.key.pattern: %w", kind, err)
			}
			kr.pattern = re
		}
		n.keys[kind] = kr
	}

	for from, to := range cfg.Identity.PrefixAliases {
		if f := CanonicalID(from); f != "" {
			n.aliases = append(n.aliases, alias{from: f, to: CanonicalID(to)})
		}
	}
	// Longest prefix first so the most specific alias wins.
	sort.Slice(n.aliases, func(i, j int) bool {
		if len(n.aliases[i].from) != len(n.aliases[j].from) {
			return len(n.aliases[i].from) > len(n.aliases[j].from)
		}
		return n.aliases[i].from < n.aliases[j].from
	})

	return n, nil
}

func validateRule(rule model.FieldRule) error {
	switch rule.Convert {
	case ConvertString, ConvertStatus, ConvertNumber, ConvertDate, ConvertGeometry:
		if len(rule.Fields) == 0 {
			return fmt.Errorf("no fields")
		}
	case ConvertPoint:
		if len(rule.Fields) == 0 || len(rule.Fields)%2 != 0 {
			return fmt.Errorf("point needs lon/lat field pairs")
		}
	default:
		return fmt.Errorf("unknown conversion %q", rule.Convert)
	}
	if rule.Fallback != nil {
		return validateRule(*rule.Fallback)
	}
	return nil
}

// CanonicalID normalizes an identifier: NFKC, uppercase, letters and digits only.
func CanonicalID(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Normalize maps one record. The returned claim has an empty ClaimID when no
// identity could be derived.
func (n *Normalizer) Normalize(raw model.RawRecord) model.Claim {
	claim := model.Claim{
		Jurisdiction: n.jurisdiction,
		Provenance: []model.ProvenanceEntry{{
			SourceID:    raw.SourceID,
			SourceKind:  raw.SourceKind,
			NativeKey:   raw.NativeKey,
			RetrievedAt: raw.RetrievedAt,
		}},
	}

	claim.ClaimID, _ = n.identify(raw)

	mapping, ok := n.mappings[raw.SourceKind]
	if !ok {
		return claim
	}

	attrs := make([]string, 0, len(mapping.Attributes))
	for attr := range mapping.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	for _, attr := range attrs {
		n.applyRule(&claim, attr, mapping.Attributes[attr], raw)
	}

	return claim
}

// NormalizeAll maps every record and splits off those without an identity.
func (n *Normalizer) NormalizeAll(records []model.RawRecord) Batch {
	var batch Batch
	before := n.MalformedTotal()

	for _, raw := range records {
		if _, err := n.identify(raw); err != nil {
			n.logger.Debug("record has no claim identity",
				"source", raw.SourceID, "native_key", raw.NativeKey, "error", err)
			batch.Unresolved = append(batch.Unresolved, model.UnresolvedRecord{
				SourceID:    raw.SourceID,
				SourceKind:  raw.SourceKind,
				NativeKey:   raw.NativeKey,
				RetrievedAt: raw.RetrievedAt,
				Reason:      err.Error(),
				Fields:      raw.Fields,
			})
			continue
		}
		batch.Identified = append(batch.Identified, n.Normalize(raw))
	}

	batch.MalformedFields = n.MalformedTotal() - before
	return batch
}

// MalformedCounts returns the number of dropped fields per source.
func (n *Normalizer) MalformedCounts() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int, len(n.malformed))
	for k, v := range n.malformed {
		out[k] = v
	}
	return out
}

// MalformedTotal returns the number of dropped fields across all sources.
func (n *Normalizer) MalformedTotal() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, v := range n.malformed {
		total += v
	}
	return total
}

// identify derives the canonical claim id. The error wraps
// model.ErrIdentityUnresolved.
func (n *Normalizer) identify(raw model.RawRecord) (string, error) {
	rule, ok := n.keys[raw.SourceKind]
	if !ok {
		return "", fmt.Errorf("%w: no mapping for source kind %q", model.ErrIdentityUnresolved, raw.SourceKind)
	}

	switch rule.From {
	case model.KeyFromNativeKey:
		if id := n.keyFrom(raw.NativeKey, rule); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("%w: missing native key", model.ErrIdentityUnresolved)

	default:
		for _, field := range rule.Fields {
			if id := n.keyFromValue(raw.Fields[field], rule); id != "" {
				return id, nil
			}
		}
		if col, ok := rule.PositionalColumn(); ok {
			if id := n.keyFromValue(raw.Fields[fmt.Sprintf("col_%d", col)], rule); id != "" {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: no identifier in fields %s", model.ErrIdentityUnresolved, strings.Join(rule.Fields, ", "))
	}
}

func (n *Normalizer) keyFromValue(v any, rule keyRule) string {
	if isEmpty(v) {
		return ""
	}
	s, err := toString(v)
	if err != nil {
		return ""
	}
	return n.keyFrom(s, rule)
}

func (n *Normalizer) keyFrom(s string, rule keyRule) string {
	if rule.pattern != nil {
		m := rule.pattern.FindStringSubmatch(s)
		if m == nil {
			return ""
		}
		s = m[0]
		if len(m) > 1 && m[1] != "" {
			s = m[1]
		}
	}
	return n.applyAliases(CanonicalID(s))
}

func (n *Normalizer) applyAliases(id string) string {
	for _, a := range n.aliases {
		if strings.HasPrefix(id, a.from) {
			return a.to + strings.TrimPrefix(id, a.from)
		}
	}
	return id
}

func (n *Normalizer) applyRule(claim *model.Claim, attr string, rule model.FieldRule, raw model.RawRecord) {
	if rule.Convert == ConvertPoint {
		for i := 0; i+1 < len(rule.Fields); i += 2 {
			lon, lat := raw.Fields[rule.Fields[i]], raw.Fields[rule.Fields[i+1]]
			if isEmpty(lon) || isEmpty(lat) {
				continue
			}
			geom, err := toPoint(lon, lat)
			if err != nil {
				n.malformedField(raw, attr, fmt.Sprintf("%v,%v", lon, lat), err)
				return
			}
			setAttribute(claim, attr, geom)
			return
		}
	} else {
		for _, field := range rule.Fields {
			v := raw.Fields[field]
			if isEmpty(v) {
				continue
			}
			value, err := convert(rule.Convert, v)
			if err != nil {
				n.malformedField(raw, attr, v, err)
				return
			}
			setAttribute(claim, attr, value)
			return
		}
	}

	if rule.Fallback != nil {
		n.applyRule(claim, attr, *rule.Fallback, raw)
	}
}

func convert(conversion string, v any) (any, error) {
	switch conversion {
	case ConvertStatus:
		return toStatus(v)
	case ConvertNumber:
		return toNumber(v)
	case ConvertDate:
		return toDate(v)
	case ConvertGeometry:
		return toGeometry(v)
	default:
		return toString(v)
	}
}

// malformedField counts and logs a dropped field. The logged error wraps
// model.ErrMalformedRecord.
func (n *Normalizer) malformedField(raw model.RawRecord, attr string, value any, err error) {
	n.mu.Lock()
	n.malformed[raw.SourceID]++
	n.mu.Unlock()

	err = fmt.Errorf("%w: %s: %w", model.ErrMalformedRecord, attr, err)
	n.logger.Warn("dropping malformed field",
		"source", raw.SourceID,
		"native_key", raw.NativeKey,
		"field", attr,
		"value", fmt.Sprint(value),
		"error", err)
}
