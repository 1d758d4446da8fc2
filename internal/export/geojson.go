// Package export writes reconciled claims to GeoJSON files and spatial SQL tables.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// featureCollection follows RFC 7946: coordinates are lon/lat WGS84 and no
// crs member is written.
type featureCollection struct {
	Type     string    `json:"type"`
	Name     string    `json:"name,omitempty"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Geometry   *model.Geometry `json:"geometry"`
	Properties claimProperties `json:"properties"`
}

// claimProperties is the flat property set of an exported claim feature.
type claimProperties struct {
	ClaimID         string                  `json:"claim_id"`
	Jurisdiction    string                  `json:"jurisdiction"`
	Claimant        string                  `json:"claimant,omitempty"`
	ClaimName       string                  `json:"claim_name,omitempty"`
	ClaimType       string                  `json:"claim_type,omitempty"`
	County          string                  `json:"county,omitempty"`
	Township        string                  `json:"township,omitempty"`
	Range           string                  `json:"range,omitempty"`
	Section         string                  `json:"section,omitempty"`
	Meridian        string                  `json:"meridian,omitempty"`
	Acreage         *float64                `json:"acreage,omitempty"`
	Commodity       string                  `json:"commodity,omitempty"`
	StatusCode      string                  `json:"status_code,omitempty"`
	FiledDate       string                  `json:"filed_date,omitempty"`
	ExpirationDate  string                  `json:"expiration_date,omitempty"`
	FeePaidThrough  string                  `json:"fee_paid_through,omitempty"`
	LifecycleState  model.LifecycleState    `json:"lifecycle_state"`
	LifecycleReason string                  `json:"lifecycle_reason,omitempty"`
	NeedsReview     bool                    `json:"needs_review"`
	Conflicts       []model.Conflict        `json:"conflicts,omitempty"`
	Provenance      []model.ProvenanceEntry `json:"provenance"`
}

func toFeature(c model.Claim) feature {
	return feature{
		Type:     "Feature",
		ID:       c.ClaimID,
		Geometry: c.Location,
		Properties: claimProperties{
			ClaimID:         c.ClaimID,
			Jurisdiction:    c.Jurisdiction,
			Claimant:        c.Claimant,
			ClaimName:       c.ClaimName,
			ClaimType:       c.ClaimType,
			County:          c.County,
			Township:        c.Township,
			Range:           c.Range,
			Section:         c.Section,
			Meridian:        c.Meridian,
			Acreage:         c.Acreage,
			Commodity:       c.Commodity,
			StatusCode:      c.StatusCode,
			FiledDate:       model.FormatDate(c.FiledDate),
			ExpirationDate:  model.FormatDate(c.ExpirationDate),
			FeePaidThrough:  model.FormatDate(c.FeePaidThrough),
			LifecycleState:  c.Lifecycle,
			LifecycleReason: c.LifecycleReason,
			NeedsReview:     c.NeedsReview(),
			Conflicts:       c.Conflicts,
			Provenance:      c.Provenance,
		},
	}
}

func fromFeature(f feature) (model.Claim, error) {
	p := f.Properties
	c := model.Claim{
		ClaimID:         p.ClaimID,
		Jurisdiction:    p.Jurisdiction,
		Claimant:        p.Claimant,
		ClaimName:       p.ClaimName,
		ClaimType:       p.ClaimType,
		County:          p.County,
		Township:        p.Township,
		Range:           p.Range,
		Section:         p.Section,
		Meridian:        p.Meridian,
		Acreage:         p.Acreage,
		Commodity:       p.Commodity,
		StatusCode:      p.StatusCode,
		Location:        f.Geometry,
		Lifecycle:       p.LifecycleState,
		LifecycleReason: p.LifecycleReason,
		Conflicts:       p.Conflicts,
		Provenance:      p.Provenance,
	}
	if c.ClaimID == "" {
		c.ClaimID = f.ID
	}
	if c.Location != nil {
		if c.Location.CRS == "" {
			c.Location.CRS = model.CRS84
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, c.Location.Coordinates); err != nil {
			return c, fmt.Errorf("claim %s geometry: %w", c.ClaimID, err)
		}
		c.Location.Coordinates = compact.Bytes()
	}

	var err error
	if c.FiledDate, err = parseDate(p.FiledDate); err != nil {
		return c, fmt.Errorf("claim %s filed_date: %w", c.ClaimID, err)
	}
	if c.ExpirationDate, err = parseDate(p.ExpirationDate); err != nil {
		return c, fmt.Errorf("claim %s expiration_date: %w", c.ClaimID, err)
	}
	if c.FeePaidThrough, err = parseDate(p.FeePaidThrough); err != nil {
		return c, fmt.Errorf("claim %s fee_paid_through: %w", c.ClaimID, err)
	}
	return c, nil
}

// checkCRS rejects geometry that is not lon/lat WGS84.
func checkCRS(c model.Claim) error {
	if c.Location != nil && c.Location.CRS != "" && c.Location.CRS != model.CRS84 {
		return fmt.Errorf("claim %s: geometry in %s, want %s", c.ClaimID, c.Location.CRS, model.CRS84)
	}
	return nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteGeoJSON writes claims as a FeatureCollection, replacing path atomically.
func WriteGeoJSON(path, name string, claims []model.Claim) error {
	fc := featureCollection{
		Type:     "FeatureCollection",
		Name:     name,
		Features: make([]feature, 0, len(claims)),
	}
	for _, c := range claims {
		if err := checkCRS(c); err != nil {
			return err
		}
		fc.Features = append(fc.Features, toFeature(c))
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadGeoJSON reads claims back from a file written by WriteGeoJSON.
func ReadGeoJSON(path string) ([]model.Claim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var fc featureCollection
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s: expected FeatureCollection, got %q", path, fc.Type)
	}

	claims := make([]model.Claim, 0, len(fc.Features))
	for _, feat := range fc.Features {
		c, err := fromFeature(feat)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// StateFileName returns the per-state export file name, e.g. active_claims.geojson.
func StateFileName(state model.LifecycleState) string {
	return state.String() + "_claims.geojson"
}

// WriteStateFiles writes one FeatureCollection per lifecycle state into dir.
// Every state gets a file, possibly empty, so stale files from earlier runs
// never survive.
func WriteStateFiles(dir, name string, claims []model.Claim) (map[model.LifecycleState]int, error) {
	byState := make(map[model.LifecycleState][]model.Claim)
	for _, c := range claims {
		byState[c.Lifecycle] = append(byState[c.Lifecycle], c)
	}

	counts := make(map[model.LifecycleState]int, len(model.AllLifecycleStates))
	for _, state := range model.AllLifecycleStates {
		path := filepath.Join(dir, StateFileName(state))
		if err := WriteGeoJSON(path, name+"_"+state.String(), byState[state]); err != nil {
			return counts, err
		}
		counts[state] = len(byState[state])
	}
	return counts, nil
}

// WriteJSON marshals v and replaces path atomically via a temp file and rename.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
