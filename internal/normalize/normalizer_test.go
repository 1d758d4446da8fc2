package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/reconcile"
)

var retrieved = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newNormalizer(t *testing.T, mutate ...func(*model.Config)) *Normalizer {
	t.Helper()
	cfg := model.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	n, err := New(cfg, nil)
	require.NoError(t, err)
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCanonicalID(t *testing.T) {
	tests := map[string]string{
		"az-1001":         "AZ1001",
		"AZ 1001":         "AZ1001",
		"  AZMC-100.200 ": "AZMC100200",
		"ＡＺ１００１":          "AZ1001",
		"---":             "",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalID(in), "CanonicalID(%q)", in)
	}
}

func TestNormalize_APIRecord(t *testing.T) {
	n := newNormalizer(t)

	raw := model.RawRecord{
		SourceID:   "mlrs-api",
		SourceKind: model.SourceKindAPI,
		NativeKey:  "az-1001",
		Fields: map[string]any{
			"blm_case_id":      "az-1001",
			"claimant_name":    "  Desert Gold LLC ",
			"claim_name":       "DESERT GOLD #1",
			"case_disposition": "  active ",
			"location_date":    "2015-06-30",
			"fee_paid_through": "2019-01-01",
			"county":           "Maricopa",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []any{json.Number("-112.07"), json.Number("33.45")},
			},
		},
		RetrievedAt: retrieved,
	}

	c := n.Normalize(raw)

	assert.Equal(t, "AZ1001", c.ClaimID)
	assert.Equal(t, "AZ", c.Jurisdiction)
	assert.Equal(t, "Desert Gold LLC", c.Claimant)
	assert.Equal(t, "DESERT GOLD #1", c.ClaimName)
	assert.Equal(t, "ACTIVE", c.StatusCode)
	assert.Equal(t, "Maricopa", c.County)
	require.NotNil(t, c.FiledDate)
	assert.Equal(t, date(2015, 6, 30), *c.FiledDate)
	require.NotNil(t, c.FeePaidThrough)
	assert.Equal(t, date(2019, 1, 1), *c.FeePaidThrough)
	assert.Nil(t, c.ExpirationDate)
	require.NotNil(t, c.Location)
	assert.Equal(t, "Point", c.Location.Type)
	assert.JSONEq(t, `[-112.07,33.45]`, string(c.Location.Coordinates))
	assert.Equal(t, model.CRS84, c.Location.CRS)
	assert.Equal(t, model.LifecycleUnknown, c.Lifecycle)

	require.Len(t, c.Provenance, 1)
	assert.Equal(t, model.ProvenanceEntry{
		SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "az-1001", RetrievedAt: retrieved,
	}, c.Provenance[0])
}

func TestNormalize_PointFallback(t *testing.T) {
	n := newNormalizer(t)

	c := n.Normalize(model.RawRecord{
		SourceID:   "mlrs-api",
		SourceKind: model.SourceKindAPI,
		NativeKey:  "AZ1",
		Fields:     map[string]any{"lat": "34.5", "lon": json.Number("-111.25")},
	})

	require.NotNil(t, c.Location)
	assert.Equal(t, "[-111.25,34.5]", string(c.Location.Coordinates))
}

func TestNormalize_MalformedFieldsDropped(t *testing.T) {
	n := newNormalizer(t)

	raw := model.RawRecord{
		SourceID:   "mlrs-api",
		SourceKind: model.SourceKindAPI,
		NativeKey:  "AZ-2",
		Fields: map[string]any{
			"fee_paid_through": "sometime in spring",
			"close_date":       "2020-02-30",
			"claimant_name":    map[string]any{"nested": true},
			"lon":              "-300",
			"lat":              "10",
			"claim_type":       "LODE",
		},
	}

	c := n.Normalize(raw)

	assert.Equal(t, "AZ2", c.ClaimID)
	assert.Nil(t, c.FeePaidThrough)
	assert.Nil(t, c.ExpirationDate)
	assert.Empty(t, c.Claimant)
	assert.Nil(t, c.Location)
	assert.Equal(t, "LODE", c.ClaimType)
	assert.Equal(t, 4, n.MalformedCounts()["mlrs-api"])
}

func TestNormalize_DateFormats(t *testing.T) {
	want := date(2019, 1, 1)
	inputs := []any{
		"2019-01-01",
		"2019-01-01T15:30:00Z",
		"2019-01-01T23:30:00-07:00",
		"01/01/2019",
		"1/1/2019",
		"20190101",
		"Jan 1, 2019",
		"01-Jan-2019",
		json.Number("1546300800000"),
		float64(1546300800000),
		"1546300800000",
	}
	for _, in := range inputs {
		got, err := toDate(in)
		require.NoError(t, err, "input %v", in)
		if in == "2019-01-01T23:30:00-07:00" {
			// Converted to UTC before truncation.
			assert.Equal(t, date(2019, 1, 2), got)
			continue
		}
		assert.Equal(t, want, got, "input %v", in)
	}
}

func TestNormalize_ShortNumbersAreNotDates(t *testing.T) {
	for _, in := range []any{"2025", json.Number("2025"), float64(2025), "12345", "999999999"} {
		_, err := toDate(in)
		assert.Error(t, err, "input %v", in)
	}

	n := newNormalizer(t)
	batch := n.NormalizeAll([]model.RawRecord{{
		SourceID:   "archive",
		SourceKind: model.SourceKindArchive,
		NativeKey:  "row-1",
		Fields:     map[string]any{"case_number": "AZ-1001", "fee_paid_through": "2025"},
	}})
	require.Len(t, batch.Identified, 1)
	assert.Nil(t, batch.Identified[0].FeePaidThrough)
	assert.Equal(t, 1, batch.MalformedFields)
}

func TestNormalize_LegacyKeyExtraction(t *testing.T) {
	n := newNormalizer(t)

	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"labelled case number", map[string]any{"Case Number": "AZMC100200", "col_0": "ignored"}, "AZMC100200"},
		{"serial number label", map[string]any{"Serial Number": "AZ-1003"}, "AZ1003"},
		{"composite cell", map[string]any{"col_0": "AZMC123456 DESERT GOLD"}, "AZMC123456"},
		{"label wins over column", map[string]any{"Case Number": "AZMC101 X", "col_0": "AZMC999"}, "AZMC101"},
		{"column when label unusable", map[string]any{"Case Number": "n/a", "col_0": "AZMC999"}, "AZMC999"},
		{"spaced state prefix", map[string]any{"Case Number": "AZ MC 123456"}, "AZMC123456"},
		{"dashed state prefix", map[string]any{"col_0": "AZ-MC-123456 DESERT GOLD"}, "AZMC123456"},
		{"name before number", map[string]any{"col_0": "DESERT GOLD AZMC123456"}, "AZMC123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := n.Normalize(model.RawRecord{SourceID: "lr2000", SourceKind: model.SourceKindLegacy, Fields: tt.fields})
			assert.Equal(t, tt.want, c.ClaimID)
		})
	}
}

func TestNormalize_SeparatedCaseNumbersMerge(t *testing.T) {
	n := newNormalizer(t)

	batch := n.NormalizeAll([]model.RawRecord{
		{
			SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "AZ MC 123456",
			Fields:      map[string]any{"claimant_name": "Desert Gold LLC"},
			RetrievedAt: retrieved,
		},
		{
			SourceID: "lr2000", SourceKind: model.SourceKindLegacy, NativeKey: "AZ MC 123456",
			Fields:      map[string]any{"Case Number": "AZ MC 123456", "Disposition": "ACTIVE"},
			RetrievedAt: retrieved,
		},
	})
	require.Len(t, batch.Identified, 2)

	result := reconcile.Merge(batch.Identified, batch.Unresolved)
	require.Len(t, result.Claims, 1)
	assert.Equal(t, "AZMC123456", result.Claims[0].ClaimID)
	assert.Len(t, result.Claims[0].Provenance, 2)
}

// A legacy record with no extractable case number lands in the unresolved
// bucket and never in the identified set.
func TestNormalizeAll_LegacyRecordWithoutCaseNumber(t *testing.T) {
	n := newNormalizer(t)

	records := []model.RawRecord{
		{
			SourceID: "lr2000", SourceKind: model.SourceKindLegacy, NativeKey: "AZMC100200",
			Fields:      map[string]any{"Case Number": "AZMC100200", "Disposition": "CLOSED", "col_0": "AZMC100200"},
			RetrievedAt: retrieved,
		},
		{
			SourceID: "lr2000", SourceKind: model.SourceKindLegacy, NativeKey: "Total records: 2",
			Fields:      map[string]any{"col_0": "Total records: 2", "col_1": ""},
			RetrievedAt: retrieved,
		},
	}

	batch := n.NormalizeAll(records)

	require.Len(t, batch.Identified, 1)
	assert.Equal(t, "AZMC100200", batch.Identified[0].ClaimID)
	assert.Equal(t, "CLOSED", batch.Identified[0].StatusCode)

	require.Len(t, batch.Unresolved, 1)
	u := batch.Unresolved[0]
	assert.Equal(t, "lr2000", u.SourceID)
	assert.Equal(t, "Total records: 2", u.NativeKey)
	assert.Equal(t, retrieved, u.RetrievedAt)
	assert.Contains(t, u.Reason, "no identifier")
	assert.Contains(t, u.Reason, model.ErrIdentityUnresolved.Error())
}

func TestNormalizeAll_ArchiveWithoutKeyIsUnresolved(t *testing.T) {
	n := newNormalizer(t)

	batch := n.NormalizeAll([]model.RawRecord{
		{SourceID: "archive", SourceKind: model.SourceKindArchive, NativeKey: "row-1", Fields: map[string]any{"claimant": "Someone"}},
		{SourceID: "archive", SourceKind: model.SourceKindArchive, NativeKey: "row-2", Fields: map[string]any{"serial_number": "az 1004", "status": "void"}},
	})

	require.Len(t, batch.Identified, 1)
	assert.Equal(t, "AZ1004", batch.Identified[0].ClaimID)
	assert.Equal(t, "VOID", batch.Identified[0].StatusCode)
	assert.Len(t, batch.Unresolved, 1)
}

func TestNormalizeAll_CountsMalformedFields(t *testing.T) {
	n := newNormalizer(t)

	batch := n.NormalizeAll([]model.RawRecord{
		{SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "AZ1", Fields: map[string]any{"fee_paid_through": "bogus"}},
	})
	assert.Equal(t, 1, batch.MalformedFields)
}

func TestIdentify_WrapsIdentityUnresolved(t *testing.T) {
	n := newNormalizer(t)

	_, err := n.identify(model.RawRecord{SourceKind: model.SourceKindAPI})
	assert.True(t, errors.Is(err, model.ErrIdentityUnresolved))

	_, err = n.identify(model.RawRecord{SourceKind: "ftp"})
	assert.True(t, errors.Is(err, model.ErrIdentityUnresolved))
}

func TestNormalize_LogsMalformedRecord(t *testing.T) {
	var buf bytes.Buffer
	n, err := New(model.DefaultConfig(), slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)

	n.Normalize(model.RawRecord{
		SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "AZ1",
		Fields: map[string]any{"fee_paid_through": "bogus"},
	})

	assert.Contains(t, buf.String(), "dropping malformed field")
	assert.Contains(t, buf.String(), model.ErrMalformedRecord.Error())
	assert.Contains(t, buf.String(), "fee_paid_through")
}

func TestNormalize_SurveyAttributes(t *testing.T) {
	n := newNormalizer(t)

	c := n.Normalize(model.RawRecord{
		SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "AZ1001",
		Fields: map[string]any{
			"township":  "t5n",
			"range":     "R3E",
			"section":   json.Number("14"),
			"meridian":  "Gila & Salt River",
			"acreage":   json.Number("20.5"),
			"commodity": "gold, silver",
		},
	})
	assert.Equal(t, "T5N", c.Township)
	assert.Equal(t, "R3E", c.Range)
	assert.Equal(t, "14", c.Section)
	assert.Equal(t, "GILA & SALT RIVER", c.Meridian)
	require.NotNil(t, c.Acreage)
	assert.InDelta(t, 20.5, *c.Acreage, 1e-9)
	assert.Equal(t, "GOLD, SILVER", c.Commodity)

	c = n.Normalize(model.RawRecord{
		SourceID: "lr2000", SourceKind: model.SourceKindLegacy,
		Fields: map[string]any{"Case Number": "AZMC100", "Acres": "-3", "Twp": "T6N"},
	})
	assert.Nil(t, c.Acreage, "negative acreage is malformed")
	assert.Equal(t, "T6N", c.Township)
	assert.Equal(t, 1, n.MalformedCounts()["lr2000"])
}

func TestNormalize_PrefixAliases(t *testing.T) {
	n := newNormalizer(t, func(cfg *model.Config) {
		cfg.Identity.PrefixAliases = map[string]string{"azmc": "AZ", "AZMCX": "AZX"}
	})

	c := n.Normalize(model.RawRecord{SourceKind: model.SourceKindLegacy, Fields: map[string]any{"Case Number": "AZMC-1003"}})
	assert.Equal(t, "AZ1003", c.ClaimID)

	c = n.Normalize(model.RawRecord{SourceKind: model.SourceKindAPI, NativeKey: "AZMCX77"})
	assert.Equal(t, "AZX77", c.ClaimID, "longest alias should win")
}

func TestNormalize_MappingOverride(t *testing.T) {
	n := newNormalizer(t, func(cfg *model.Config) {
		cfg.Mappings = map[string]model.SourceMapping{
			"archive": {
				Key: model.KeyRule{From: model.KeyFromField, Fields: []string{"Claim #"}},
				Attributes: map[string]model.FieldRule{
					AttrStatusCode: {Fields: []string{"Cond"}, Convert: ConvertStatus},
				},
			},
		}
	})

	c := n.Normalize(model.RawRecord{
		SourceKind: model.SourceKindArchive,
		Fields:     map[string]any{"Claim #": "az-55", "Cond": "abandoned", "claimant": "Kept Default"},
	})
	assert.Equal(t, "AZ55", c.ClaimID)
	assert.Equal(t, "ABANDONED", c.StatusCode)
	assert.Equal(t, "Kept Default", c.Claimant, "unrelated default rules stay in place")
}

func TestNormalize_KeyOverrideWithoutColumn(t *testing.T) {
	n := newNormalizer(t, func(cfg *model.Config) {
		cfg.Mappings = map[string]model.SourceMapping{
			"legacy": {Key: model.KeyRule{From: model.KeyFromField, Fields: []string{"Case No"}}},
		}
	})

	c := n.Normalize(model.RawRecord{SourceKind: model.SourceKindLegacy, Fields: map[string]any{"col_0": "AZMC999"}})
	assert.Empty(t, c.ClaimID, "col_0 is only read when a column is configured")

	c = n.Normalize(model.RawRecord{SourceKind: model.SourceKindLegacy, Fields: map[string]any{"Case No": "AZMC5"}})
	assert.Equal(t, "AZMC5", c.ClaimID)
}

func TestNew_RejectsBadMappings(t *testing.T) {
	tests := map[string]map[string]model.SourceMapping{
		"unknown kind":      {"ftp": {Key: model.KeyRule{From: model.KeyFromNativeKey}}},
		"unknown attribute": {"api": {Attributes: map[string]model.FieldRule{"mineral_rights": {Fields: []string{"a"}, Convert: ConvertString}}}},
		"bad conversion":    {"api": {Attributes: map[string]model.FieldRule{AttrCounty: {Fields: []string{"c"}, Convert: "upper"}}}},
		"odd point fields":  {"api": {Attributes: map[string]model.FieldRule{AttrLocation: {Fields: []string{"x"}, Convert: ConvertPoint}}}},
		"bad pattern":       {"legacy": {Key: model.KeyRule{From: model.KeyFromField, Pattern: "("}}},
		"bad key source":    {"legacy": {Key: model.KeyRule{From: "column"}}},
	}
	for name, mappings := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			cfg.Mappings = mappings
			_, err := New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestToGeometry(t *testing.T) {
	g, err := toGeometry(`{"type":"Polygon","coordinates":[[[-112,33],[-112,34],[-111,34],[-112,33]]]}`)
	require.NoError(t, err)
	assert.Equal(t, "Polygon", g.Type)
	assert.Equal(t, "[[[-112,33],[-112,34],[-111,34],[-112,33]]]", string(g.Coordinates))

	_, err = toGeometry(map[string]any{"type": "Circle", "coordinates": []any{1}})
	assert.Error(t, err)

	_, err = toGeometry(map[string]any{"type": "Point"})
	assert.Error(t, err)
}

func TestToGeometry_CRS(t *testing.T) {
	g, err := toGeometry(`{"type":"Point","coordinates":[-112,33],"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:OGC:1.3:CRS84"}}}`)
	require.NoError(t, err)
	assert.Equal(t, model.CRS84, g.CRS)

	_, err = toGeometry(`{"type":"Point","coordinates":[-112,33],"crs":{"type":"name","properties":{"name":"EPSG:4326"}}}`)
	assert.NoError(t, err)

	_, err = toGeometry(`{"type":"Point","coordinates":[-12476000,3955000],"crs":{"type":"name","properties":{"name":"EPSG:3857"}}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EPSG:3857")
}

func TestNormalize_ProjectedGeometryIsMalformed(t *testing.T) {
	n := newNormalizer(t)

	c := n.Normalize(model.RawRecord{
		SourceID: "mlrs-api", SourceKind: model.SourceKindAPI, NativeKey: "AZ1",
		Fields: map[string]any{
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []any{json.Number("-12476000"), json.Number("3955000")},
				"crs": map[string]any{
					"type":       "name",
					"properties": map[string]any{"name": "EPSG:3857"},
				},
			},
		},
	})
	assert.Nil(t, c.Location)
	assert.Equal(t, 1, n.MalformedCounts()["mlrs-api"])
}
