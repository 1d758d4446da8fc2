package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/model"
)

// Archive payload formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatHTML = "html"
)

// decoder turns an archive body into field maps.
type decoder interface {
	Name() string
	CanHandle(format, contentType string, body []byte) bool
	Decode(body []byte) ([]map[string]any, error)
}

// decoders are tried in order; csvDecoder accepts anything and comes last.
var decoders = []decoder{jsonDecoder{}, htmlDecoder{}, csvDecoder{}}

func findDecoder(format, contentType string, body []byte) decoder {
	for _, d := range decoders {
		if d.CanHandle(format, contentType, body) {
			return d
		}
	}
	return csvDecoder{}
}

// ArchiveAdapter reads a historical archive export. Archives are
// supplementary, so their shapes are decoded leniently.
type ArchiveAdapter struct {
	cfg     model.ArchiveSourceConfig
	fetcher *fetch.Fetcher
}

// NewArchiveAdapter creates an adapter for one archive.
func NewArchiveAdapter(cfg model.ArchiveSourceConfig, fetcher *fetch.Fetcher) *ArchiveAdapter {
	return &ArchiveAdapter{cfg: cfg, fetcher: fetcher}
}

// ID returns the source id.
func (a *ArchiveAdapter) ID() string { return a.cfg.ID }

// Kind returns SourceKindArchive.
func (a *ArchiveAdapter) Kind() model.SourceKind { return model.SourceKindArchive }

// Endpoint returns the archive URL.
func (a *ArchiveAdapter) Endpoint() string { return a.cfg.URL }

// Fetch downloads the archive export.
func (a *ArchiveAdapter) Fetch(ctx context.Context) (*Payload, error) {
	resp, err := a.fetcher.Do(ctx, fetch.Request{
		SourceID:    a.cfg.ID,
		Method:      http.MethodGet,
		URL:         a.cfg.URL,
		CheckRobots: true,
	})
	if err != nil {
		return nil, err
	}

	return &Payload{
		SourceID:    a.cfg.ID,
		Kind:        model.SourceKindArchive,
		URL:         resp.FinalURL,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		RetrievedAt: resp.RetrievedAt,
		Attempts:    resp.Attempts,
	}, nil
}

// Parse decodes the payload with the configured or detected format.
func (a *ArchiveAdapter) Parse(p *Payload) ([]model.RawRecord, error) {
	d := findDecoder(strings.ToLower(a.cfg.Format), p.ContentType, p.Body)

	rows, err := d.Decode(p.Body)
	if err != nil {
		return nil, malformed(a.cfg.ID, fmt.Errorf("decode %s: %w", d.Name(), err))
	}

	records := make([]model.RawRecord, 0, len(rows))
	for i, fields := range rows {
		nativeKey := scalarString(fields["id"])
		if nativeKey == "" {
			nativeKey = fmt.Sprintf("row-%d", i+1)
		}
		records = append(records, model.RawRecord{
			SourceID:    a.cfg.ID,
			SourceKind:  model.SourceKindArchive,
			NativeKey:   nativeKey,
			Fields:      fields,
			RetrievedAt: p.RetrievedAt,
		})
	}
	return records, nil
}

type jsonDecoder struct{}

func (jsonDecoder) Name() string { return FormatJSON }

func (jsonDecoder) CanHandle(format, contentType string, body []byte) bool {
	if format != "" {
		return format == FormatJSON
	}
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

// Decode accepts a bare array of objects, {"records": [...]}, or a
// FeatureCollection whose features are flattened like API records.
func (jsonDecoder) Decode(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		if features, ok := v["features"].([]any); ok {
			out := make([]map[string]any, 0, len(features))
			for _, f := range features {
				feature, ok := f.(map[string]any)
				if !ok {
					continue
				}
				rec := featureRecord(feature, "", model.SourceKindArchive, "", &Payload{})
				if id := scalarString(feature["id"]); id != "" {
					if _, exists := rec.Fields["id"]; !exists {
						rec.Fields["id"] = id
					}
				}
				out = append(out, rec.Fields)
			}
			return out, nil
		}
		records, ok := v["records"].([]any)
		if !ok {
			return nil, errors.New(`expected an array, "records" or "features"`)
		}
		items = records
	default:
		return nil, errors.New("unexpected json document")
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

type htmlDecoder struct{}

func (htmlDecoder) Name() string { return FormatHTML }

func (htmlDecoder) CanHandle(format, contentType string, body []byte) bool {
	if format != "" {
		return format == FormatHTML
	}
	if strings.Contains(contentType, "html") {
		return true
	}
	return bytes.Contains(bytes.ToLower(body), []byte("<table"))
}

func (htmlDecoder) Decode(body []byte) ([]map[string]any, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return tableRecords(doc), nil
}

type csvDecoder struct{}

func (csvDecoder) Name() string { return FormatCSV }

func (csvDecoder) CanHandle(format, contentType string, body []byte) bool {
	return format == "" || format == FormatCSV
}

// Decode reads a header row followed by data rows. Short rows are allowed.
func (csvDecoder) Decode(body []byte) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var out []map[string]any
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if allEmpty(row) {
			continue
		}
		fields := make(map[string]any, len(row))
		for i, cell := range row {
			if i < len(header) && header[i] != "" {
				fields[header[i]] = strings.TrimSpace(cell)
			} else {
				fields[fmt.Sprintf("col_%d", i)] = strings.TrimSpace(cell)
			}
		}
		out = append(out, fields)
	}
	return out, nil
}
