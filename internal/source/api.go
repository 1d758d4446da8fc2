package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/model"
)

const featureCollectionSchemaURL = "https://lodeclaim.local/schemas/feature-collection.schema.json"

// featureCollectionSchema accepts an RFC 7946 FeatureCollection whose features
// carry a properties object. Geometry may be null.
const featureCollectionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "features"],
  "properties": {
    "type": {"const": "FeatureCollection"},
    "features": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "properties"],
        "properties": {
          "type": {"const": "Feature"},
          "id": {"type": ["string", "number"]},
          "properties": {"type": "object"},
          "geometry": {
            "oneOf": [
              {"type": "null"},
              {
                "type": "object",
                "required": ["type", "coordinates"],
                "properties": {
                  "type": {"enum": ["Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon"]},
                  "coordinates": {"type": "array"}
                }
              }
            ]
          }
        }
      }
    }
  }
}`

// APIAdapter reads claims from the structured JSON API.
type APIAdapter struct {
	cfg     model.APISourceConfig
	fetcher *fetch.Fetcher
	schema  *jsonschema.Schema
}

// NewAPIAdapter creates an adapter for the configured API endpoint.
func NewAPIAdapter(cfg model.APISourceConfig, fetcher *fetch.Fetcher) (*APIAdapter, error) {
	schema, err := compileFeatureCollectionSchema()
	if err != nil {
		return nil, err
	}
	return &APIAdapter{cfg: cfg, fetcher: fetcher, schema: schema}, nil
}

func compileFeatureCollectionSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(featureCollectionSchemaURL, strings.NewReader(featureCollectionSchema)); err != nil {
		return nil, fmt.Errorf("load api schema: %w", err)
	}
	schema, err := c.Compile(featureCollectionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile api schema: %w", err)
	}
	return schema, nil
}

// ID returns the source id.
func (a *APIAdapter) ID() string { return a.cfg.ID }

// Kind returns SourceKindAPI.
func (a *APIAdapter) Kind() model.SourceKind { return model.SourceKindAPI }

// Endpoint returns the request URL including the configured query.
func (a *APIAdapter) Endpoint() string {
	u, err := url.Parse(a.cfg.URL)
	if err != nil || len(a.cfg.Query) == 0 {
		return a.cfg.URL
	}
	q := u.Query()
	for k, v := range a.cfg.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch requests the claims FeatureCollection.
func (a *APIAdapter) Fetch(ctx context.Context) (*Payload, error) {
	header := http.Header{}
	header.Set("Accept", "application/geo+json, application/json")
	if a.cfg.APIKeyEnv != "" {
		if key := os.Getenv(a.cfg.APIKeyEnv); key != "" {
			header.Set("X-Api-Key", key)
		}
	}

	resp, err := a.fetcher.Do(ctx, fetch.Request{
		SourceID: a.cfg.ID,
		Method:   http.MethodGet,
		URL:      a.Endpoint(),
		Header:   header,
	})
	if err != nil {
		return nil, err
	}

	return &Payload{
		SourceID:    a.cfg.ID,
		Kind:        model.SourceKindAPI,
		URL:         resp.FinalURL,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		RetrievedAt: resp.RetrievedAt,
		Attempts:    resp.Attempts,
	}, nil
}

// Parse validates the payload and returns one record per feature.
// Feature properties become fields; the geometry is kept under "geometry".
func (a *APIAdapter) Parse(p *Payload) ([]model.RawRecord, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(p.Body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed(a.cfg.ID, fmt.Errorf("decode json: %w", err))
	}
	if err := a.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, malformed(a.cfg.ID, fmt.Errorf("schema validation failed at %s: %s", ve.InstanceLocation, ve.Message))
		}
		return nil, malformed(a.cfg.ID, fmt.Errorf("schema validation failed: %w", err))
	}

	features := doc.(map[string]any)["features"].([]any)
	records := make([]model.RawRecord, 0, len(features))
	for _, f := range features {
		records = append(records, featureRecord(f.(map[string]any), a.cfg.ID, model.SourceKindAPI, a.cfg.KeyField, p))
	}
	return records, nil
}

// featureRecord converts one GeoJSON feature into a raw record.
func featureRecord(feature map[string]any, sourceID string, kind model.SourceKind, keyField string, p *Payload) model.RawRecord {
	fields := make(map[string]any)
	if props, ok := feature["properties"].(map[string]any); ok {
		for k, v := range props {
			fields[k] = v
		}
	}
	if geom, ok := feature["geometry"].(map[string]any); ok {
		fields["geometry"] = geom
	}

	nativeKey := ""
	if keyField != "" {
		nativeKey = scalarString(fields[keyField])
	}
	if nativeKey == "" {
		nativeKey = scalarString(feature["id"])
	}

	return model.RawRecord{
		SourceID:    sourceID,
		SourceKind:  kind,
		NativeKey:   nativeKey,
		Fields:      fields,
		RetrievedAt: p.RetrievedAt,
	}
}

// scalarString renders a decoded JSON scalar. Objects and arrays render as "".
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return val.String()
	case float64, int, int64, bool:
		return fmt.Sprint(val)
	default:
		return ""
	}
}
