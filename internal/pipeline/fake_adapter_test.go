package pipeline

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/source"
)

var retrievedT1 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// fakeAdapter serves canned records as a JSON payload.
type fakeAdapter struct {
	id      string
	kind    model.SourceKind
	mode    string
	rows    []map[string]any
	err     error
	delay   time.Duration
	fetched atomic.Int32
}

func (a *fakeAdapter) ID() string             { return a.id }
func (a *fakeAdapter) Kind() model.SourceKind { return a.kind }
func (a *fakeAdapter) Endpoint() string       { return "https://example.test/" + a.id }
func (a *fakeAdapter) Mode() string           { return a.mode }

func (a *fakeAdapter) Fetch(ctx context.Context) (*source.Payload, error) {
	a.fetched.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, model.NewSourceError(a.id, model.FetchUnreachable, ctx.Err())
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	body, err := json.Marshal(a.rows)
	if err != nil {
		return nil, err
	}
	return &source.Payload{
		SourceID:    a.id,
		Kind:        a.kind,
		URL:         a.Endpoint(),
		ContentType: "application/json",
		Body:        body,
		RetrievedAt: retrievedT1,
		Attempts:    1,
	}, nil
}

func (a *fakeAdapter) Parse(p *source.Payload) ([]model.RawRecord, error) {
	var rows []map[string]any
	if err := json.Unmarshal(p.Body, &rows); err != nil {
		return nil, model.NewSourceError(a.id, model.FetchMalformedResponse, err)
	}
	records := make([]model.RawRecord, 0, len(rows))
	for _, row := range rows {
		key, _ := row["id"].(string)
		records = append(records, model.RawRecord{
			SourceID:    a.id,
			SourceKind:  a.kind,
			NativeKey:   key,
			Fields:      row,
			RetrievedAt: p.RetrievedAt,
		})
	}
	return records, nil
}

func unreachable(id string) error {
	return model.NewSourceError(id, model.FetchUnreachable, context.DeadlineExceeded)
}
