// Package source implements the adapters that pull raw claim records from the
// structured API, the legacy report system and historical archives.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/model"
)

// Payload is the raw body captured from one source.
type Payload struct {
	SourceID    string
	Kind        model.SourceKind
	URL         string
	ContentType string
	Body        []byte
	RetrievedAt time.Time
	Attempts    int
	FromCache   bool
}

// Adapter fetches and parses one source.
type Adapter interface {
	// ID returns the configured source id
	ID() string

	// Kind returns the source kind, which fixes merge precedence
	Kind() model.SourceKind

	// Endpoint returns the URL the adapter reads from
	Endpoint() string

	// Fetch retrieves the raw payload. Failures are *model.SourceError.
	Fetch(ctx context.Context) (*Payload, error)

	// Parse decodes a payload into source-native records
	Parse(p *Payload) ([]model.RawRecord, error)
}

// Registry holds the adapters available to a run.
type Registry struct {
	adapters []Adapter
	byID     map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Adapter)}
}

// Register adds an adapter. Source ids must be unique.
func (r *Registry) Register(adapter Adapter) error {
	if _, exists := r.byID[adapter.ID()]; exists {
		return fmt.Errorf("duplicate source id %q", adapter.ID())
	}
	r.adapters = append(r.adapters, adapter)
	r.byID[adapter.ID()] = adapter
	return nil
}

// Get returns the adapter with the given id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns every adapter in precedence order: API, legacy, archives.
// Registration order is kept within a kind.
func (r *Registry) All() []Adapter {
	out := append([]Adapter(nil), r.adapters...)
	SortByPrecedence(out)
	return out
}

// Select returns the adapters matching selectors, in precedence order.
// A selector is a source kind (api, legacy, archive) or a source id.
// No selectors selects everything.
func (r *Registry) Select(selectors []string) ([]Adapter, error) {
	if len(selectors) == 0 {
		return r.All(), nil
	}

	chosen := make(map[string]bool)
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		matched := false
		if kind := model.SourceKind(strings.ToLower(sel)); kind.Valid() {
			for _, a := range r.adapters {
				if a.Kind() == kind {
					chosen[a.ID()] = true
					matched = true
				}
			}
		}
		if a, ok := r.byID[sel]; ok {
			chosen[a.ID()] = true
			matched = true
		}
		if !matched {
			return nil, fmt.Errorf("unknown source %q", sel)
		}
	}

	var out []Adapter
	for _, a := range r.All() {
		if chosen[a.ID()] {
			out = append(out, a)
		}
	}
	return out, nil
}

// SortByPrecedence orders adapters by kind rank, keeping relative order within a kind.
func SortByPrecedence(adapters []Adapter) {
	sort.SliceStable(adapters, func(i, j int) bool {
		return adapters[i].Kind().Rank() < adapters[j].Kind().Rank()
	})
}

func malformed(sourceID string, err error) error {
	return model.NewSourceError(sourceID, model.FetchMalformedResponse, err)
}

// NewRegistryFromConfig registers every enabled source in cfg.
func NewRegistryFromConfig(cfg *model.Config, fetcher *fetch.Fetcher) (*Registry, error) {
	r := NewRegistry()

	if api := cfg.Sources.API; api.Enabled {
		if api.ID == "" || api.URL == "" {
			return nil, fmt.Errorf("api source needs id and url")
		}
		adapter, err := NewAPIAdapter(api, fetcher)
		if err != nil {
			return nil, err
		}
		if err := r.Register(adapter); err != nil {
			return nil, err
		}
	}

	if legacy := cfg.Sources.Legacy; legacy.Enabled {
		if legacy.ID == "" || legacy.URL == "" {
			return nil, fmt.Errorf("legacy source needs id and url")
		}
		if legacy.Mode != "" && legacy.Mode != model.LegacyModeFallback && legacy.Mode != model.LegacyModeAlways {
			return nil, fmt.Errorf("legacy source %q: unknown mode %q", legacy.ID, legacy.Mode)
		}
		if err := r.Register(NewLegacyAdapter(legacy, fetcher)); err != nil {
			return nil, err
		}
	}

	for _, archive := range cfg.Sources.Archives {
		if !archive.Enabled {
			continue
		}
		if archive.ID == "" || archive.URL == "" {
			return nil, fmt.Errorf("archive source needs id and url")
		}
		if err := r.Register(NewArchiveAdapter(archive, fetcher)); err != nil {
			return nil, err
		}
	}

	return r, nil
}
