package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/lodeclaim/internal/cache"
	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/source"
	"github.com/ppiankov/lodeclaim/internal/worker"
)

// PayloadCache stores raw payloads between runs.
type PayloadCache interface {
	Get(key string) (*cache.Entry, bool)
	GetStale(key string) (*cache.Entry, bool)
	Set(key string, entry *cache.Entry, ttl time.Duration) error
}

// FetchResult is the output of the fetch phase.
// Records and Outcomes are both in source precedence order.
type FetchResult struct {
	Records  []model.RawRecord
	Outcomes []model.FetchOutcome
}

// Orchestrator runs the fetch phase: the primary chain (API with legacy
// failover) and every archive run as jobs on a worker pool under one deadline.
type Orchestrator struct {
	workers int
	timeout time.Duration
	cache   PayloadCache
	offline bool
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPayloadCache serves and stores raw payloads through c.
func WithPayloadCache(c PayloadCache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = c }
}

// WithOffline serves payloads from the cache only, regardless of age.
func WithOffline(offline bool) OrchestratorOption {
	return func(o *Orchestrator) { o.offline = offline }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator. timeout bounds the whole phase;
// zero means no deadline.
func NewOrchestrator(workers int, timeout time.Duration, opts ...OrchestratorOption) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	o := &Orchestrator{
		workers: workers,
		timeout: timeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("lodeclaim/pipeline"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sourceResult is what one adapter contributed.
type sourceResult struct {
	outcome model.FetchOutcome
	records []model.RawRecord
}

// fetchCollector records each source as soon as it finishes, so a job cut
// short by the deadline still reports the sources it completed.
type fetchCollector struct {
	mu   sync.Mutex
	byID map[string]sourceResult
}

func (c *fetchCollector) add(sr sourceResult) {
	c.mu.Lock()
	c.byID[sr.outcome.SourceID] = sr
	c.mu.Unlock()
}

func (c *fetchCollector) get(id string) (sourceResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sr, ok := c.byID[id]
	return sr, ok
}

// fetchJob adapts a group of sequential source fetches to worker.Job.
type fetchJob struct {
	run func(ctx context.Context)
}

type fetchJobResult struct{}

func (j *fetchJob) Execute(ctx context.Context) worker.Result {
	j.run(ctx)
	return &fetchJobResult{}
}

// GetError is nil: source failures travel as outcomes.
func (r *fetchJobResult) GetError() error {
	return nil
}

// Run fetches and parses every adapter. It always returns one outcome per
// adapter. Sources still pending when the deadline passes are reported as
// errors.
func (o *Orchestrator) Run(ctx context.Context, adapters []source.Adapter) FetchResult {
	ordered := append([]source.Adapter(nil), adapters...)
	source.SortByPrecedence(ordered)

	var primary, archives []source.Adapter
	for _, a := range ordered {
		if a.Kind() == model.SourceKindArchive {
			archives = append(archives, a)
		} else {
			primary = append(primary, a)
		}
	}

	phaseCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	phaseCtx, span := o.tracer.Start(phaseCtx, "fetch",
		trace.WithAttributes(attribute.Int("sources", len(ordered))))
	defer span.End()

	collected := &fetchCollector{byID: make(map[string]sourceResult, len(ordered))}

	var jobs []worker.Job
	if len(primary) > 0 {
		jobs = append(jobs, &fetchJob{run: func(ctx context.Context) {
			o.runPrimary(ctx, primary, collected.add)
		}})
	}
	for _, a := range archives {
		jobs = append(jobs, &fetchJob{run: func(ctx context.Context) {
			collected.add(o.fetchSource(ctx, a))
		}})
	}

	worker.Run(phaseCtx, o.workers, jobs)

	var out FetchResult
	for _, a := range ordered {
		sr, ok := collected.get(a.ID())
		if !ok {
			// The source never started: the deadline passed first.
			sr.outcome = model.FetchOutcome{
				SourceID:  a.ID(),
				Kind:      a.Kind(),
				Status:    model.FetchError,
				ErrorKind: model.FetchUnreachable,
				Detail:    fmt.Sprintf("%v: fetch phase deadline exceeded", model.ErrSourceUnavailable),
			}
			o.logger.Warn("source pending at deadline", "source", a.ID())
		}
		out.Outcomes = append(out.Outcomes, sr.outcome)
		out.Records = append(out.Records, sr.records...)
	}
	return out
}

// runPrimary walks API adapters, then legacy adapters. A legacy adapter in
// fallback mode runs only while no primary source has succeeded; in always
// mode it runs regardless. Each finished source is passed to report.
func (o *Orchestrator) runPrimary(ctx context.Context, adapters []source.Adapter, report func(sourceResult)) {
	succeeded := false
	for _, a := range adapters {
		if a.Kind() == model.SourceKindLegacy && succeeded && legacyMode(a) != model.LegacyModeAlways {
			report(sourceResult{outcome: model.FetchOutcome{
				SourceID: a.ID(),
				Kind:     a.Kind(),
				Status:   model.FetchSkipped,
				Detail:   "primary source succeeded",
			}})
			continue
		}
		if ctx.Err() != nil {
			// Left for Run to report as pending at the deadline.
			continue
		}
		if a.Kind() == model.SourceKindLegacy && !succeeded {
			o.logger.Info("falling back to legacy source", "source", a.ID())
		}

		r := o.fetchSource(ctx, a)
		if r.outcome.OK() {
			succeeded = true
		}
		report(r)
	}
}

func legacyMode(a source.Adapter) string {
	if m, ok := a.(interface{ Mode() string }); ok {
		return m.Mode()
	}
	return model.LegacyModeFallback
}

// fetchSource fetches (or loads from cache) and parses one adapter.
func (o *Orchestrator) fetchSource(ctx context.Context, a source.Adapter) sourceResult {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "fetch."+a.ID(), trace.WithAttributes(
		attribute.String("source.id", a.ID()),
		attribute.String("source.kind", string(a.Kind())),
	))
	defer span.End()

	outcome := model.FetchOutcome{SourceID: a.ID(), Kind: a.Kind()}
	fail := func(err error) sourceResult {
		outcome.Status = model.FetchError
		outcome.ErrorKind = model.KindOf(err)
		if outcome.ErrorKind == "" {
			outcome.ErrorKind = model.FetchUnreachable
		}
		var se *model.SourceError
		if errors.As(err, &se) && se.Attempts > outcome.Attempts {
			outcome.Attempts = se.Attempts
		}
		outcome.Detail = err.Error()
		outcome.Duration = o.now().Sub(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("source failed", "source", a.ID(), "kind", outcome.ErrorKind, "attempts", outcome.Attempts, "error", err)
		return sourceResult{outcome: outcome}
	}

	payload, err := o.payload(ctx, a)
	if err != nil {
		return fail(err)
	}
	outcome.Attempts = payload.Attempts
	outcome.FromCache = payload.FromCache
	outcome.RetrievedAt = payload.RetrievedAt

	records, err := a.Parse(payload)
	if err != nil {
		return fail(err)
	}

	if o.cache != nil && !payload.FromCache {
		entry := &cache.Entry{
			Data: payload.Body,
			Meta: cache.Meta{
				SourceID:    a.ID(),
				URL:         payload.URL,
				ContentType: payload.ContentType,
				RetrievedAt: payload.RetrievedAt,
			},
		}
		if err := o.cache.Set(cache.Key(a.ID()), entry, 0); err != nil {
			o.logger.Warn("payload cache write failed", "source", a.ID(), "error", err)
		}
	}

	outcome.Status = model.FetchOK
	outcome.Records = len(records)
	outcome.Duration = o.now().Sub(start)
	span.SetAttributes(attribute.Int("records", len(records)), attribute.Bool("from_cache", payload.FromCache))
	o.logger.Info("source fetched", "source", a.ID(), "records", len(records), "attempts", outcome.Attempts, "from_cache", payload.FromCache)
	return sourceResult{outcome: outcome, records: records}
}

// payload returns the cached payload when one is usable, otherwise fetches.
func (o *Orchestrator) payload(ctx context.Context, a source.Adapter) (*source.Payload, error) {
	key := cache.Key(a.ID())

	if o.offline {
		if o.cache == nil {
			return nil, offlineMiss(a.ID(), "offline run without a payload cache")
		}
		entry, ok := o.cache.GetStale(key)
		if !ok {
			return nil, offlineMiss(a.ID(), "offline run and no cached payload")
		}
		return payloadFromEntry(a, entry), nil
	}

	if o.cache != nil {
		if entry, ok := o.cache.Get(key); ok {
			return payloadFromEntry(a, entry), nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, model.NewSourceError(a.ID(), model.FetchUnreachable, err)
	}
	return a.Fetch(ctx)
}

func offlineMiss(sourceID, reason string) error {
	se := model.NewSourceError(sourceID, model.FetchUnreachable, errors.New(reason))
	se.Retryable = false
	return se
}

// payloadFromEntry rebuilds a payload; the original capture time is kept.
func payloadFromEntry(a source.Adapter, entry *cache.Entry) *source.Payload {
	return &source.Payload{
		SourceID:    a.ID(),
		Kind:        a.Kind(),
		URL:         entry.Meta.URL,
		ContentType: entry.Meta.ContentType,
		Body:        entry.Data,
		RetrievedAt: entry.Meta.RetrievedAt,
		FromCache:   true,
	}
}
