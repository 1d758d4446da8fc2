// Package pipeline drives a run: fetch, normalize, reconcile, classify, export.
// Each stage takes the previous stage's full output and returns a new value.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/lodeclaim/internal/cache"
	"github.com/ppiankov/lodeclaim/internal/export"
	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/lifecycle"
	"github.com/ppiankov/lodeclaim/internal/llm"
	"github.com/ppiankov/lodeclaim/internal/metrics"
	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/normalize"
	"github.com/ppiankov/lodeclaim/internal/reconcile"
	"github.com/ppiankov/lodeclaim/internal/source"
	"github.com/ppiankov/lodeclaim/internal/worker"
)

// Output file names, relative to the output directory.
const (
	RawDirName     = "raw"
	UnresolvedFile = "unresolved.json"
	SummaryFile    = "summary.json"
	LLMSummaryFile = "summary.llm.md"
)

// narrativeIDs caps the claim ids a narrative may cite.
const narrativeIDs = 40

// Pipeline chains the stages of a run.
type Pipeline struct {
	config       *model.Config
	registry     *source.Registry
	orchestrator *Orchestrator
	normalizer   *normalize.Normalizer
	classifier   *lifecycle.Classifier
	exporter     *export.Exporter
	store        *export.Store
	summarizer   *llm.Summarizer // Optional LLM summarizer (nil if disabled)
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for every stage.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRegistry replaces the adapters built from config.
func WithRegistry(r *source.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// RunOptions selects what a single run does.
type RunOptions struct {
	// Sources restricts the run to these kinds or ids; empty means all.
	Sources []string

	// AsOf is the lifecycle reference date; zero means today (UTC).
	AsOf time.Time
}

// NewPipeline wires every stage from cfg.
func NewPipeline(cfg *model.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("lodeclaim/pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry == nil {
		limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
		fetcher := fetch.New(cfg.HTTP, cfg.Fetch, fetch.WithLimiter(limiter), fetch.WithLogger(p.logger))
		registry, err := source.NewRegistryFromConfig(cfg, fetcher)
		if err != nil {
			return nil, fmt.Errorf("sources: %w", err)
		}
		p.registry = registry
	}

	normalizer, err := normalize.New(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("mappings: %w", err)
	}
	p.normalizer = normalizer
	p.classifier = lifecycle.NewClassifier(cfg.Lifecycle.TerminalStatuses)

	orchOpts := []OrchestratorOption{
		WithOffline(cfg.Fetch.Offline),
		WithOrchestratorLogger(p.logger),
	}
	if cfg.Cache.Enabled || cfg.Fetch.Offline {
		rawDir := filepath.Join(cfg.Output.Dir, RawDirName)
		orchOpts = append(orchOpts, WithPayloadCache(cache.NewLayeredCache(cfg.Cache.MemoryTTL, rawDir, cfg.Cache.DiskTTL)))
	}
	p.orchestrator = NewOrchestrator(cfg.Fetch.Workers, cfg.Fetch.Timeout, orchOpts...)

	exportOpts := []export.Option{export.WithLogger(p.logger)}
	if cfg.Database.DSN != "" {
		store, err := export.OpenStore(cfg.Database.DSN, cfg.Database.Dataset)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		p.store = store
		p.logger.Debug("database sink enabled", "dialect", store.Dialect(), "dsn", export.RedactDSN(cfg.Database.DSN))
		exportOpts = append(exportOpts, export.WithStore(store, export.RedactDSN(cfg.Database.DSN)))
	}
	p.exporter = export.NewExporter(cfg.Output.Dir, cfg.Database.Dataset, exportOpts...)

	if cfg.LLM.Provider != "" {
		s, err := llm.NewSummarizer(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
		if err != nil {
			p.logger.Warn("LLM narrative disabled", "error", err)
		} else {
			p.summarizer = s
			p.logger.Debug("LLM narrative enabled", "provider", s.ProviderName(), "model", cfg.LLM.Model)
		}
	}

	return p, nil
}

// Registry returns the adapters available to the pipeline.
func (p *Pipeline) Registry() *source.Registry {
	return p.registry
}

// Close releases the database connection, if any.
func (p *Pipeline) Close() error {
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// Run executes one batch run. A summary is returned (and written) whenever
// the run got far enough to select sources. The error is ErrNoClaims when
// nothing could be reconciled and wraps ErrExportFailure when a sink failed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*model.RunSummary, error) {
	adapters, err := p.registry.Select(opts.Sources)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, errors.New("no sources enabled")
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = p.now()
	}
	asOf = model.Date(asOf)

	summary := &model.RunSummary{
		RunID:        uuid.NewString(),
		Jurisdiction: p.config.Jurisdiction,
		AsOf:         asOf,
		StartedAt:    p.now().UTC(),
	}
	m := metrics.New()

	ctx, span := p.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.String("as_of", asOf.Format("2006-01-02")),
	))
	defer span.End()

	log := p.logger.With("run_id", summary.RunID)
	log.Info("run started", "sources", len(adapters), "as_of", asOf.Format("2006-01-02"))

	// 1. Fetch
	stageStart := time.Now()
	fetched := p.orchestrator.Run(ctx, adapters)
	m.ObserveStage("fetch", stageStart)
	summary.Sources = fetched.Outcomes
	summary.RawRecords = len(fetched.Records)
	for _, o := range fetched.Outcomes {
		m.ObserveFetch(o)
	}

	// 2. Normalize
	stageStart = time.Now()
	batch := p.normalizer.NormalizeAll(fetched.Records)
	m.ObserveStage("normalize", stageStart)
	summary.MalformedFields = batch.MalformedFields
	m.AddMalformed(p.normalizer.MalformedCounts())

	// 3. Reconcile
	stageStart = time.Now()
	merged := reconcile.Merge(batch.Identified, batch.Unresolved)
	m.ObserveStage("reconcile", stageStart)
	summary.Merged = len(merged.Claims)
	summary.Unresolved = len(merged.Unresolved)
	summary.Conflicted = merged.Conflicted
	m.SetReconciled(summary.Unresolved, summary.Conflicted)
	if merged.Conflicted > 0 {
		log.Warn("claims need review", "error", model.ErrConflictDetected, "count", merged.Conflicted)
		for _, c := range merged.Claims {
			for _, conflict := range c.Conflicts {
				log.Debug("attribute conflict", "claim_id", c.ClaimID, "conflict", reconcile.ConflictString(conflict))
			}
		}
	}

	// 4. Classify
	stageStart = time.Now()
	claims, dist := p.classifier.ClassifyAll(merged.Claims, asOf)
	m.ObserveStage("classify", stageStart)
	summary.Lifecycle = dist.ByName()
	m.SetLifecycle(summary.Lifecycle)

	var runErr error
	if len(claims) == 0 {
		// Keep the previous export intact; there is nothing to replace it with.
		summary.Status = model.RunFailed
		runErr = model.ErrNoClaims
		log.Error("run produced no claims", "raw_records", summary.RawRecords, "unresolved", summary.Unresolved)
	} else {
		// 5. Export
		stageStart = time.Now()
		outcomes, err := p.exporter.Export(ctx, claims)
		m.ObserveStage("export", stageStart)
		summary.Exports = outcomes
		for _, o := range outcomes {
			m.ObserveExport(o)
		}
		summary.Status = model.RunOK
		if err != nil {
			summary.Status = model.RunPartial
			runErr = err
		}
	}

	// 6. Narrative, after every result is final
	if p.summarizer.IsEnabled() {
		narrative, err := p.summarizer.GenerateSummary(ctx, *summary, llm.ReviewIDs(claims, narrativeIDs))
		if err != nil {
			log.Warn("LLM narrative failed", "error", err)
		} else {
			summary.LLM = narrative
		}
	}

	summary.FinishedAt = p.now().UTC()
	if err := p.writeArtifacts(summary, merged.Unresolved, m); err != nil {
		runErr = errors.Join(runErr, err)
	}

	span.SetAttributes(
		attribute.String("run.status", string(summary.Status)),
		attribute.Int("claims", summary.Merged),
	)
	log.Info("run finished", "status", summary.Status, "claims", summary.Merged,
		"unresolved", summary.Unresolved, "conflicted", summary.Conflicted, "lifecycle", dist.String())
	return summary, runErr
}

func (p *Pipeline) writeArtifacts(summary *model.RunSummary, unresolved []model.UnresolvedRecord, m *metrics.Metrics) error {
	dir := p.config.Output.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if unresolved == nil {
		unresolved = []model.UnresolvedRecord{}
	}
	if err := export.WriteJSON(filepath.Join(dir, UnresolvedFile), unresolved); err != nil {
		return fmt.Errorf("write unresolved: %w", err)
	}
	if err := export.WriteJSON(filepath.Join(dir, SummaryFile), summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := m.WriteTextfile(filepath.Join(dir, metrics.FileName), summary.FinishedAt); err != nil {
		p.logger.Warn("metrics not written", "error", err)
	}
	if md := llm.RenderSeparateMarkdown(summary.LLM); md != "" {
		if err := export.WriteFileAtomic(filepath.Join(dir, LLMSummaryFile), []byte(md)); err != nil {
			p.logger.Warn("LLM summary not written", "error", err)
		}
	}
	return nil
}

// Reclassify recomputes lifecycle states of a cached canonical claim set.
func Reclassify(claims []model.Claim, terminalStatuses []string, asOf time.Time) ([]model.Claim, lifecycle.Distribution) {
	return lifecycle.NewClassifier(terminalStatuses).ClassifyAll(claims, model.Date(asOf))
}
