package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// ClaimsFileName is the canonical claim set written by every run.
const ClaimsFileName = "claims.geojson"

// Sink names used in export outcomes.
const (
	SinkFile     = "geojson"
	SinkDatabase = "database"
)

// ClaimStore replaces a dataset table with a claim set.
type ClaimStore interface {
	Replace(ctx context.Context, claims []model.Claim) (int, error)
}

// Exporter writes a classified claim set to every configured sink.
type Exporter struct {
	dir     string
	dataset string
	store   ClaimStore
	target  string
	logger  *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithStore adds a database sink. target names it in outcomes and must not
// carry credentials.
func WithStore(store ClaimStore, target string) Option {
	return func(e *Exporter) {
		e.store = store
		e.target = target
	}
}

// WithLogger sets the exporter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExporter creates an exporter writing files into dir.
func NewExporter(dir, dataset string, opts ...Option) *Exporter {
	e := &Exporter{
		dir:     dir,
		dataset: dataset,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export runs the file sink and, when configured, the database sink
// concurrently. Each sink runs to completion regardless of the other.
// Outcomes come back in fixed order (file, database). The returned error
// wraps ErrExportFailure and joins every sink failure.
func (e *Exporter) Export(ctx context.Context, claims []model.Claim) ([]model.ExportOutcome, error) {
	outcomes := []model.ExportOutcome{{
		Sink:   SinkFile,
		Target: filepath.Join(e.dir, ClaimsFileName),
	}}
	if e.store != nil {
		outcomes = append(outcomes, model.ExportOutcome{Sink: SinkDatabase, Target: e.target})
	}
	errs := make([]error, len(outcomes))

	// Plain group: a failing sink must not cancel the other.
	var g errgroup.Group

	g.Go(func() error {
		errs[0] = e.writeFiles(claims)
		if errs[0] == nil {
			outcomes[0].Rows = len(claims)
		}
		return errs[0]
	})

	if e.store != nil {
		g.Go(func() error {
			n, err := e.store.Replace(ctx, claims)
			if err != nil {
				errs[1] = fmt.Errorf("database %s: %w", e.target, err)
				return errs[1]
			}
			outcomes[1].Rows = n
			return nil
		})
	}

	_ = g.Wait()

	var failed []error
	for i, err := range errs {
		if err == nil {
			e.logger.Info("export complete", "sink", outcomes[i].Sink, "target", outcomes[i].Target, "rows", outcomes[i].Rows)
			continue
		}
		outcomes[i].Error = err.Error()
		e.logger.Error("export failed", "sink", outcomes[i].Sink, "target", outcomes[i].Target, "error", err)
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		return outcomes, fmt.Errorf("%w: %w", model.ErrExportFailure, errors.Join(failed...))
	}
	return outcomes, nil
}

func (e *Exporter) writeFiles(claims []model.Claim) error {
	if err := WriteGeoJSON(filepath.Join(e.dir, ClaimsFileName), e.dataset, claims); err != nil {
		return fmt.Errorf("write %s: %w", ClaimsFileName, err)
	}
	if _, err := WriteStateFiles(e.dir, e.dataset, claims); err != nil {
		return fmt.Errorf("write state files: %w", err)
	}
	return nil
}
