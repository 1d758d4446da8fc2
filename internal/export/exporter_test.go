package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/lodeclaim/internal/model"
)

type stubStore struct {
	err    error
	claims []model.Claim
}

func (s *stubStore) Replace(_ context.Context, claims []model.Claim) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.claims = claims
	return len(claims), nil
}

func TestExportFileOnly(t *testing.T) {
	dir := t.TempDir()
	outcomes, err := NewExporter(dir, "mining_claims").Export(context.Background(), sampleClaims())
	require.NoError(t, err)

	require.Len(t, outcomes, 1)
	assert.Equal(t, SinkFile, outcomes[0].Sink)
	assert.Equal(t, 2, outcomes[0].Rows)
	assert.Empty(t, outcomes[0].Error)

	for _, name := range []string{"claims.geojson", "active_claims.geojson", "unknown_claims.geojson"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestExportWithStore(t *testing.T) {
	store := &stubStore{}
	outcomes, err := NewExporter(t.TempDir(), "mining_claims", WithStore(store, "sqlite:///tmp/c.db")).
		Export(context.Background(), sampleClaims())
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	assert.Equal(t, SinkDatabase, outcomes[1].Sink)
	assert.Equal(t, "sqlite:///tmp/c.db", outcomes[1].Target)
	assert.Equal(t, 2, outcomes[1].Rows)
	assert.Len(t, store.claims, 2)
}

func TestExportStoreFailureKeepsFileSink(t *testing.T) {
	dir := t.TempDir()
	store := &stubStore{err: errors.New("connection refused")}

	outcomes, err := NewExporter(dir, "mining_claims", WithStore(store, "postgres://db/gis")).
		Export(context.Background(), sampleClaims())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExportFailure)

	require.Len(t, outcomes, 2)
	assert.Empty(t, outcomes[0].Error)
	assert.Equal(t, 2, outcomes[0].Rows)
	assert.Contains(t, outcomes[1].Error, "connection refused")
	assert.Zero(t, outcomes[1].Rows)

	claims, err := ReadGeoJSON(filepath.Join(dir, ClaimsFileName))
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestExportFileFailure(t *testing.T) {
	// A regular file where the output directory should be.
	blocker := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	outcomes, err := NewExporter(blocker, "mining_claims").Export(context.Background(), sampleClaims())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExportFailure)
	assert.NotEmpty(t, outcomes[0].Error)
}
