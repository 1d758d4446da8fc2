package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/lodeclaim/internal/cache"
	"github.com/ppiankov/lodeclaim/internal/model"
	"github.com/ppiankov/lodeclaim/internal/source"
)

func apiAdapter(err error) *fakeAdapter {
	return &fakeAdapter{id: "mlrs-api", kind: model.SourceKindAPI, err: err,
		rows: []map[string]any{{"id": "AZ-1001", "status": "ACTIVE"}}}
}

func legacyAdapter(mode string) *fakeAdapter {
	return &fakeAdapter{id: "lr2000", kind: model.SourceKindLegacy, mode: mode,
		rows: []map[string]any{{"id": "AZMC1001", "Case Number": "AZMC1001"}}}
}

func archiveAdapter(id string, err error) *fakeAdapter {
	return &fakeAdapter{id: id, kind: model.SourceKindArchive, err: err,
		rows: []map[string]any{{"id": "row-1", "case_number": "AZ 1001"}, {"id": "row-2"}}}
}

func outcomeIDs(outcomes []model.FetchOutcome) []string {
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		ids = append(ids, o.SourceID)
	}
	return ids
}

func TestOrchestratorPrimarySucceedsSkipsFallback(t *testing.T) {
	api, legacy, archive := apiAdapter(nil), legacyAdapter(model.LegacyModeFallback), archiveAdapter("az-archive", nil)

	// Input order must not matter.
	res := NewOrchestrator(2, time.Minute).Run(context.Background(), []source.Adapter{archive, legacy, api})

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, []string{"mlrs-api", "lr2000", "az-archive"}, outcomeIDs(res.Outcomes))
	assert.Equal(t, model.FetchOK, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchSkipped, res.Outcomes[1].Status)
	assert.Equal(t, model.FetchOK, res.Outcomes[2].Status)
	assert.Equal(t, int32(0), legacy.fetched.Load())

	require.Len(t, res.Records, 3)
	assert.Equal(t, "mlrs-api", res.Records[0].SourceID)
	assert.Equal(t, "az-archive", res.Records[1].SourceID)
}

func TestOrchestratorFallsBackToLegacy(t *testing.T) {
	api, legacy := apiAdapter(unreachable("mlrs-api")), legacyAdapter(model.LegacyModeFallback)

	res := NewOrchestrator(2, time.Minute).Run(context.Background(), []source.Adapter{api, legacy})

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.FetchError, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchUnreachable, res.Outcomes[0].ErrorKind)
	assert.Contains(t, res.Outcomes[0].Detail, "unreachable")
	assert.Equal(t, model.FetchOK, res.Outcomes[1].Status)
	assert.Equal(t, 1, res.Outcomes[1].Records)
	assert.Equal(t, int32(1), legacy.fetched.Load())
}

func TestOrchestratorLegacyAlwaysMode(t *testing.T) {
	api, legacy := apiAdapter(nil), legacyAdapter(model.LegacyModeAlways)

	res := NewOrchestrator(1, time.Minute).Run(context.Background(), []source.Adapter{api, legacy})

	assert.Equal(t, model.FetchOK, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchOK, res.Outcomes[1].Status)
	assert.Len(t, res.Records, 2)
}

func TestOrchestratorAuthFailureReported(t *testing.T) {
	authErr := model.NewSourceError("mlrs-api", model.FetchAuthRequired, nil)
	authErr.StatusCode = 401
	api, legacy := apiAdapter(authErr), legacyAdapter("")

	res := NewOrchestrator(1, time.Minute).Run(context.Background(), []source.Adapter{api, legacy})

	assert.Equal(t, model.FetchAuthRequired, res.Outcomes[0].ErrorKind)
	assert.Equal(t, model.FetchOK, res.Outcomes[1].Status, "empty mode means fallback")
}

func TestOrchestratorArchiveFailureIsolated(t *testing.T) {
	bad := archiveAdapter("bad-archive", model.NewSourceError("bad-archive", model.FetchMalformedResponse, nil))
	good := archiveAdapter("good-archive", nil)

	res := NewOrchestrator(4, time.Minute).Run(context.Background(), []source.Adapter{apiAdapter(nil), bad, good})

	require.Len(t, res.Outcomes, 3)
	byID := map[string]model.FetchOutcome{}
	for _, o := range res.Outcomes {
		byID[o.SourceID] = o
	}
	assert.Equal(t, model.FetchError, byID["bad-archive"].Status)
	assert.Equal(t, model.FetchMalformedResponse, byID["bad-archive"].ErrorKind)
	assert.Equal(t, model.FetchOK, byID["good-archive"].Status)
	assert.Equal(t, 2, byID["good-archive"].Records)
	assert.Equal(t, model.FetchOK, byID["mlrs-api"].Status)
}

func TestOrchestratorZeroRecordsIsOK(t *testing.T) {
	empty := &fakeAdapter{id: "empty-archive", kind: model.SourceKindArchive, rows: []map[string]any{}}

	res := NewOrchestrator(1, time.Minute).Run(context.Background(), []source.Adapter{empty})

	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].OK())
	assert.Zero(t, res.Outcomes[0].Records)
}

func TestOrchestratorDeadline(t *testing.T) {
	slow := archiveAdapter("slow-archive", nil)
	slow.delay = 10 * time.Second
	fast := apiAdapter(nil)

	start := time.Now()
	res := NewOrchestrator(2, 100*time.Millisecond).Run(context.Background(), []source.Adapter{fast, slow})
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.FetchOK, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchError, res.Outcomes[1].Status)
	assert.Equal(t, model.FetchUnreachable, res.Outcomes[1].ErrorKind)
}

func TestOrchestratorDeadlineKeepsFinishedPrimaryOutcome(t *testing.T) {
	api := apiAdapter(model.NewSourceError("mlrs-api", model.FetchAuthRequired, errors.New("401 Unauthorized")))
	legacy := legacyAdapter(model.LegacyModeFallback)
	legacy.delay = 10 * time.Second

	res := NewOrchestrator(2, 100*time.Millisecond).Run(context.Background(), []source.Adapter{api, legacy})

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, model.FetchError, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchAuthRequired, res.Outcomes[0].ErrorKind)
	assert.Contains(t, res.Outcomes[0].Detail, "401")
	assert.Equal(t, model.FetchError, res.Outcomes[1].Status)
	assert.Equal(t, model.FetchUnreachable, res.Outcomes[1].ErrorKind)
	assert.Empty(t, res.Records)
}

func TestOrchestratorCachesPayloads(t *testing.T) {
	dir := t.TempDir()
	api := apiAdapter(nil)

	online := NewOrchestrator(1, time.Minute, WithPayloadCache(cache.NewLayeredCache(time.Minute, dir, time.Hour)))
	first := online.Run(context.Background(), []source.Adapter{api})
	require.True(t, first.Outcomes[0].OK())
	assert.False(t, first.Outcomes[0].FromCache)

	// A fresh process (new memory layer) reading the same disk cache offline.
	offline := NewOrchestrator(1, time.Minute,
		WithPayloadCache(cache.NewLayeredCache(time.Minute, dir, time.Hour)),
		WithOffline(true))
	second := offline.Run(context.Background(), []source.Adapter{api})

	require.True(t, second.Outcomes[0].OK())
	assert.True(t, second.Outcomes[0].FromCache)
	assert.Equal(t, retrievedT1, second.Outcomes[0].RetrievedAt.UTC())
	assert.Equal(t, int32(1), api.fetched.Load(), "offline run must not fetch")
	require.Len(t, second.Records, 1)
	assert.Equal(t, retrievedT1, second.Records[0].RetrievedAt.UTC())
}

func TestOrchestratorOfflineMiss(t *testing.T) {
	offline := NewOrchestrator(1, time.Minute,
		WithPayloadCache(cache.NewLayeredCache(time.Minute, t.TempDir(), time.Hour)),
		WithOffline(true))

	res := offline.Run(context.Background(), []source.Adapter{apiAdapter(nil)})

	assert.Equal(t, model.FetchError, res.Outcomes[0].Status)
	assert.Equal(t, model.FetchUnreachable, res.Outcomes[0].ErrorKind)
	assert.Contains(t, res.Outcomes[0].Detail, "no cached payload")
}

func TestOrchestratorParseFailureNotCached(t *testing.T) {
	dir := t.TempDir()
	c := cache.NewLayeredCache(time.Minute, dir, time.Hour)
	bad := &badParseAdapter{fakeAdapter: apiAdapter(nil)}

	res := NewOrchestrator(1, time.Minute, WithPayloadCache(c)).Run(context.Background(), []source.Adapter{bad})

	assert.Equal(t, model.FetchMalformedResponse, res.Outcomes[0].ErrorKind)
	_, ok := c.GetStale(cache.Key("mlrs-api"))
	assert.False(t, ok)
}

type badParseAdapter struct {
	*fakeAdapter
}

func (a *badParseAdapter) Parse(*source.Payload) ([]model.RawRecord, error) {
	return nil, model.NewSourceError(a.id, model.FetchMalformedResponse, nil)
}
