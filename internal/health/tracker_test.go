package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

const listURL = "https://easylist.to/easylist/easylist.txt"

func newTracker(st store.Store) *Tracker {
	return New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchStateMachine(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr := newTracker(st)

	require.NoError(t, tr.BeginFetch(ctx, listURL))
	h, ok, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.FetchPending, h.LastFetchStatus)
	assert.False(t, h.LastFetchAt.IsZero())

	require.NoError(t, tr.RecordSuccess(ctx, listURL, 1234, true))
	h, _, err = tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, h.LastFetchStatus)
	assert.Equal(t, 1234, h.RuleCount)
	assert.True(t, h.HasLastKnownGood)
	require.NotNil(t, h.LastSuccessAt)
}

func TestErrorPreservesSuccessEvidence(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore())

	require.NoError(t, tr.BeginFetch(ctx, listURL))
	require.NoError(t, tr.RecordSuccess(ctx, listURL, 1234, true))

	h, _, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	lastSuccess := h.LastSuccessAt
	require.NotNil(t, lastSuccess)

	require.NoError(t, tr.BeginFetch(ctx, listURL))
	require.NoError(t, tr.RecordError(ctx, listURL, errors.New("connection refused")))

	h, _, err = tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.Equal(t, models.FetchError, h.LastFetchStatus)
	assert.Equal(t, "connection refused", h.LastError)
	// A transient failure never erases prior success evidence.
	assert.Equal(t, 1234, h.RuleCount)
	assert.Equal(t, lastSuccess, h.LastSuccessAt)
	assert.True(t, h.HasLastKnownGood)
	assert.True(t, Degraded(h))
	assert.False(t, Broken(h))
}

func TestSuccessClearsError(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore())

	require.NoError(t, tr.RecordError(ctx, listURL, errors.New("timeout")))
	require.NoError(t, tr.RecordSuccess(ctx, listURL, 10, false))

	h, _, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.Equal(t, models.FetchSuccess, h.LastFetchStatus)
	assert.Empty(t, h.LastError)
}

func TestBrokenList(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore())

	require.NoError(t, tr.RecordError(ctx, listURL, errors.New("dns failure")))

	h, _, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.True(t, Broken(h))
	assert.False(t, Degraded(h))
}

func TestRecordParseStats(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(store.NewMemoryStore())

	samples := []models.UnsupportedPattern{
		{Category: "scriptlet (##+js)", Line: "example.com##+js(acis)"},
	}
	require.NoError(t, tr.RecordParseStats(ctx, listURL, 3, samples))

	h, _, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.Equal(t, 3, h.ParseErrors)
	assert.Equal(t, samples, h.UnsupportedPatterns)
}

func TestQuotaDegradeDropsSamples(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.MaxValueBytes = 600
	tr := newTracker(st)

	var samples []models.UnsupportedPattern
	for i := 0; i < models.MaxUnsupportedPatterns; i++ {
		samples = append(samples, models.UnsupportedPattern{
			Category: "scriptlet (##+js)",
			Line:     "example.com##+js(abort-current-script, document.createElement)",
		})
	}

	// The full payload is over quota; the degraded retry collapses the
	// samples and must succeed.
	require.NoError(t, tr.RecordParseStats(ctx, listURL, 7, samples))

	h, _, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.Equal(t, 7, h.ParseErrors)
	assert.Empty(t, h.UnsupportedPatterns)
}

func TestRemoveList(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr := newTracker(st)

	require.NoError(t, tr.RecordSuccess(ctx, listURL, 10, true))
	require.NoError(t, st.Set(ctx, store.KeyLastKnownGood(listURL), models.LastKnownGoodFilterList{URL: listURL}))

	require.NoError(t, tr.RemoveList(ctx, listURL))

	_, ok, err := tr.Health(ctx, listURL)
	require.NoError(t, err)
	assert.False(t, ok)

	var lkg models.LastKnownGoodFilterList
	ok, err = st.Get(ctx, store.KeyLastKnownGood(listURL), &lkg)
	require.NoError(t, err)
	assert.False(t, ok)
}
