package fetcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/health"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, handler http.Handler, st store.Store) (*Manager, *httptest.Server) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	log := discardLogger()
	m := NewManager(NewWithClient(ts.Client(), 1), st, health.New(st, log), log)
	return m, ts
}

func TestValidateListURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"https", "https://easylist.to/easylist/easylist.txt", true},
		{"plain http", "http://easylist.to/easylist.txt", false},
		{"file scheme", "file:///etc/passwd", false},
		{"short hostname", "https://x/list.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateListURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errx.Is(err, errx.CodeSecurityRejection))
			}
		})
	}
}

func TestGetOrFetchRejectsInsecureURLBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	m, _ := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}), store.NewMemoryStore())

	_, err := m.GetOrFetch(context.Background(), "http://easylist.to/easylist.txt", true)
	require.Error(t, err)
	assert.True(t, errx.Is(err, errx.CodeSecurityRejection))
	assert.Zero(t, hits.Load())
}

func TestGetOrFetchCachesAndServesFromCache(t *testing.T) {
	var hits atomic.Int32
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("||ads.example.com^\n||tracker.example.net^\n"))
	}), st)

	ctx := context.Background()
	rules, err := m.GetOrFetch(ctx, ts.URL, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"||ads.example.com^", "||tracker.example.net^"}, rules)
	assert.Equal(t, int32(1), hits.Load())

	// Second call within TTL never touches the network.
	again, err := m.GetOrFetch(ctx, ts.URL, false)
	require.NoError(t, err)
	assert.Equal(t, rules, again)
	assert.Equal(t, int32(1), hits.Load())

	// Forced refresh does.
	_, err = m.GetOrFetch(ctx, ts.URL, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGetOrFetchFallsBackToStaleCache(t *testing.T) {
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}), st)

	ctx := context.Background()
	stale := models.CachedFilterList{
		URL:       ts.URL,
		Rules:     []string{"||stale.example.com^"},
		FetchedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, st.Set(ctx, store.KeyListCache(ts.URL), stale))

	rules, err := m.GetOrFetch(ctx, ts.URL, false)
	require.NoError(t, err)
	assert.Equal(t, stale.Rules, rules)
}

func TestGetOrFetchFallsBackToLastKnownGood(t *testing.T) {
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}), st)

	ctx := context.Background()
	lkg := models.LastKnownGoodFilterList{
		URL:       ts.URL,
		Rules:     []string{"||good.example.com^", "||also-good.example.net^"},
		FetchedAt: time.Now().Add(-72 * time.Hour),
		RuleCount: 9000,
	}
	require.NoError(t, st.Set(ctx, store.KeyLastKnownGood(ts.URL), lkg))

	rules, err := m.GetOrFetch(ctx, ts.URL, false)
	require.NoError(t, err)
	assert.Equal(t, lkg.Rules, rules)
}

func TestGetOrFetchPropagatesWithoutFallback(t *testing.T) {
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}), store.NewMemoryStore())

	_, err := m.GetOrFetch(context.Background(), ts.URL, false)
	require.Error(t, err)
	assert.True(t, errx.Is(err, errx.CodeFetchFailure))
}

func TestGetOrFetchWritesLastKnownGoodAndHealth(t *testing.T) {
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("||a.example.com^\n||b.example.com^\n/ads/banner\n"))
	}), st)

	ctx := context.Background()
	_, err := m.GetOrFetch(ctx, ts.URL, true)
	require.NoError(t, err)

	var lkg models.LastKnownGoodFilterList
	ok, err := st.Get(ctx, store.KeyLastKnownGood(ts.URL), &lkg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, lkg.RuleCount)
	assert.Len(t, lkg.Rules, 3)

	tracker := health.New(st, discardLogger())
	h, ok, err := tracker.Health(ctx, ts.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.FetchSuccess, h.LastFetchStatus)
	assert.True(t, h.HasLastKnownGood)
	assert.Equal(t, 3, h.RuleCount)
}

func TestFetchAllPrependsBootstrapAndStopsAtCeiling(t *testing.T) {
	var hits atomic.Int32
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Each list is large enough to hit the ceiling after one fetch.
		for i := 0; i < models.MaxCompiledRules; i++ {
			w.Write([]byte("||bulk.example.com^\n"))
		}
	}), st)

	lists := []models.FilterList{
		{Name: "first", URL: ts.URL + "/first.txt", Enabled: true},
		{Name: "second", URL: ts.URL + "/second.txt", Enabled: true},
	}

	results := m.FetchAll(context.Background(), lists, true)

	require.NotEmpty(t, results)
	assert.Equal(t, "bootstrap", results[0].Name)
	assert.Equal(t, BootstrapRules(), results[0].Rules)

	// The second list is skipped whole, not partially consumed.
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[1].Name)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchAllSkipsBrokenList(t *testing.T) {
	st := store.NewMemoryStore()
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.txt" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Write([]byte("||ok.example.com^\n"))
	}), st)

	lists := []models.FilterList{
		{Name: "bad", URL: ts.URL + "/bad.txt", Enabled: true},
		{Name: "good", URL: ts.URL + "/good.txt", Enabled: true},
	}

	results := m.FetchAll(context.Background(), lists, true)
	require.Len(t, results, 2)
	assert.Equal(t, "good", results[1].Name)
	assert.Equal(t, []string{"||ok.example.com^"}, results[1].Rules)
}

func TestPersistCacheDegradesOnQuota(t *testing.T) {
	st := store.NewMemoryStore()
	// Tight enough that a full payload fails but a degraded one fits.
	st.MaxValueBytes = 20000
	m, ts := newTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 2000; i++ {
			w.Write([]byte("||quota-test-domain.example.com^\n"))
		}
	}), st)

	ctx := context.Background()
	rules, err := m.GetOrFetch(ctx, ts.URL, true)
	require.NoError(t, err)
	assert.Len(t, rules, 2000)

	var cached models.CachedFilterList
	ok, err := st.Get(ctx, store.KeyListCache(ts.URL), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached.Rules, models.MaxLastKnownGoodRules)
}
