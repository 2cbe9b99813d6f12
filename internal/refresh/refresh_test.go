package refresh

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/ublock-dnr-engine/internal/fetcher"
	"github.com/bnema/ublock-dnr-engine/internal/health"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/ruleset"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

const testList = `! Title: test list
||ads.example.com^$script,image,domain=foo.com|~bar.com
||ads.example.com^$script,image,domain=foo.com|~bar.com
@@||cdn.example.com^$domain=example.com
||doubleclick.net^
example.com##.ad-banner
example.com##.must-stay
example.com#@#.must-stay
##.sponsored-content
example.com##+js(acis, document.write)
`

type fixture struct {
	refresher *Refresher
	engine    *ruleset.InMemoryEngine
	tracker   *health.Tracker
	store     *store.MemoryStore
	url       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testList))
	}))
	t.Cleanup(ts.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	tracker := health.New(st, log)
	manager := fetcher.NewManager(fetcher.NewWithClient(ts.Client(), 1), st, tracker, log)
	engine := ruleset.NewInMemoryEngine()
	coordinator := ruleset.NewCoordinator(engine, st, log)

	return &fixture{
		refresher: New(manager, coordinator, tracker, st, log, 0),
		engine:    engine,
		tracker:   tracker,
		store:     st,
		url:       ts.URL,
	}
}

func (f *fixture) lists() []models.FilterList {
	return []models.FilterList{{Name: "test", URL: f.url, Enabled: true}}
}

func findRule(rules []models.CompiledRule, urlFilter string) *models.CompiledRule {
	for i := range rules {
		if rules[i].URLFilter == urlFilter {
			return &rules[i]
		}
	}
	return nil
}

func TestRefreshCompilesAndSubmits(t *testing.T) {
	f := newFixture(t)

	summary, err := f.refresher.Refresh(context.Background(), f.lists(), true)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.CycleID)
	assert.Equal(t, summary.CompiledRules, len(f.engine.Rules()))

	rules := f.engine.Rules()

	blocked := findRule(rules, "||ads.example.com^")
	require.NotNil(t, blocked)
	assert.Equal(t, models.KindBlock, blocked.Action)
	assert.Equal(t, models.PriorityBlock, blocked.Priority)
	assert.Equal(t, []string{models.ResourceScript, models.ResourceImage}, blocked.ResourceTypes)
	assert.Equal(t, []string{"foo.com"}, blocked.InitiatorDomains)
	assert.Equal(t, []string{"bar.com"}, blocked.ExcludedInitiatorDomains)

	allowed := findRule(rules, "||cdn.example.com^")
	require.NotNil(t, allowed)
	assert.Equal(t, models.KindAllow, allowed.Action)
	assert.Equal(t, models.PriorityAllow, allowed.Priority)

	// Every id comes from the filter-rule range.
	for _, r := range rules {
		assert.True(t, models.FilterRuleIDRange.Contains(r.ID), "id %d out of range", r.ID)
	}
}

func TestRefreshIncludesBootstrapRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.refresher.Refresh(context.Background(), f.lists(), true)
	require.NoError(t, err)

	rules := f.engine.Rules()
	require.NotNil(t, findRule(rules, "||googlesyndication.com^"))

	// ||doubleclick.net^ appears in both the bootstrap set and the list;
	// dedup keeps exactly one.
	count := 0
	for _, r := range rules {
		if r.URLFilter == "||doubleclick.net^" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRefreshBuildsCosmeticCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.refresher.Refresh(ctx, f.lists(), true)
	require.NoError(t, err)

	selectors, err := f.refresher.CosmeticRulesForDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Contains(t, selectors, ".ad-banner")
	assert.Contains(t, selectors, ".sponsored-content")
	assert.NotContains(t, selectors, ".must-stay")

	other, err := f.refresher.CosmeticRulesForDomain(ctx, "other.com")
	require.NoError(t, err)
	assert.Contains(t, other, ".sponsored-content")
	assert.NotContains(t, other, ".ad-banner")
}

func TestRefreshRecordsParseTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.refresher.Refresh(ctx, f.lists(), true)
	require.NoError(t, err)

	h, ok, err := f.tracker.Health(ctx, f.url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.FetchSuccess, h.LastFetchStatus)
	require.Len(t, h.UnsupportedPatterns, 1)
	assert.Contains(t, h.UnsupportedPatterns[0].Line, "##+js")
}

func TestRefreshReplacesPreviousCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.refresher.Refresh(ctx, f.lists(), true)
	require.NoError(t, err)

	second, err := f.refresher.Refresh(ctx, f.lists(), true)
	require.NoError(t, err)

	// Wholesale replacement: the rule count stays stable across cycles
	// instead of accumulating.
	assert.Equal(t, first.CompiledRules, second.CompiledRules)
	assert.Len(t, f.engine.Rules(), second.CompiledRules)
}

func TestRefreshSurvivesDeadList(t *testing.T) {
	f := newFixture(t)

	lists := append([]models.FilterList{
		{Name: "dead", URL: "https://dead.invalid/list.txt", Enabled: true},
	}, f.lists()...)

	summary, err := f.refresher.Refresh(context.Background(), lists, true)
	require.NoError(t, err)
	assert.Positive(t, summary.CompiledRules)
	require.NotNil(t, findRule(f.engine.Rules(), "||ads.example.com^"))
}
