package fetcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/health"
	"github.com/bnema/ublock-dnr-engine/internal/metrics"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

// Manager wraps the fetcher with the TTL cache, the last-known-good
// snapshot and health reporting. All storage access is whole-value
// read-modify-write.
type Manager struct {
	fetcher *Fetcher
	store   store.Store
	tracker *health.Tracker
	log     *slog.Logger
	now     func() time.Time
}

// ListRules is the outcome of one list in a FetchAll pass.
type ListRules struct {
	Name  string
	URL   string
	Rules []string
}

// NewManager creates a cache manager.
func NewManager(f *Fetcher, st store.Store, tracker *health.Tracker, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{fetcher: f, store: st, tracker: tracker, log: log, now: time.Now}
}

// GetOrFetch returns the rules for one list URL: the non-expired cache
// entry unless forced, otherwise a fresh fetch with cache/last-known-good
// fallback on failure.
func (m *Manager) GetOrFetch(ctx context.Context, listURL string, forceRefresh bool) ([]string, error) {
	if err := ValidateListURL(listURL); err != nil {
		return nil, err
	}

	var cached models.CachedFilterList
	haveCache, err := m.store.Get(ctx, store.KeyListCache(listURL), &cached)
	if err != nil {
		m.log.Warn("cache read failed", "url", listURL, "error", err)
		haveCache = false
	}

	if !forceRefresh && haveCache && !cached.Expired(m.now()) {
		return cached.Rules, nil
	}

	if err := m.tracker.BeginFetch(ctx, listURL); err != nil {
		m.log.Warn("health update failed", "url", listURL, "error", err)
	}

	data, fetchErr := m.fetcher.Fetch(ctx, listURL)
	if fetchErr != nil {
		if err := m.tracker.RecordError(ctx, listURL, fetchErr); err != nil {
			m.log.Warn("health update failed", "url", listURL, "error", err)
		}
		return m.fallback(ctx, listURL, haveCache, &cached, fetchErr)
	}

	lines := splitRuleLines(string(data))
	originalCount := len(lines)
	truncated := TruncateRules(lines, models.MaxCachedRulesPerList)

	m.persistCache(ctx, listURL, truncated)
	hasLKG := m.persistLastKnownGood(ctx, listURL, lines, originalCount)

	if err := m.tracker.RecordSuccess(ctx, listURL, originalCount, hasLKG); err != nil {
		m.log.Warn("health update failed", "url", listURL, "error", err)
	}

	return truncated, nil
}

// fallback serves stale cache, then last-known-good, then propagates.
func (m *Manager) fallback(ctx context.Context, listURL string, haveCache bool, cached *models.CachedFilterList, fetchErr error) ([]string, error) {
	if haveCache {
		m.log.Warn("fetch failed, serving stale cache", "url", listURL, "error", fetchErr)
		return cached.Rules, nil
	}

	var lkg models.LastKnownGoodFilterList
	haveLKG, err := m.store.Get(ctx, store.KeyLastKnownGood(listURL), &lkg)
	if err == nil && haveLKG {
		m.log.Warn("fetch failed, serving last-known-good", "url", listURL, "error", fetchErr)
		return lkg.Rules, nil
	}

	return nil, fetchErr
}

// persistCache writes the TTL cache entry, degrading the payload once if
// the store rejects it for quota.
func (m *Manager) persistCache(ctx context.Context, listURL string, rules []string) {
	entry := models.CachedFilterList{
		URL:       listURL,
		Rules:     rules,
		FetchedAt: m.now(),
		ExpiresAt: m.now().Add(models.CacheTTL),
	}
	err := m.store.Set(ctx, store.KeyListCache(listURL), entry)
	if err == nil {
		return
	}
	if !errx.Is(err, errx.CodeQuotaExceeded) {
		m.log.Warn("cache write failed", "url", listURL, "error", err)
		return
	}

	// Degraded retry with a last-known-good sized payload.
	metrics.QuotaDegradations.Inc()
	entry.Rules = TruncateRules(rules, models.MaxLastKnownGoodRules)
	if err := m.store.Set(ctx, store.KeyListCache(listURL), entry); err != nil {
		m.log.Warn("cache write failed after degrade", "url", listURL, "error", err)
	}
}

// persistLastKnownGood writes the resilience snapshot; returns whether it
// is now present.
func (m *Manager) persistLastKnownGood(ctx context.Context, listURL string, rules []string, originalCount int) bool {
	snapshot := models.LastKnownGoodFilterList{
		URL:       listURL,
		Rules:     TruncateRules(rules, models.MaxLastKnownGoodRules),
		FetchedAt: m.now(),
		RuleCount: originalCount,
	}
	if err := m.store.Set(ctx, store.KeyLastKnownGood(listURL), snapshot); err != nil {
		m.log.Warn("last-known-good write failed", "url", listURL, "error", err)
		return false
	}
	return true
}

// FetchAll retrieves every configured list in order, prepending the
// bootstrap seed rules and stopping early once the compiled-rule ceiling
// is reached. Remaining lists are skipped whole, never partially
// consumed, so degradation under load follows list priority order.
func (m *Manager) FetchAll(ctx context.Context, lists []models.FilterList, forceRefresh bool) []ListRules {
	results := []ListRules{{Name: "bootstrap", Rules: BootstrapRules()}}
	total := len(results[0].Rules)

	for _, list := range lists {
		if total >= models.MaxCompiledRules {
			m.log.Info("rule ceiling reached, skipping remaining lists", "list", list.Name)
			break
		}

		rules, err := m.GetOrFetch(ctx, list.URL, forceRefresh)
		if err != nil {
			m.log.Error("list unavailable", "list", list.Name, "url", list.URL, "error", err)
			continue
		}

		results = append(results, ListRules{Name: list.Name, URL: list.URL, Rules: rules})
		total += len(rules)
	}

	return results
}

// RemoveList drops the cached copies of a list URL that is no longer
// configured.
func (m *Manager) RemoveList(ctx context.Context, listURL string) error {
	if err := m.store.Delete(ctx, store.KeyListCache(listURL)); err != nil {
		return err
	}
	return m.tracker.RemoveList(ctx, listURL)
}

// splitRuleLines splits raw list text into trimmed non-empty lines.
// Comment filtering happens later in the parser; the cache keeps the
// lines as fetched so parse behavior cannot drift between fresh and
// cached content.
func splitRuleLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
