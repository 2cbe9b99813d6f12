// Package health tracks per-list fetch status and telemetry. The tracker
// is driven by the fetch manager: every attempt re-enters pending, then
// lands in success or error. A transient failure never erases evidence
// that a list was once healthy.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/metrics"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

// Tracker persists the health map under a single storage key with whole
// value read-modify-write.
type Tracker struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a tracker over the given store.
func New(st store.Store, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: st, log: log, now: time.Now}
}

func (t *Tracker) load(ctx context.Context) (map[string]models.FilterListHealth, error) {
	healthMap := make(map[string]models.FilterListHealth)
	if _, err := t.store.Get(ctx, store.KeyHealth, &healthMap); err != nil {
		return nil, err
	}
	return healthMap, nil
}

func (t *Tracker) save(ctx context.Context, healthMap map[string]models.FilterListHealth) error {
	err := t.store.Set(ctx, store.KeyHealth, healthMap)
	if !errx.Is(err, errx.CodeQuotaExceeded) {
		return err
	}

	// Degraded retry: collapse the telemetry samples to bare counters.
	metrics.QuotaDegradations.Inc()
	t.log.Warn("health map over storage quota, dropping telemetry samples")
	for url, h := range healthMap {
		h.UnsupportedPatterns = nil
		healthMap[url] = h
	}
	return t.store.Set(ctx, store.KeyHealth, healthMap)
}

// update applies fn to the entry for url inside one read-modify-write span.
func (t *Tracker) update(ctx context.Context, url string, fn func(*models.FilterListHealth)) error {
	healthMap, err := t.load(ctx)
	if err != nil {
		return err
	}
	entry, ok := healthMap[url]
	if !ok {
		entry = models.FilterListHealth{URL: url}
	}
	fn(&entry)
	healthMap[url] = entry
	return t.save(ctx, healthMap)
}

// BeginFetch marks the start of a fetch attempt.
func (t *Tracker) BeginFetch(ctx context.Context, url string) error {
	return t.update(ctx, url, func(h *models.FilterListHealth) {
		h.LastFetchStatus = models.FetchPending
		h.LastFetchAt = t.now()
	})
}

// RecordSuccess marks a successful fetch. ruleCount is the original,
// uncapped line count; hasLastKnownGood reflects whether the snapshot
// write succeeded.
func (t *Tracker) RecordSuccess(ctx context.Context, url string, ruleCount int, hasLastKnownGood bool) error {
	metrics.FetchAttempts.WithLabelValues(string(models.FetchSuccess)).Inc()
	return t.update(ctx, url, func(h *models.FilterListHealth) {
		now := t.now()
		h.LastFetchStatus = models.FetchSuccess
		h.LastFetchAt = now
		h.LastError = ""
		h.RuleCount = ruleCount
		h.HasLastKnownGood = h.HasLastKnownGood || hasLastKnownGood
		h.LastSuccessAt = &now
	})
}

// RecordError marks a failed fetch, preserving the prior rule count and
// last success timestamp.
func (t *Tracker) RecordError(ctx context.Context, url string, fetchErr error) error {
	metrics.FetchAttempts.WithLabelValues(string(models.FetchError)).Inc()
	return t.update(ctx, url, func(h *models.FilterListHealth) {
		h.LastFetchStatus = models.FetchError
		h.LastFetchAt = t.now()
		h.LastError = fetchErr.Error()
	})
}

// RecordParseStats attaches parse telemetry from the most recent cycle.
func (t *Tracker) RecordParseStats(ctx context.Context, url string, parseErrors int, samples []models.UnsupportedPattern) error {
	if parseErrors > 0 {
		metrics.ParseErrors.Add(float64(parseErrors))
	}
	for _, s := range samples {
		metrics.UnsupportedPatterns.WithLabelValues(s.Category).Inc()
	}
	if len(samples) > models.MaxUnsupportedPatterns {
		samples = samples[:models.MaxUnsupportedPatterns]
	}
	return t.update(ctx, url, func(h *models.FilterListHealth) {
		h.ParseErrors = parseErrors
		h.UnsupportedPatterns = samples
	})
}

// Health returns the health entry for one list URL.
func (t *Tracker) Health(ctx context.Context, url string) (*models.FilterListHealth, bool, error) {
	healthMap, err := t.load(ctx)
	if err != nil {
		return nil, false, err
	}
	entry, ok := healthMap[url]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// All returns the full health map.
func (t *Tracker) All(ctx context.Context) (map[string]models.FilterListHealth, error) {
	return t.load(ctx)
}

// RemoveList drops the health entry and last-known-good snapshot for a
// list URL that is no longer configured.
func (t *Tracker) RemoveList(ctx context.Context, url string) error {
	healthMap, err := t.load(ctx)
	if err != nil {
		return err
	}
	delete(healthMap, url)
	if err := t.save(ctx, healthMap); err != nil {
		return err
	}
	return t.store.Delete(ctx, store.KeyLastKnownGood(url))
}

// Degraded reports whether a list is in the error state but still has a
// usable last-known-good fallback.
func Degraded(h *models.FilterListHealth) bool {
	return h.LastFetchStatus == models.FetchError && h.HasLastKnownGood
}

// Broken reports whether a list has never succeeded and has no fallback.
func Broken(h *models.FilterListHealth) bool {
	return h.LastSuccessAt == nil && !h.HasLastKnownGood
}
