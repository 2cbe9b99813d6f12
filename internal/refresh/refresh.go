// Package refresh drives the serialized compile cycle: fetch every
// configured list, parse, convert, submit the compiled batch to the
// engine and rebuild the cosmetic cache. Both the periodic timer and the
// forced entry point funnel through the same mutex.
package refresh

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/ublock-dnr-engine/internal/converter"
	"github.com/bnema/ublock-dnr-engine/internal/cosmetic"
	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/fetcher"
	"github.com/bnema/ublock-dnr-engine/internal/health"
	"github.com/bnema/ublock-dnr-engine/internal/metrics"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/parser"
	"github.com/bnema/ublock-dnr-engine/internal/ruleset"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

// DefaultInterval is the periodic refresh cadence.
const DefaultInterval = 6 * time.Hour

// Refresher owns one serialized refresh path.
type Refresher struct {
	manager     *fetcher.Manager
	coordinator *ruleset.Coordinator
	tracker     *health.Tracker
	store       store.Store
	log         *slog.Logger
	interval    time.Duration

	mu sync.Mutex
}

// ListSummary reports one list's contribution to a cycle.
type ListSummary struct {
	Name        string
	URL         string
	Network     int
	Cosmetic    int
	ParseErrors int
	Unsupported int
}

// Summary reports one completed refresh cycle.
type Summary struct {
	CycleID          string
	CompiledRules    int
	GenericSelectors int
	TrackedDomains   int
	Lists            []ListSummary
	Duration         time.Duration
}

// New creates a refresher.
func New(manager *fetcher.Manager, coordinator *ruleset.Coordinator, tracker *health.Tracker, st store.Store, log *slog.Logger, interval time.Duration) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{
		manager:     manager,
		coordinator: coordinator,
		tracker:     tracker,
		store:       st,
		log:         log,
		interval:    interval,
	}
}

// Refresh runs one full compile cycle. Concurrent callers serialize; the
// second caller recompiles rather than observing the first caller's
// half-built state.
func (r *Refresher) Refresh(ctx context.Context, lists []models.FilterList, force bool) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	cycle := uuid.NewString()
	log := r.log.With("cycle", cycle)
	log.Info("refresh starting", "lists", len(lists), "force", force)

	batches := r.manager.FetchAll(ctx, lists, force)

	summary := &Summary{CycleID: cycle}
	var networkLines []string
	var cosmeticRules []models.CosmeticRule

	for _, batch := range batches {
		p := parser.New()
		res, err := p.Parse(strings.NewReader(strings.Join(batch.Rules, "\n")))
		if err != nil {
			log.Error("parse failed", "list", batch.Name, "error", err)
			continue
		}
		stats := p.Stats()

		if batch.URL != "" {
			if err := r.tracker.RecordParseStats(ctx, batch.URL, stats.ParseErrors, stats.Samples); err != nil {
				log.Warn("parse telemetry write failed", "list", batch.Name, "error", err)
			}
		}

		networkLines = append(networkLines, res.NetworkRules...)
		cosmeticRules = append(cosmeticRules, res.CosmeticRules...)
		summary.Lists = append(summary.Lists, ListSummary{
			Name:        batch.Name,
			URL:         batch.URL,
			Network:     len(res.NetworkRules),
			Cosmetic:    len(res.CosmeticRules),
			ParseErrors: stats.ParseErrors,
			Unsupported: stats.Unsupported,
		})
	}

	// Fresh converter per cycle: dedup and id state never leak across
	// cycles.
	conv := converter.New(converter.NewRuleIDAllocator(models.FilterRuleIDRange), models.MaxCompiledRules)
	rules, err := conv.Convert(networkLines)
	if err != nil {
		if !errx.Is(err, errx.CodeCapacityExceeded) {
			return nil, err
		}
		// Ceiling hit mid-conversion; the compiled prefix is still valid.
		log.Warn("rule capacity exhausted, submitting partial batch", "rules", len(rules))
	}

	if err := r.coordinator.ApplyFilterRules(ctx, rules); err != nil {
		return nil, err
	}
	summary.CompiledRules = len(rules)

	cache := cosmetic.Build(cosmeticRules, time.Now())
	r.persistCosmetic(ctx, cache, log)
	summary.GenericSelectors = len(cache.Generic)
	summary.TrackedDomains = len(cache.DomainSpecific)
	metrics.CosmeticSelectors.Set(float64(len(cache.Generic)))
	metrics.RefreshCycles.Inc()

	summary.Duration = time.Since(start)
	log.Info("refresh complete",
		"rules", summary.CompiledRules,
		"generic_selectors", summary.GenericSelectors,
		"duration", summary.Duration)
	return summary, nil
}

// persistCosmetic writes the cosmetic cache, degrading to generic-only on
// quota pressure.
func (r *Refresher) persistCosmetic(ctx context.Context, cache *models.CachedCosmeticRules, log *slog.Logger) {
	err := r.store.Set(ctx, store.KeyCosmetic, cache)
	if err == nil {
		return
	}
	if !errx.Is(err, errx.CodeQuotaExceeded) {
		log.Warn("cosmetic cache write failed", "error", err)
		return
	}

	metrics.QuotaDegradations.Inc()
	degraded := &models.CachedCosmeticRules{
		Generic:        cache.Generic,
		DomainSpecific: map[string][]string{},
		Exceptions:     cache.Exceptions,
		UpdatedAt:      cache.UpdatedAt,
	}
	if err := r.store.Set(ctx, store.KeyCosmetic, degraded); err != nil {
		log.Warn("cosmetic cache write failed after degrade", "error", err)
	}
}

// CosmeticRulesForDomain answers the content-script query from the
// persisted cosmetic cache.
func (r *Refresher) CosmeticRulesForDomain(ctx context.Context, domain string) ([]string, error) {
	var cache models.CachedCosmeticRules
	ok, err := r.store.Get(ctx, store.KeyCosmetic, &cache)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cosmetic.Resolve(&cache, domain), nil
}

// Run refreshes immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context, lists func() []models.FilterList) error {
	if _, err := r.Refresh(ctx, lists(), false); err != nil {
		r.log.Error("initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Refresh(ctx, lists(), false); err != nil {
				r.log.Error("scheduled refresh failed", "error", err)
			}
		}
	}
}
