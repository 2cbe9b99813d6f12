// Package ruleset coordinates bundle-level enable/disable (filtering
// levels) and per-domain site exceptions against the external rule
// engine.
package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/ublock-dnr-engine/internal/converter"
	"github.com/bnema/ublock-dnr-engine/internal/metrics"
	"github.com/bnema/ublock-dnr-engine/internal/models"
	"github.com/bnema/ublock-dnr-engine/internal/store"
)

// Pre-packaged rule bundle ids.
const (
	BundleCore       = "core"
	BundleAds        = "ads"
	BundlePrivacy    = "privacy"
	BundleAnnoyances = "annoyances"
	BundleBadware    = "badware"
	BundleUnbreak    = "unbreak"
	BundleSocial     = "social"
	BundleRegional   = "regional"
)

// BundlesForLevel maps a filtering level to its fixed bundle set.
func BundlesForLevel(level models.FilteringLevel) ([]string, bool) {
	switch level {
	case models.LevelOff:
		return nil, true
	case models.LevelMinimal:
		return []string{BundleCore}, true
	case models.LevelBasic:
		return []string{BundleCore, BundleAds}, true
	case models.LevelOptimal:
		return []string{
			BundleCore, BundleAds, BundlePrivacy,
			BundleAnnoyances, BundleBadware, BundleUnbreak,
		}, true
	case models.LevelComplete:
		return []string{
			BundleCore, BundleAds, BundlePrivacy, BundleAnnoyances,
			BundleBadware, BundleUnbreak, BundleSocial, BundleRegional,
		}, true
	}
	return nil, false
}

// Coordinator owns the in-memory "enabled bundles / active exceptions"
// state. It is the only mutator; status queries read through it.
type Coordinator struct {
	engine RuleEngine
	store  store.Store
	log    *slog.Logger

	mu            sync.Mutex
	filterRuleIDs []int
	exceptions    map[string][]int
	excAlloc      *converter.RuleIDAllocator
	freeIDs       []int
}

// NewCoordinator creates a coordinator over the given engine and store.
func NewCoordinator(engine RuleEngine, st store.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		engine:     engine,
		store:      st,
		log:        log,
		exceptions: make(map[string][]int),
		excAlloc:   converter.NewRuleIDAllocator(models.SiteExceptionIDRange),
	}
}

// ApplyFilterRules replaces the whole filter-rule batch in the engine.
// Rules are destroyed and recreated wholesale each refresh cycle; there
// is no incremental mutation across cycles.
func (c *Coordinator) ApplyFilterRules(ctx context.Context, rules []models.CompiledRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldIDs := c.filterRuleIDs
	if err := c.engine.UpdateRules(ctx, rules, oldIDs); err != nil {
		return err
	}

	ids := make([]int, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	c.filterRuleIDs = ids
	metrics.CompiledRules.Set(float64(len(rules)))
	return nil
}

// SetFilteringLevel transitions the engine to the target level's bundle
// set. The transition is computed as a set difference against the
// engine's current bundles, making it idempotent and order-independent.
func (c *Coordinator) SetFilteringLevel(ctx context.Context, level models.FilteringLevel) error {
	target, ok := BundlesForLevel(level)
	if !ok {
		return fmt.Errorf("unknown filtering level %q", level)
	}

	current, err := c.engine.EnabledBundles(ctx)
	if err != nil {
		return err
	}

	enable := difference(target, current)
	disable := difference(current, target)
	if len(enable) > 0 || len(disable) > 0 {
		if err := c.engine.SetBundles(ctx, enable, disable); err != nil {
			return err
		}
	}

	state := models.RulesetState{
		EnabledBundles: append([]string(nil), target...),
		FilteringLevel: level,
		LastUpdated:    time.Now(),
	}
	sort.Strings(state.EnabledBundles)
	if err := c.store.Set(ctx, store.KeyRulesetState, state); err != nil {
		c.log.Warn("ruleset state write failed", "error", err)
	}
	return nil
}

// State returns the persisted ruleset state, if any.
func (c *Coordinator) State(ctx context.Context) (*models.RulesetState, bool, error) {
	var state models.RulesetState
	ok, err := c.store.Get(ctx, store.KeyRulesetState, &state)
	if err != nil || !ok {
		return nil, false, err
	}
	return &state, true, nil
}

// AddSiteException installs a top-priority allow rule for a user-trusted
// domain. Re-adding an excepted domain is a no-op returning the existing
// rule ids.
func (c *Coordinator) AddSiteException(ctx context.Context, domain string) ([]int, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	c.mu.Lock()
	defer c.mu.Unlock()

	if ids, exists := c.exceptions[domain]; exists {
		return ids, nil
	}

	id, err := c.allocExceptionID()
	if err != nil {
		return nil, err
	}

	rule := models.CompiledRule{
		ID:            id,
		Priority:      models.PrioritySiteException,
		Action:        models.KindAllow,
		URLFilter:     "*",
		ResourceTypes: models.AllResourceTypes(),
		// Scope the blanket allow to requests initiated by the trusted
		// site itself.
		InitiatorDomains: []string{domain},
	}
	if err := c.engine.UpdateRules(ctx, []models.CompiledRule{rule}, nil); err != nil {
		c.freeIDs = append(c.freeIDs, id)
		return nil, err
	}

	ids := []int{id}
	c.exceptions[domain] = ids
	c.persistTrusted(ctx)
	return ids, nil
}

// RemoveSiteException removes exactly the rule ids allocated for the
// domain. Removing a domain that is not excepted is a no-op.
func (c *Coordinator) RemoveSiteException(ctx context.Context, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, exists := c.exceptions[domain]
	if !exists {
		return nil
	}
	if err := c.engine.UpdateRules(ctx, nil, ids); err != nil {
		return err
	}
	delete(c.exceptions, domain)
	c.freeIDs = append(c.freeIDs, ids...)
	c.persistTrusted(ctx)
	return nil
}

// persistTrusted writes the trusted domain list. Callers hold c.mu.
func (c *Coordinator) persistTrusted(ctx context.Context) {
	domains := make([]string, 0, len(c.exceptions))
	for d := range c.exceptions {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	if err := c.store.Set(ctx, store.KeyTrustedSites, domains); err != nil {
		c.log.Warn("trusted sites write failed", "error", err)
	}
}

// RestoreSiteExceptions reinstalls the persisted trusted domains into the
// engine. Meant to run once at startup, before any Add/Remove calls.
func (c *Coordinator) RestoreSiteExceptions(ctx context.Context) error {
	var domains []string
	ok, err := c.store.Get(ctx, store.KeyTrustedSites, &domains)
	if err != nil || !ok {
		return err
	}
	for _, d := range domains {
		if _, err := c.AddSiteException(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// SiteExceptions lists the currently trusted domains.
func (c *Coordinator) SiteExceptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	domains := make([]string, 0, len(c.exceptions))
	for d := range c.exceptions {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func (c *Coordinator) allocExceptionID() (int, error) {
	if n := len(c.freeIDs); n > 0 {
		id := c.freeIDs[n-1]
		c.freeIDs = c.freeIDs[:n-1]
		return id, nil
	}
	return c.excAlloc.Next()
}

// difference returns the elements of a not present in b.
func difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if !inB[s] {
			out = append(out, s)
		}
	}
	return out
}
