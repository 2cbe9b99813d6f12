package ruleset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// RuleEngine is the external declarative request-filtering engine. The
// coordinator assumes nothing about matching beyond url-pattern matching
// with domain-anchor semantics, resource-type filtering, initiator-domain
// scoping and priority-ordered allow-over-block resolution.
type RuleEngine interface {
	// UpdateRules removes removeIDs and adds add in one atomic batch, so
	// the engine is never observed half-updated.
	UpdateRules(ctx context.Context, add []models.CompiledRule, removeIDs []int) error
	// EnabledBundles lists the currently enabled pre-packaged bundles.
	EnabledBundles(ctx context.Context) ([]string, error)
	// SetBundles enables and disables bundles in one call.
	SetBundles(ctx context.Context, enable, disable []string) error
}

// InMemoryEngine is a RuleEngine for local runs and tests.
type InMemoryEngine struct {
	mu      sync.Mutex
	rules   map[int]models.CompiledRule
	bundles map[string]bool
}

// NewInMemoryEngine creates an empty engine.
func NewInMemoryEngine() *InMemoryEngine {
	return &InMemoryEngine{
		rules:   make(map[int]models.CompiledRule),
		bundles: make(map[string]bool),
	}
}

func (e *InMemoryEngine) UpdateRules(_ context.Context, add []models.CompiledRule, removeIDs []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range removeIDs {
		delete(e.rules, id)
	}
	for _, r := range add {
		if _, exists := e.rules[r.ID]; exists {
			return fmt.Errorf("duplicate rule id %d", r.ID)
		}
		e.rules[r.ID] = r
	}
	return nil
}

func (e *InMemoryEngine) EnabledBundles(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var enabled []string
	for b := range e.bundles {
		enabled = append(enabled, b)
	}
	sort.Strings(enabled)
	return enabled, nil
}

func (e *InMemoryEngine) SetBundles(_ context.Context, enable, disable []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, b := range enable {
		e.bundles[b] = true
	}
	for _, b := range disable {
		delete(e.bundles, b)
	}
	return nil
}

// Rules returns a snapshot of the active rules sorted by id.
func (e *InMemoryEngine) Rules() []models.CompiledRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.CompiledRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
