package converter

import (
	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// RuleIDAllocator hands out ids from one reserved range. Each logical rule
// category (filter rules, site exceptions, header rules) gets its own
// allocator so range conflicts cannot happen by convention drift.
type RuleIDAllocator struct {
	rng  models.IDRange
	next int
}

// NewRuleIDAllocator creates an allocator over the given range.
func NewRuleIDAllocator(rng models.IDRange) *RuleIDAllocator {
	return &RuleIDAllocator{rng: rng, next: rng.Lo}
}

// Next returns the next unused id, or a CAPACITY_EXCEEDED error once the
// range is exhausted.
func (a *RuleIDAllocator) Next() (int, error) {
	if a.next > a.rng.Hi {
		return 0, errx.Newf(errx.CodeCapacityExceeded,
			"rule id range %d-%d exhausted", a.rng.Lo, a.rng.Hi)
	}
	id := a.next
	a.next++
	return id, nil
}

// Range returns the range this allocator owns.
func (a *RuleIDAllocator) Range() models.IDRange { return a.rng }

// Allocated returns how many ids have been handed out.
func (a *RuleIDAllocator) Allocated() int { return a.next - a.rng.Lo }
