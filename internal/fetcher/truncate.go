package fetcher

import (
	"strings"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// TruncateRules caps a rule list, giving domain-anchored (||) patterns a
// 70% share before any other pattern is admitted. Domain-anchored rules
// have the highest blocking value per byte, so they survive truncation
// first. Relative order within each class is preserved.
func TruncateRules(rules []string, max int) []string {
	if max <= 0 || len(rules) <= max {
		return rules
	}

	var anchored, others []string
	for _, r := range rules {
		if isDomainAnchored(r) {
			anchored = append(anchored, r)
		} else {
			others = append(others, r)
		}
	}

	quota := int(float64(max) * models.AnchoredShare)
	if quota > len(anchored) {
		quota = len(anchored)
	}

	out := make([]string, 0, max)
	out = append(out, anchored[:quota]...)

	remaining := max - len(out)
	if len(others) >= remaining {
		out = append(out, others[:remaining]...)
		return out
	}

	// Not enough non-anchored rules to fill the 30% share; backfill with
	// the rest of the anchored ones.
	out = append(out, others...)
	remaining = max - len(out)
	if remaining > len(anchored)-quota {
		remaining = len(anchored) - quota
	}
	out = append(out, anchored[quota:quota+remaining]...)
	return out
}

func isDomainAnchored(rule string) bool {
	return strings.HasPrefix(strings.TrimPrefix(rule, "@@"), "||")
}
