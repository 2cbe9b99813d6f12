// Package cosmetic aggregates element-hiding rules into per-domain
// selector sets and answers domain queries with suffix inheritance and
// exception precedence.
package cosmetic

import (
	"strings"
	"time"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// protectedSites is a curated set of high-traffic domains where generic
// selectors are known to break critical UI. Such domains still receive
// domain-specific and exception rules.
var protectedSites = map[string]bool{
	"google.com":    true,
	"youtube.com":   true,
	"facebook.com":  true,
	"instagram.com": true,
	"twitter.com":   true,
	"x.com":         true,
	"amazon.com":    true,
	"netflix.com":   true,
	"wikipedia.org": true,
	"github.com":    true,
	"reddit.com":    true,
	"linkedin.com":  true,
	"microsoft.com": true,
	"apple.com":     true,
	"paypal.com":    true,
}

// IsProtected reports whether a registrable domain is on the protected
// allowlist.
func IsProtected(domain string) bool {
	return protectedSites[strings.ToLower(domain)]
}

// Build folds parsed cosmetic rules into the aggregate cache. Every bucket
// is deduplicated; overflow past the caps is silently dropped.
func Build(rules []models.CosmeticRule, now time.Time) *models.CachedCosmeticRules {
	cache := &models.CachedCosmeticRules{
		DomainSpecific: make(map[string][]string),
		Exceptions:     make(map[string][]string),
		UpdatedAt:      now,
	}
	genericSeen := make(map[string]bool)

	for _, rule := range rules {
		switch rule.Kind {
		case models.CosmeticGeneric:
			if len(cache.Generic) >= models.MaxGenericSelectors {
				continue
			}
			if genericSeen[rule.Selector] {
				continue
			}
			genericSeen[rule.Selector] = true
			cache.Generic = append(cache.Generic, rule.Selector)

		case models.CosmeticDomainSpecific:
			for _, d := range rule.Domains {
				addDomainSelector(cache.DomainSpecific, d, rule.Selector)
			}

		case models.CosmeticException:
			for _, d := range rule.Domains {
				addDomainSelector(cache.Exceptions, d, rule.Selector)
			}
		}
	}

	return cache
}

func addDomainSelector(bucket map[string][]string, domain, selector string) {
	domain = strings.ToLower(domain)
	existing, tracked := bucket[domain]
	if !tracked && len(bucket) >= models.MaxCosmeticDomains {
		return
	}
	if len(existing) >= models.MaxSelectorsPerDomain {
		return
	}
	for _, s := range existing {
		if s == selector {
			return
		}
	}
	bucket[domain] = append(existing, selector)
}

// Resolve returns the ordered, unique selector set for a request domain:
// generic rules (unless the domain is protected), plus domain-specific
// rules along the suffix chain, minus exception rules along the same
// chain. Exceptions always win because subtraction happens after the full
// union.
func Resolve(cache *models.CachedCosmeticRules, domain string) []string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if cache == nil || domain == "" {
		return nil
	}

	var result []string
	seen := make(map[string]bool)
	add := func(sel string) {
		if !seen[sel] {
			seen[sel] = true
			result = append(result, sel)
		}
	}

	chain := suffixChain(domain)

	protected := false
	for _, suffix := range chain {
		if IsProtected(suffix) {
			protected = true
			break
		}
	}
	if !protected {
		for _, sel := range cache.Generic {
			add(sel)
		}
	}
	for _, suffix := range chain {
		for _, sel := range cache.DomainSpecific[suffix] {
			add(sel)
		}
	}

	excluded := make(map[string]bool)
	for _, suffix := range chain {
		for _, sel := range cache.Exceptions[suffix] {
			excluded[sel] = true
		}
	}
	if len(excluded) == 0 {
		return result
	}

	filtered := result[:0]
	for _, sel := range result {
		if !excluded[sel] {
			filtered = append(filtered, sel)
		}
	}
	return filtered
}

// suffixChain lists a domain and its parent suffixes down to the
// registrable pair: sub.example.com -> [sub.example.com, example.com].
func suffixChain(domain string) []string {
	labels := strings.Split(domain, ".")
	var chain []string
	for i := 0; i <= len(labels)-2; i++ {
		chain = append(chain, strings.Join(labels[i:], "."))
	}
	if len(chain) == 0 {
		chain = []string{domain}
	}
	return chain
}
