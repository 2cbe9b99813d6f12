// Package converter translates raw network filter lines into structured
// block/allow rules for the declarative request-filtering engine.
package converter

import (
	"sort"
	"strings"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// Converter compiles network rule lines into CompiledRules. It owns the
// dedup and id-allocation state for exactly one refresh cycle; create a
// fresh one per cycle.
type Converter struct {
	alloc    *RuleIDAllocator
	maxRules int
	seen     map[string]bool
	stats    Stats
}

// Stats tracks conversion statistics
type Stats struct {
	Converted   int
	Skipped     int
	SkipReasons map[string]int
}

// Skip reason constants
const (
	SkipDegenerate = "degenerate-pattern"
	SkipDuplicate  = "duplicate"
	SkipCeiling    = "rule-ceiling"
)

// New creates a converter drawing ids from alloc, stopping at maxRules.
// maxRules <= 0 means models.MaxCompiledRules.
func New(alloc *RuleIDAllocator, maxRules int) *Converter {
	if maxRules <= 0 {
		maxRules = models.MaxCompiledRules
	}
	return &Converter{
		alloc:    alloc,
		maxRules: maxRules,
		seen:     make(map[string]bool),
		stats:    Stats{SkipReasons: make(map[string]int)},
	}
}

func (c *Converter) skip(reason string) {
	c.stats.Skipped++
	c.stats.SkipReasons[reason]++
}

// Stats returns conversion statistics
func (c *Converter) Stats() Stats {
	return c.stats
}

// Convert compiles the given lines, deduplicating on (kind, pattern) with
// first occurrence winning, until the rule ceiling is reached.
func (c *Converter) Convert(lines []string) ([]models.CompiledRule, error) {
	var rules []models.CompiledRule

	for _, line := range lines {
		if len(rules) >= c.maxRules {
			c.skip(SkipCeiling)
			continue
		}

		parsed := ParseNetworkRule(line)
		if parsed == nil {
			c.skip(SkipDegenerate)
			continue
		}

		urlFilter := parsed.Pattern
		if parsed.IsDomainAnchored {
			urlFilter = "||" + parsed.Pattern
		}

		key := string(parsed.Kind) + ":" + urlFilter
		if c.seen[key] {
			c.skip(SkipDuplicate)
			continue
		}
		c.seen[key] = true

		id, err := c.alloc.Next()
		if err != nil {
			// Range exhaustion ends the cycle; rules compiled so far
			// are still valid.
			if errx.Is(err, errx.CodeCapacityExceeded) {
				return rules, err
			}
			return rules, err
		}

		priority := models.PriorityBlock
		if parsed.Kind == models.KindAllow {
			priority = models.PriorityAllow
		}

		rules = append(rules, models.CompiledRule{
			ID:                       id,
			Priority:                 priority,
			Action:                   parsed.Kind,
			URLFilter:                urlFilter,
			ResourceTypes:            parsed.ResourceTypes,
			InitiatorDomains:         parsed.Domains,
			ExcludedInitiatorDomains: parsed.ExcludedDomains,
		})
		c.stats.Converted++
	}

	return rules, nil
}

// ParseNetworkRule parses one network filter line. Returns nil for
// degenerate patterns (empty, "*", "^") that would match everything.
func ParseNetworkRule(line string) *models.ParsedNetworkRule {
	raw := line

	kind := models.KindBlock
	if strings.HasPrefix(line, "@@") {
		kind = models.KindAllow
		line = line[2:]
	}

	// Wildcard-only path patterns pass through as-is: all resource types,
	// no domain scoping.
	if strings.HasPrefix(line, "*") && !strings.HasPrefix(line, "||") {
		if degenerate(line) {
			return nil
		}
		return &models.ParsedNetworkRule{
			Raw:           raw,
			Kind:          kind,
			Pattern:       line,
			ResourceTypes: models.AllResourceTypes(),
		}
	}

	pattern, modPart := splitModifiers(line)
	opts := parseModifiers(modPart)

	anchored := false
	if strings.HasPrefix(pattern, "||") {
		anchored = true
		pattern = pattern[2:]
	} else if strings.HasPrefix(pattern, "|") {
		pattern = pattern[1:]
	}
	pattern = strings.TrimSuffix(pattern, "|")

	if degenerate(pattern) {
		return nil
	}

	return &models.ParsedNetworkRule{
		Raw:              raw,
		Kind:             kind,
		Pattern:          pattern,
		IsDomainAnchored: anchored,
		ResourceTypes:    opts.resourceTypes,
		Domains:          opts.domains,
		ExcludedDomains:  opts.excludedDomains,
		ThirdParty:       opts.thirdParty,
	}
}

func degenerate(pattern string) bool {
	return pattern == "" || pattern == "*" || pattern == "^"
}

// splitModifiers splits a line at the first unescaped $ into the pattern
// and the comma-separated modifier list.
func splitModifiers(line string) (pattern, modifiers string) {
	for i := 0; i < len(line); i++ {
		if line[i] == '$' && (i == 0 || line[i-1] != '\\') {
			return line[:i], line[i+1:]
		}
	}
	return line, ""
}

type options struct {
	resourceTypes   []string
	domains         []string
	excludedDomains []string
	thirdParty      *bool
}

// resourceTypeToken maps a modifier token to its canonical resource type,
// or "" if the token is not a resource type.
func resourceTypeToken(tok string) string {
	switch tok {
	case "script":
		return models.ResourceScript
	case "image":
		return models.ResourceImage
	case "stylesheet", "css":
		return models.ResourceStyleSheet
	case "object":
		return models.ResourceObject
	case "xmlhttprequest", "xhr":
		return models.ResourceXHR
	case "subdocument", "sub_frame":
		return models.ResourceSubFrame
	case "ping":
		return models.ResourcePing
	case "media":
		return models.ResourceMedia
	case "font":
		return models.ResourceFont
	case "websocket":
		return models.ResourceWebSocket
	case "other":
		return models.ResourceOther
	}
	return ""
}

func parseModifiers(s string) options {
	var opts options

	addType := func(rt string) {
		for _, t := range opts.resourceTypes {
			if t == rt {
				return
			}
		}
		opts.resourceTypes = append(opts.resourceTypes, rt)
	}
	removeType := func(rt string) {
		out := opts.resourceTypes[:0]
		for _, t := range opts.resourceTypes {
			if t != rt {
				out = append(out, t)
			}
		}
		opts.resourceTypes = out
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		switch {
		case part == "third-party" || part == "3p":
			t := true
			opts.thirdParty = &t
		case part == "~third-party" || part == "~3p" || part == "first-party" || part == "1p":
			f := false
			opts.thirdParty = &f
		case strings.HasPrefix(part, "domain="):
			opts.domains, opts.excludedDomains = parseDomainOption(part[len("domain="):])
		case strings.HasPrefix(part, "~"):
			if rt := resourceTypeToken(part[1:]); rt != "" {
				// Negation-first: a lone ~type means "all types except
				// type", so seed the full set before removing.
				if len(opts.resourceTypes) == 0 {
					opts.resourceTypes = models.AllResourceTypes()
				}
				removeType(rt)
			}
			// Unrecognized negated modifiers are ignored.
		default:
			if rt := resourceTypeToken(part); rt != "" {
				addType(rt)
			}
			// Unrecognized modifiers are ignored for forward compatibility.
		}
	}

	if len(opts.resourceTypes) == 0 {
		opts.resourceTypes = models.AllResourceTypes()
	}

	return opts
}

// parseDomainOption parses domain=example.com|~excluded.com
func parseDomainOption(s string) (include, exclude []string) {
	for _, d := range strings.Split(s, "|") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "~") {
			exclude = append(exclude, d[1:])
		} else {
			include = append(include, d)
		}
	}
	return
}

// SerializeNetworkRule renders a parsed rule back into filter syntax. The
// result reparses to an equivalent rule; used to validate parse stability.
func SerializeNetworkRule(r *models.ParsedNetworkRule) string {
	var b strings.Builder
	if r.Kind == models.KindAllow {
		b.WriteString("@@")
	}
	if r.IsDomainAnchored {
		b.WriteString("||")
	}
	b.WriteString(r.Pattern)

	var mods []string
	if !isFullTypeSet(r.ResourceTypes) {
		mods = append(mods, r.ResourceTypes...)
	}
	if r.ThirdParty != nil {
		if *r.ThirdParty {
			mods = append(mods, "third-party")
		} else {
			mods = append(mods, "~third-party")
		}
	}
	if len(r.Domains) > 0 || len(r.ExcludedDomains) > 0 {
		parts := append([]string{}, r.Domains...)
		for _, d := range r.ExcludedDomains {
			parts = append(parts, "~"+d)
		}
		mods = append(mods, "domain="+strings.Join(parts, "|"))
	}
	if len(mods) > 0 {
		b.WriteString("$")
		b.WriteString(strings.Join(mods, ","))
	}
	return b.String()
}

func isFullTypeSet(types []string) bool {
	all := models.AllResourceTypes()
	if len(types) != len(all) {
		return false
	}
	a := append([]string{}, types...)
	b := append([]string{}, all...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
