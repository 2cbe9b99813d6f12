// Package parser tokenizes raw filter-list text into raw network rule
// lines and structured cosmetic rules, skipping comments and rejecting
// unsupported syntax while keeping bounded telemetry about what it
// rejected.
package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// Parser parses ABP/uBlock filter lists. One instance per list so stats
// stay per-list; the zero value is not usable, call New.
type Parser struct {
	stats Stats
}

// Stats tracks parsing statistics for one list.
type Stats struct {
	Total              int
	Network            int
	Cosmetic           int
	CosmeticExceptions int
	Comments           int
	ParseErrors        int
	Unsupported        int
	Samples            []models.UnsupportedPattern
}

// Result is the parser output consumed by the converter and the cosmetic
// resolver. Network lines pass through unmodified.
type Result struct {
	NetworkRules  []string
	CosmeticRules []models.CosmeticRule
}

// Unsupported-pattern categories.
const (
	CategoryScriptlet      = "scriptlet (##+js)"
	CategorySnippet        = "snippet (#$#)"
	CategoryProcedural     = "procedural selector"
	CategoryUnsafeSelector = "unsafe selector"
)

// proceduralPseudos are cosmetic pseudo-selectors this engine deliberately
// does not execute.
var proceduralPseudos = []string{
	":has(", ":has-text(", ":matches-css(", ":xpath(", ":nth-ancestor(",
	":upward(", ":remove(", ":style(", ":min-text-length(", ":watch-attr(",
}

// New creates a new parser
func New() *Parser {
	return &Parser{}
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// record notes a rejected line, keeping at most MaxUnsupportedPatterns
// truncated samples.
func (p *Parser) record(category, line string) {
	p.stats.Unsupported++
	if len(p.stats.Samples) >= models.MaxUnsupportedPatterns {
		return
	}
	if len(line) > models.MaxUnsupportedLineLen {
		line = line[:models.MaxUnsupportedLineLen]
	}
	p.stats.Samples = append(p.stats.Samples, models.UnsupportedPattern{
		Category: category,
		Line:     line,
	})
}

// Parse reads filter list content and splits it into network rule lines
// and cosmetic rules.
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p.stats.Total++
		p.parseLine(line, res)
	}

	return res, scanner.Err()
}

func (p *Parser) parseLine(line string, res *Result) {
	// Comments and list headers
	if strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		p.stats.Comments++
		return
	}
	// Bare # comments (hosts-file style), but ## / #@# are separators
	if strings.HasPrefix(line, "#") && !strings.Contains(line, "##") && !strings.Contains(line, "#@#") {
		p.stats.Comments++
		return
	}

	// Scriptlet injection
	if strings.Contains(line, "##+js") || strings.Contains(line, "#@#+js") {
		p.record(CategoryScriptlet, line)
		return
	}
	// Snippet / HTML filters
	if strings.Contains(line, "#$#") || strings.Contains(line, "#@$#") {
		p.record(CategorySnippet, line)
		return
	}

	// Cosmetic exception
	if idx := strings.Index(line, "#@#"); idx != -1 {
		if rule := p.parseCosmetic(line, line[:idx], line[idx+3:], true); rule != nil {
			res.CosmeticRules = append(res.CosmeticRules, *rule)
			p.stats.CosmeticExceptions++
		}
		return
	}

	// Cosmetic rule
	if idx := strings.Index(line, "##"); idx != -1 {
		if rule := p.parseCosmetic(line, line[:idx], line[idx+2:], false); rule != nil {
			res.CosmeticRules = append(res.CosmeticRules, *rule)
			p.stats.Cosmetic++
		}
		return
	}

	// Everything else is a network rule; the converter owns its syntax.
	res.NetworkRules = append(res.NetworkRules, line)
	p.stats.Network++
}

// parseCosmetic parses the domain list and selector of a cosmetic rule.
// Returns nil (and counts a parse error) when the selector is unsafe.
func (p *Parser) parseCosmetic(raw, domainPart, selector string, isException bool) *models.CosmeticRule {
	selector = strings.TrimSpace(selector)
	if category, ok := checkSelector(selector); !ok {
		p.stats.ParseErrors++
		p.record(category, raw)
		return nil
	}

	rule := &models.CosmeticRule{Raw: raw, Selector: selector}

	for _, d := range strings.Split(domainPart, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "~") {
			// Negation is not meaningful for exceptions: they are
			// additive per domain.
			if !isException {
				rule.ExcludedDomains = append(rule.ExcludedDomains, d[1:])
			}
			continue
		}
		rule.Domains = append(rule.Domains, d)
	}

	switch {
	case isException:
		rule.Kind = models.CosmeticException
	case len(rule.Domains) > 0:
		rule.Kind = models.CosmeticDomainSpecific
	default:
		// Includes the negation-only case (~example.com##sel), which
		// stays generic; the resolver does not route the exclusion.
		rule.Kind = models.CosmeticGeneric
	}

	return rule
}

// checkSelector applies the safety checks. A selector that fails is never
// approximated, only counted.
func checkSelector(selector string) (category string, ok bool) {
	for _, pseudo := range proceduralPseudos {
		if strings.Contains(selector, pseudo) {
			return CategoryProcedural, false
		}
	}
	if selector == "*" || selector == "body" || selector == "html" {
		return CategoryUnsafeSelector, false
	}
	if len(selector) < 3 {
		return CategoryUnsafeSelector, false
	}
	return "", true
}
