package models

// RuleKind is the action a network rule requests.
type RuleKind string

const (
	KindBlock RuleKind = "block"
	KindAllow RuleKind = "allow"
)

// ParsedNetworkRule is the structured form of one accepted network filter
// line. It exists between the parser and the converter.
type ParsedNetworkRule struct {
	Raw              string
	Kind             RuleKind
	Pattern          string // anchors stripped, never empty/"*"/"^"
	IsDomainAnchored bool   // had a "||" prefix
	ResourceTypes    []string
	Domains          []string
	ExcludedDomains  []string
	ThirdParty       *bool // nil = any, true = third-party only, false = first-party only
}

// CosmeticKind classifies a cosmetic rule.
type CosmeticKind string

const (
	CosmeticGeneric        CosmeticKind = "generic"
	CosmeticDomainSpecific CosmeticKind = "domain-specific"
	CosmeticException      CosmeticKind = "exception"
)

// CosmeticRule is one element-hiding rule whose selector passed the safety
// checks (no procedural pseudo-selector, not */body/html, length >= 3).
type CosmeticRule struct {
	Raw             string
	Kind            CosmeticKind
	Selector        string
	Domains         []string
	ExcludedDomains []string
}

// UnsupportedPattern is one telemetry sample for a rejected filter line.
type UnsupportedPattern struct {
	Category string `json:"category"`
	Line     string `json:"line"` // truncated to MaxUnsupportedLineLen
}

// Telemetry caps. A malformed list can be arbitrarily large; these bound
// what the parser retains about it.
const (
	MaxUnsupportedPatterns = 50
	MaxUnsupportedLineLen  = 100
)
