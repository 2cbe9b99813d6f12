package models

// CompiledRule is one declarative block/allow rule as submitted to the
// request-filtering engine.
type CompiledRule struct {
	ID                       int      `json:"id"`
	Priority                 int      `json:"priority"`
	Action                   RuleKind `json:"action"`
	URLFilter                string   `json:"urlFilter"`
	ResourceTypes            []string `json:"resourceTypes,omitempty"`
	InitiatorDomains         []string `json:"initiatorDomains,omitempty"`
	ExcludedInitiatorDomains []string `json:"excludedInitiatorDomains,omitempty"`
}

// Resource type constants, in canonical order. AllResourceTypes is the
// default set when a rule carries no resource-type modifier.
const (
	ResourceScript     = "script"
	ResourceImage      = "image"
	ResourceStyleSheet = "stylesheet"
	ResourceObject     = "object"
	ResourceXHR        = "xmlhttprequest"
	ResourceSubFrame   = "sub_frame"
	ResourcePing       = "ping"
	ResourceMedia      = "media"
	ResourceFont       = "font"
	ResourceWebSocket  = "websocket"
	ResourceOther      = "other"
)

// AllResourceTypes returns a fresh copy of the full resource-type set.
func AllResourceTypes() []string {
	return []string{
		ResourceScript, ResourceImage, ResourceStyleSheet, ResourceObject,
		ResourceXHR, ResourceSubFrame, ResourcePing, ResourceMedia,
		ResourceFont, ResourceWebSocket, ResourceOther,
	}
}

// Rule priorities. Allow outranks block at equal specificity; a site
// exception outranks everything a filter list can produce.
const (
	PriorityBlock         = 1
	PriorityAllow         = 2
	PrioritySiteException = 1000000
)

// IDRange is an inclusive id range owned by one rule category. Ranges
// never overlap across categories.
type IDRange struct {
	Lo int
	Hi int
}

// Contains reports whether id falls inside the range.
func (r IDRange) Contains(id int) bool { return id >= r.Lo && id <= r.Hi }

// Size returns the number of ids in the range.
func (r IDRange) Size() int { return r.Hi - r.Lo + 1 }

// Reserved id ranges. The header-rule range belongs to the header-rewriting
// subsystem and is declared here only so the partition is visible in one
// place.
var (
	FilterRuleIDRange    = IDRange{Lo: 10000, Hi: 19999}
	SiteExceptionIDRange = IDRange{Lo: 20000, Hi: 20999}
	HeaderRuleIDRange    = IDRange{Lo: 21000, Hi: 21999}
)

// MaxCompiledRules is the per-refresh ceiling on compiled filter rules,
// leaving headroom under the engine's hard limit for the site-exception
// and header-rule ranges.
const MaxCompiledRules = 4500
