package models

import "time"

// Cache and snapshot caps. The last-known-good snapshot is deliberately
// much smaller than the regular cache so it survives storage pressure.
const (
	MaxCachedRulesPerList = 10000
	MaxLastKnownGoodRules = 500
	AnchoredShare         = 0.7 // domain-anchored quota of any truncated rule list
	CacheTTL              = 24 * time.Hour
	MaxGenericSelectors   = 2000
	MaxSelectorsPerDomain = 100
	MaxCosmeticDomains    = 500
)

// CachedFilterList is the persisted copy of one fetched list.
type CachedFilterList struct {
	URL       string    `json:"url"`
	Rules     []string  `json:"rules"`
	FetchedAt time.Time `json:"fetchedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is past its TTL.
func (c *CachedFilterList) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// LastKnownGoodFilterList is the resilience snapshot written on every
// successful fetch and read only when a fetch fails. RuleCount is the
// original, uncapped count.
type LastKnownGoodFilterList struct {
	URL       string    `json:"url"`
	Rules     []string  `json:"rules"`
	FetchedAt time.Time `json:"fetchedAt"`
	RuleCount int       `json:"ruleCount"`
}

// CachedCosmeticRules is the aggregated, deduplicated cosmetic selector
// store, rebuilt wholesale on each refresh.
type CachedCosmeticRules struct {
	Generic        []string            `json:"generic"`
	DomainSpecific map[string][]string `json:"domainSpecific"`
	Exceptions     map[string][]string `json:"exceptions"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// FetchStatus is the per-list health state.
type FetchStatus string

const (
	FetchPending FetchStatus = "pending"
	FetchSuccess FetchStatus = "success"
	FetchError   FetchStatus = "error"
)

// FilterListHealth tracks the fetch/parse history of one list URL.
type FilterListHealth struct {
	URL                 string               `json:"url"`
	LastFetchStatus     FetchStatus          `json:"lastFetchStatus"`
	LastFetchAt         time.Time            `json:"lastFetchAt"`
	LastError           string               `json:"lastError,omitempty"`
	RuleCount           int                  `json:"ruleCount"`
	ParseErrors         int                  `json:"parseErrors"`
	UnsupportedPatterns []UnsupportedPattern `json:"unsupportedPatterns,omitempty"`
	HasLastKnownGood    bool                 `json:"hasLastKnownGood"`
	LastSuccessAt       *time.Time           `json:"lastSuccessAt,omitempty"`
}

// FilteringLevel is a named preset mapping to a fixed bundle set.
type FilteringLevel string

const (
	LevelOff      FilteringLevel = "off"
	LevelMinimal  FilteringLevel = "minimal"
	LevelBasic    FilteringLevel = "basic"
	LevelOptimal  FilteringLevel = "optimal"
	LevelComplete FilteringLevel = "complete"
)

// RulesetState is the persisted bundle/level state.
type RulesetState struct {
	EnabledBundles []string       `json:"enabledBundles"`
	FilteringLevel FilteringLevel `json:"filteringLevel"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}
