package fetcher

// bootstrapRules is the hardcoded seed set applied before any remote list
// loads, so blocking is effective from first run even fully offline. It
// covers well-known tracker hosts plus a handful of ad-path patterns.
var bootstrapRules = []string{
	"||doubleclick.net^",
	"||googlesyndication.com^",
	"||googleadservices.com^",
	"||google-analytics.com^",
	"||googletagservices.com^",
	"||adnxs.com^",
	"||adsrvr.org^",
	"||scorecardresearch.com^",
	"||criteo.com^",
	"||criteo.net^",
	"||taboola.com^",
	"||outbrain.com^",
	"||rubiconproject.com^",
	"||pubmatic.com^",
	"||openx.net^",
	"||quantserve.com^",
	"||moatads.com^",
	"||hotjar.com^",
	"||mouseflow.com^",
	"||amplitude.com^",
	"||mixpanel.com^",
	"||segment.io^",
	"||branch.io^",
	"||facebook.com/tr^",
	"*/adserver/",
	"*/adsbygoogle.",
	"*/pagead/js/",
	"*/ad-banner/",
	"*/banners/ads/",
	"*/analytics.js",
	"*/beacon.js",
}

// BootstrapRules returns a copy of the built-in seed rule set.
func BootstrapRules() []string {
	return append([]string(nil), bootstrapRules...)
}
