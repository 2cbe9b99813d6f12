// Package metrics exposes prometheus collectors for the compilation
// pipeline. Collectors register on the default registry; the serve
// command exports them with promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnrengine",
		Name:      "fetch_attempts_total",
		Help:      "Filter list fetch attempts by outcome.",
	}, []string{"status"})

	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnrengine",
		Name:      "parse_errors_total",
		Help:      "Filter lines dropped as malformed.",
	})

	UnsupportedPatterns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dnrengine",
		Name:      "unsupported_patterns_total",
		Help:      "Filter lines rejected as unsupported syntax, by category.",
	}, []string{"category"})

	CompiledRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnrengine",
		Name:      "compiled_rules",
		Help:      "Compiled network rules active in the engine.",
	})

	CosmeticSelectors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dnrengine",
		Name:      "cosmetic_selectors",
		Help:      "Generic cosmetic selectors in the current cache.",
	})

	QuotaDegradations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnrengine",
		Name:      "quota_degradations_total",
		Help:      "Persistent-store writes retried with a degraded payload.",
	})

	RefreshCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dnrengine",
		Name:      "refresh_cycles_total",
		Help:      "Completed refresh cycles.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
