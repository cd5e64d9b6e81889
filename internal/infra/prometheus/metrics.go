package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksCreated counts successful link creations.
	LinksCreated = promauto.NewCounter(prom.CounterOpts{
		Name: "shortlink_links_created_total",
		Help: "Number of short links created.",
	})

	// RedirectsServed counts resolve attempts that were allowed.
	RedirectsServed = promauto.NewCounter(prom.CounterOpts{
		Name: "shortlink_redirects_total",
		Help: "Number of resolve attempts that resulted in a redirect.",
	})

	// Denials counts refused resolve attempts by reason.
	Denials = promauto.NewCounterVec(prom.CounterOpts{
		Name: "shortlink_denials_total",
		Help: "Number of resolve attempts refused, by denial reason.",
	}, []string{"reason"})

	// CodegenFallbacks counts times the generator exhausted its random
	// attempts and fell back to the timestamp-suffixed code.
	CodegenFallbacks = promauto.NewCounter(prom.CounterOpts{
		Name: "shortlink_codegen_fallback_total",
		Help: "Number of short-code generations that used the timestamp fallback.",
	})
)
