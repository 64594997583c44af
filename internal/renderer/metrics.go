package renderer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalPagesRendered tracks source pages rendered to completion.
	TotalPagesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_pages_rendered_total",
		Help: "The total number of source pages rendered to completion.",
	})
	// TotalRenderFailures tracks renders that failed at probe or in the browser.
	TotalRenderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_render_failures_total",
		Help: "The total number of renders that failed at the probe or in the browser.",
	})
	// TotalCandidatesFound tracks image candidates surviving the size filter.
	TotalCandidatesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_candidates_found_total",
		Help: "The total number of image candidates discovered after filtering.",
	})
)
