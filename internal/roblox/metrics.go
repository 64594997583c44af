package roblox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalUploads tracks assets successfully published.
	TotalUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_uploads_total",
		Help: "The total number of assets successfully published.",
	})
	// TotalUploadFailures tracks publish calls that ended in a fatal failure.
	TotalUploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_upload_failures_total",
		Help: "The total number of publish calls that exhausted their attempt budget or failed fatally.",
	})
	// TotalRateLimitHits tracks 429 responses from the upload endpoint.
	TotalRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_rate_limit_hits_total",
		Help: "The total number of times the upload endpoint rate limited us.",
	})
	// TotalModerationHits tracks moderation-shaped 403 responses.
	TotalModerationHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decalpress_moderation_hits_total",
		Help: "The total number of publish calls rejected because the account is moderated.",
	})
)
