package progress

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports run milestones as Prometheus metrics. It owns the
// collectors for runs started/completed and the live counter gauges.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	moderationHit prometheus.Counter
	uploaded      prometheus.Gauge
	processed     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decalpress_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decalpress_runs_completed_total",
			Help: "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		moderationHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decalpress_moderation_notices_total",
			Help: "Moderation notices surfaced to the caller.",
		}),
		uploaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decalpress_run_uploaded",
			Help: "Uploads completed by the current run.",
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "decalpress_run_processed",
			Help: "Candidates processed by the current run.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.moderationHit,
		s.uploaded,
		s.processed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the event. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, evt Event) error {
	switch evt.Stage {
	case StageRunStart:
		s.runsStarted.Inc()
	case StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
	case StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
	case StageModerated:
		s.moderationHit.Inc()
	}
	s.uploaded.Set(float64(evt.Uploaded))
	s.processed.Set(float64(evt.Processed))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
