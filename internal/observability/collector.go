// Package observability provides Prometheus instrumentation for analyses,
// scoring and the event bus, and an in-memory log of recent runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rankeval"

// Collector holds the rankeval metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	ScoringPasses    *prometheus.CounterVec
	ScoreCacheHits   *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	AnalysisFailures *prometheus.CounterVec
	BusPublish       *prometheus.CounterVec
	BusPublishTime   *prometheus.HistogramVec
}

// NewCollector creates a collector and registers its metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		ScoringPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_passes_total",
			Help:      "Scoring passes over a dataset, by model, mode (predicted|detailed) and status.",
		}, []string{"model", "mode", "status"}),

		ScoreCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_cache_hits_total",
			Help:      "Scoring requests served from the per-call cache.",
		}, []string{"model"}),

		AnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analysis routines.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"analysis"}),

		AnalysisFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_failures_total",
			Help:      "Analysis routines that returned an error.",
		}, []string{"analysis"}),

		BusPublish: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Events published, by topic and status.",
		}, []string{"topic", "status"}),

		BusPublishTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Publish latency by topic.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordScoringPass counts one model evaluation over a dataset.
func (c *Collector) RecordScoringPass(model string, detailed bool, _ time.Duration, err error) {
	mode := "predicted"
	if detailed {
		mode = "detailed"
	}
	c.ScoringPasses.WithLabelValues(model, mode, status(err)).Inc()
}

// RecordScoreCacheHit counts a scoring request answered by the cache.
func (c *Collector) RecordScoreCacheHit(model string) {
	c.ScoreCacheHits.WithLabelValues(model).Inc()
}

// RecordAnalysis observes the duration of one analysis routine.
func (c *Collector) RecordAnalysis(name string, elapsed time.Duration, err error) {
	c.AnalysisDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		c.AnalysisFailures.WithLabelValues(name).Inc()
	}
}

// RecordBusPublish counts one publish attempt.
func (c *Collector) RecordBusPublish(topic string, elapsed time.Duration, err error) {
	c.BusPublish.WithLabelValues(topic, status(err)).Inc()
	c.BusPublishTime.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// WriteTextfile writes the registry in the text exposition format, for the
// node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
