// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the conversation store.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "chatmem"

// ServiceName is the key under which Metrics is registered in the
// application service registry.
const ServiceName = "telemetry.metrics"

// Retention outcomes recorded by ObserveRetention.
const (
	OutcomeSkipped    = "skipped"
	OutcomeCompressed = "compressed"
	OutcomeFailed     = "failed"
	OutcomeDisabled   = "disabled"
)

// Metrics holds the collectors exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesAppended  *prometheus.CounterVec
	summariesCreated  prometheus.Counter
	messagesPruned    prometheus.Counter
	retentionRuns     *prometheus.CounterVec
	summarizeDuration prometheus.Histogram
	searches          prometheus.Counter
	contextReads      prometheus.Counter
}

// NewMetrics creates a Metrics backed by a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to the message log, by role.",
		}, []string{"role"}),
		summariesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_created_total",
			Help:      "Summaries appended to the summary log.",
		}),
		messagesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_pruned_total",
			Help:      "Raw messages deleted after being summarized.",
		}),
		retentionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_runs_total",
			Help:      "Retention policy evaluations, by outcome.",
		}, []string{"outcome"}),
		summarizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarize_duration_seconds",
			Help:      "Latency of calls to the summarization collaborator.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search queries served.",
		}),
		contextReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_reads_total",
			Help:      "Context assemblies served.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesAppended,
		m.summariesCreated,
		m.messagesPruned,
		m.retentionRuns,
		m.summarizeDuration,
		m.searches,
		m.contextReads,
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MessageAppended counts one appended message.
func (m *Metrics) MessageAppended(role string) {
	if m == nil {
		return
	}
	m.messagesAppended.WithLabelValues(role).Inc()
}

// SummaryCreated counts one summary and the messages pruned after it.
func (m *Metrics) SummaryCreated(pruned int) {
	if m == nil {
		return
	}
	m.summariesCreated.Inc()
	if pruned > 0 {
		m.messagesPruned.Add(float64(pruned))
	}
}

// ObserveRetention counts one retention evaluation.
func (m *Metrics) ObserveRetention(outcome string) {
	if m == nil {
		return
	}
	m.retentionRuns.WithLabelValues(outcome).Inc()
}

// ObserveSummarize records a summarizer call duration.
func (m *Metrics) ObserveSummarize(d time.Duration) {
	if m == nil {
		return
	}
	m.summarizeDuration.Observe(d.Seconds())
}

// SearchServed counts one search.
func (m *Metrics) SearchServed() {
	if m == nil {
		return
	}
	m.searches.Inc()
}

// ContextServed counts one context read.
func (m *Metrics) ContextServed() {
	if m == nil {
		return
	}
	m.contextReads.Inc()
}
