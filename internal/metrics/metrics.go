// Package metrics exposes interview counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spigell/grant-interviewer/internal/interview"
)

const namespace = "grant_interviewer"

type Metrics struct {
	started         prometheus.Counter
	questions       *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	finished        *prometheus.CounterVec
	aggregate       prometheus.Histogram
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		started: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_started_total",
			Help:      "Interviews started.",
		}),
		questions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_asked_total",
			Help:      "Questions asked by topic.",
		}, []string{"topic"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fallbacks_total",
			Help:      "Model failures recovered locally, by kind (evaluation or generation).",
		}, []string{"kind"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interviews_finished_total",
			Help:      "Interviews that reached a terminal status.",
		}, []string{"status"}),
		aggregate: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_score",
			Help:      "Aggregate quality score of completed interviews.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route and status code.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) InterviewStarted() {
	m.started.Inc()
}

func (m *Metrics) QuestionAsked(topicID string) {
	m.questions.WithLabelValues(topicID).Inc()
}

func (m *Metrics) Fallback(kind string) {
	m.fallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) InterviewFinished(status interview.Status, aggregate float64) {
	m.finished.WithLabelValues(string(status)).Inc()
	if status == interview.StatusCompleted {
		m.aggregate.Observe(aggregate)
	}
}

func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
