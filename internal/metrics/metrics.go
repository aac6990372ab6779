// Package metrics exposes Prometheus telemetry for the API, the model
// registry and the prediction service on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brewcast/internal/types"
)

const namespace = "brewcast"

// outcomeOK labels successful operations; failures are labelled with their
// error code.
const outcomeOK = "ok"

// Collector implements core.MetricsCollector, registry.Observer and
// predict.Observer.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	resolves         *prometheus.CounterVec
	trainings        *prometheus.CounterVec
	trainingDuration *prometheus.HistogramVec
	trainingSamples  *prometheus.GaugeVec

	predictions        *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_resolves_total",
			Help:      "Model lookups by registry mode and where the model came from.",
		}, []string{"mode", "source"}),
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Training runs by registry mode and outcome.",
		}, []string{"mode", "outcome"}),
		trainingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_training_duration_seconds",
			Help:      "Wall time of a training run including persistence.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		trainingSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_training_samples",
			Help:      "Observation count of the most recent successful training run.",
		}, []string{"mode"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions by variant and outcome.",
		}, []string{"variant", "outcome"}),
		predictionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction latency including model resolution.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"variant"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests,
		c.requestDuration,
		c.resolves,
		c.trainings,
		c.trainingDuration,
		c.trainingSamples,
		c.predictions,
		c.predictionDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordRequest(method, route, status string, duration time.Duration) {
	c.requests.WithLabelValues(method, route, status).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) ObserveResolve(mode, source string) {
	c.resolves.WithLabelValues(mode, source).Inc()
}

func (c *Collector) ObserveTraining(mode string, d time.Duration, sampleCount int, err error) {
	c.trainings.WithLabelValues(mode, outcome(err)).Inc()
	c.trainingDuration.WithLabelValues(mode).Observe(d.Seconds())
	if err == nil {
		c.trainingSamples.WithLabelValues(mode).Set(float64(sampleCount))
	}
}

func (c *Collector) ObservePrediction(variant string, d time.Duration, err error) {
	c.predictions.WithLabelValues(variant, outcome(err)).Inc()
	c.predictionDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	return string(types.CodeOf(err))
}
