package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamatic_requests_total",
		Help: "Total number of requests processed",
	}, []string{"endpoint", "model"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ollamatic_request_duration_seconds",
		Help:    "Total request duration in seconds, including network time",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "model"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ollamatic_token_generation_seconds",
		Help:    "Model inference time in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	inputTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamatic_input_tokens_total",
		Help: "Total number of input tokens processed",
	}, []string{"model"})

	outputTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamatic_output_tokens_total",
		Help: "Total number of output tokens generated",
	}, []string{"model"})

	tokensPerSecond = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ollamatic_tokens_per_second",
		Help: "Tokens generated per second on the most recent request",
	}, []string{"model"})

	collectorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamatic_experiences_dropped_total",
		Help: "Experiences rejected because the collector queue was full",
	})

	collectorFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamatic_experience_writes_failed_total",
		Help: "Experience writes abandoned after exhausting retries",
	})
)

// RecordRequest publishes one finished request's snapshot to the Prometheus
// registry. Called after the client-facing path completes.
func RecordRequest(endpoint, model string, snap Snapshot) {
	requestCount.WithLabelValues(endpoint, model).Inc()
	requestDuration.WithLabelValues(endpoint, model).Observe(snap.TotalDuration.Seconds())

	if snap.TokensIn > 0 {
		inputTokens.WithLabelValues(model).Add(float64(snap.TokensIn))
	}
	if snap.TokensOut > 0 {
		outputTokens.WithLabelValues(model).Add(float64(snap.TokensOut))
	}
	if snap.GenerationTime > 0 {
		generationDuration.WithLabelValues(model).Observe(snap.GenerationTime.Seconds())
		tokensPerSecond.WithLabelValues(model).Set(float64(snap.TokensOut) / snap.GenerationTime.Seconds())
	}
}

// RecordDroppedExperience counts a collector queue rejection.
func RecordDroppedExperience() { collectorDropped.Inc() }

// RecordFailedExperience counts an abandoned experience write.
func RecordFailedExperience() { collectorFailed.Inc() }
