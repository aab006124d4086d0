package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ipshow"

// Recorder owns a Prometheus registry with the service's request, token and
// static asset metrics. Each Recorder has its own registry so tests can build
// isolated instances.
type Recorder struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensIssued    prometheus.Counter
	tokenConsumes   *prometheus.CounterVec
	staticResponses *prometheus.CounterVec
}

// New constructs a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route class and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Single-use tokens handed out with the client script.",
		}),
		tokenConsumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_consumptions_total",
			Help:      "Token redemption attempts by result (granted, rejected, error).",
		}, []string{"result"}),
		staticResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_responses_total",
			Help:      "Static asset responses by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.requestDuration,
		r.tokensIssued,
		r.tokenConsumes,
		r.staticResponses,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records one completed request.
func (r *Recorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	route = normalizeName(route)
	r.requests.WithLabelValues(strings.ToUpper(method), route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveTokenIssued counts a token handed out.
func (r *Recorder) ObserveTokenIssued() {
	r.tokensIssued.Inc()
}

// ObserveTokenConsumed counts a redemption attempt.
func (r *Recorder) ObserveTokenConsumed(result string) {
	r.tokenConsumes.WithLabelValues(normalizeName(result)).Inc()
}

// ObserveStatic counts a static asset outcome.
func (r *Recorder) ObserveStatic(outcome string) {
	r.staticResponses.WithLabelValues(normalizeName(outcome)).Inc()
}

// TrackOutstanding registers a gauge that reports count() at scrape time.
func (r *Recorder) TrackOutstanding(count func() int) error {
	if count == nil {
		return nil
	}
	return r.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tokens_outstanding",
		Help:      "Issued tokens that have not been consumed or purged.",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func normalizeName(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
