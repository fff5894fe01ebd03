package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: synthesis requests served from the file cache.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tts_cache_hits_total",
			Help: "Total number of synthesis requests served from the cache.",
		},
	)

	// Counter: requests rejected by the per-key rate limiter.
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tts_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)

	// Counter: object-store uploads that failed and fell back to inline bytes.
	UploadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tts_upload_failures_total",
			Help: "Total number of failed object-store uploads.",
		},
	)

	// Histogram: end-to-end synthesis latency in seconds, split by cache outcome.
	SynthesisSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tts_synthesis_seconds",
			Help:    "Synthesis latency in seconds.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"engine", "cache_hit"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		RateLimitedTotal,
		UploadFailuresTotal,
		SynthesisSeconds,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSynthesis records one engine call.
func ObserveSynthesis(engine string, cacheHit bool, d time.Duration) {
	if cacheHit {
		CacheHitsTotal.Inc()
	}
	SynthesisSeconds.
		WithLabelValues(engine, strconv.FormatBool(cacheHit)).
		Observe(d.Seconds())
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
