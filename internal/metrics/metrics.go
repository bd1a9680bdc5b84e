package metrics

import (
	"context"
	"net/http"
	"strconv"

	"analyticsbridge/internal/analytics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analytics_bridge"

// Store owns the service collectors on a private registry.
type Store struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	authFailures   prometheus.Counter
	rateLimited    prometheus.Counter
	invocations    *prometheus.CounterVec
	invocationTime *prometheus.HistogramVec
	libraryUsable  prometheus.Gauge
}

func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected bearer tokens.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cli_invocations_total",
			Help:      "Analytics CLI runs by command, outcome and error type.",
		}, []string{"command", "outcome", "error_type"}),
		invocationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cli_invocation_duration_seconds",
			Help:      "Wall time of analytics CLI runs.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
		libraryUsable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cli_library_usable",
			Help:      "1 when the last library check passed.",
		}),
	}
	s.registry.MustRegister(
		s.requests,
		s.authFailures,
		s.rateLimited,
		s.invocations,
		s.invocationTime,
		s.libraryUsable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *Store) IncRequest(route, method string, status int) {
	s.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func (s *Store) IncAuthFailure() {
	s.authFailures.Inc()
}

func (s *Store) IncRateLimited() {
	s.rateLimited.Inc()
}

func (s *Store) SetLibraryUsable(usable bool) {
	if usable {
		s.libraryUsable.Set(1)
		return
	}
	s.libraryUsable.Set(0)
}

// ObserveInvocation implements analytics.Observer.
func (s *Store) ObserveInvocation(_ context.Context, o analytics.Observation) {
	outcome := "success"
	switch {
	case o.Err == nil:
	case o.ExitCode < 0:
		outcome = "aborted"
	default:
		outcome = "failure"
	}
	errorType := string(o.ErrorType)
	if errorType == "" && o.Err != nil {
		errorType = "none"
	}
	cmd := o.Command()
	s.invocations.WithLabelValues(cmd, outcome, errorType).Inc()
	s.invocationTime.WithLabelValues(cmd).Observe(o.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
