// Package metrics exposes the service's prometheus instruments on a private
// registry.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"browser-automation/internal/config"
	"browser-automation/pkg/logg"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const collectorName = "MetricsCollector"

// Session close reasons.
const (
	CloseExplicit = "explicit"
	CloseReplaced = "replaced"
	CloseIdle     = "idle"
	CloseShutdown = "shutdown"
)

// Collector methods are safe on a nil receiver so components can run
// without metrics in tests.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	sessionsActive   prometheus.Gauge
	sessionsCreated  *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	launchFailures   prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	selectorAttempts *prometheus.CounterVec
	navigationsTotal *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewFromConfig(params Params) *Collector {
	return NewCollector(namespaceOf(params.Config.AppConfig.ServiceName), params.Logger)
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String(logg.Layer, collectorName)),
	}

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live browser sessions",
	})

	c.sessionsCreated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Browser sessions created",
	}, []string{"browser_kind"})

	c.sessionsClosed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Browser sessions closed",
	}, []string{"reason"})

	c.launchFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "browser_launch_failures_total",
		Help:      "Browser launches that failed",
	})

	c.commandsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands executed by action and outcome code",
	}, []string{"action", "outcome"})

	c.commandDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Command execution time",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"action"})

	c.selectorAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selector_attempts_total",
		Help:      "Document and selector pairings tried during resolution",
	}, []string{"outcome"})

	c.navigationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigations_total",
		Help:      "Page navigations by outcome",
	}, []string{"outcome"})

	c.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	c.httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}

func (c *Collector) SessionCreated(browserKind string) {
	if c == nil {
		return
	}

	c.sessionsCreated.WithLabelValues(browserKind).Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed(reason string) {
	if c == nil {
		return
	}

	c.sessionsClosed.WithLabelValues(reason).Inc()
	c.sessionsActive.Dec()
}

func (c *Collector) LaunchFailed() {
	if c == nil {
		return
	}

	c.launchFailures.Inc()
}

// CommandExecuted records one command; outcome is "ok" or an error code.
func (c *Collector) CommandExecuted(action, outcome string, took time.Duration) {
	if c == nil {
		return
	}

	c.commandsTotal.WithLabelValues(action, outcome).Inc()
	c.commandDuration.WithLabelValues(action).Observe(took.Seconds())
}

func (c *Collector) SelectorAttempt(outcome string) {
	if c == nil {
		return
	}

	c.selectorAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) Navigation(outcome string) {
	if c == nil {
		return
	}

	c.navigationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) HTTPRequest(method, route string, status int, took time.Duration) {
	if c == nil {
		return
	}

	c.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func namespaceOf(serviceName string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(strings.ToLower(serviceName))
}
