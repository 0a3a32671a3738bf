// Package httpapi exposes the automation service over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"browser-automation/internal/metrics"
	"browser-automation/internal/usecase"
	"browser-automation/internal/usecase/adapters"
	"browser-automation/pkg/logg"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	handlerName  = "HTTPHandler"
	maxBodyBytes = 1 << 20
)

type Handler struct {
	svc     adapters.AutomationService
	logger  *zap.Logger
	metrics *metrics.Collector
}

type Params struct {
	fx.In

	Usecase *usecase.Service
	Logger  *zap.Logger
	Metrics *metrics.Collector `optional:"true"`
}

func NewHandler(params Params) *Handler {
	return New(params.Usecase.Automation, params.Logger, params.Metrics)
}

func New(svc adapters.AutomationService, logger *zap.Logger, collector *metrics.Collector) *Handler {
	return &Handler{
		svc:     svc,
		logger:  logger.With(zap.String(logg.Layer, handlerName)),
		metrics: collector,
	}
}

func (h *Handler) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(h.metricsMiddleware)

	router.Get("/healthz", h.handleHealth)

	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)
		r.Delete("/{sessionID}", h.handleCloseSession)
		r.Post("/{sessionID}/navigate", h.handleNavigate)
		r.Post("/{sessionID}/commands", h.handleCommand)
		r.Get("/{sessionID}/screenshot", h.handleScreenshot)
		r.Get("/{sessionID}/content", h.handleContent)
		r.Get("/{sessionID}/metadata", h.handleMetadata)
	})

	return router
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.metrics.HTTPRequest(r.Method, route, status, time.Since(started))
	})
}
