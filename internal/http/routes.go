package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/observability"
)

// RouterConfig holds transport settings for NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter mounts the air-quality, health and metrics routes with the middleware chain.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	aqi := router.Path("/api/aqi").Subrouter()
	if cfg.RequestTimeout > 0 {
		aqi.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	aqi.Methods(http.MethodGet).HandlerFunc(h.GetAirQuality)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	return Recovery(logger)(CORS(cfg.CORSOrigins)(router))
}
