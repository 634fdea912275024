package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/circuitbreaker"
	"github.com/kjstillabower/air-quality-proxy/internal/client"
	"github.com/kjstillabower/air-quality-proxy/internal/lifecycle"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
	"github.com/kjstillabower/air-quality-proxy/internal/traffic"
	"github.com/kjstillabower/air-quality-proxy/internal/validation"
)

// Resolver answers air-quality queries. Implemented by service.AirQualityService.
type Resolver interface {
	Resolve(ctx context.Context, q models.Query) (models.Result, error)
}

// HealthConfig holds what the health handler needs beyond the request outcomes.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	APIKeyConfigured bool
	// Breaker, when set, reports degraded while open.
	Breaker *circuitbreaker.CircuitBreaker
	// CacheEntries, when set, is reported as cacheEntries.
	CacheEntries func() int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	resolver         Resolver
	tracker          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and healthConfig may be nil.
func NewHandler(resolver Resolver, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	if healthConfig == nil {
		healthConfig = &HealthConfig{APIKeyConfigured: true}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		resolver:     resolver,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// GetAirQuality handles GET /api/aqi?lat=&lon=&time=.
func (h *Handler) GetAirQuality(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	params := r.URL.Query()

	q, err := validation.ParseQuery(params.Get("lat"), params.Get("lon"), params.Get("time"), h.now())
	if err != nil {
		logger.Warn("invalid query",
			zap.String("lat", params.Get("lat")),
			zap.String("lon", params.Get("lon")),
			zap.String("time", params.Get("time")),
			zap.Error(err))
		writeError(w, r, http.StatusBadRequest, queryErrorMessage(err))
		return
	}

	result, err := h.resolver.Resolve(r.Context(), q)
	if err != nil {
		status, msg := resolveErrorResponse(err)
		if status >= http.StatusInternalServerError {
			h.tracker.RecordError()
		}
		logger.Debug("request failed", zap.Int("status", status), zap.Error(err))
		writeError(w, r, status, msg)
		return
	}
	h.tracker.RecordSuccess()

	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if result.Mode != "" {
		w.Header().Set("X-AQI-Mode", string(result.Mode))
	}
	writeRawJSON(w, http.StatusOK, result.Payload)
}

// queryErrorMessage maps validation errors to the client-facing message.
func queryErrorMessage(err error) string {
	switch {
	case errors.Is(err, validation.ErrMissingCoordinates):
		return "Missing lat/lon parameters"
	case errors.Is(err, validation.ErrInvalidTime):
		return "Invalid time parameter"
	default:
		return "Invalid lat/lon parameters"
	}
}

// resolveErrorResponse maps a Resolve error to a status and message. Upstream failures
// carry their own message through.
func resolveErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, validation.ErrInvalidQuery):
		return http.StatusBadRequest, queryErrorMessage(err)
	case errors.Is(err, routing.ErrFutureOutOfRange):
		return http.StatusBadRequest, "Requested time is beyond the forecast horizon"
	case errors.Is(err, client.ErrMissingAPIKey):
		return http.StatusInternalServerError, "Server missing OPENWEATHER_API_KEY"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"apiKey":      "configured",
		"upstreamApi": "healthy",
	}
	if !h.healthConfig.APIKeyConfigured {
		checks["apiKey"] = "missing"
	}
	if result.reason == "error_rate_breach" {
		checks["upstreamApi"] = "unhealthy"
	}
	if h.healthConfig.Breaker != nil {
		checks["circuitBreaker"] = h.healthConfig.Breaker.State().String()
	}

	now := h.now()
	resp := map[string]interface{}{
		"status":        result.status,
		"service":       observability.ServiceName,
		"checks":        checks,
		"uptimeSeconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if h.healthConfig.CacheEntries != nil {
		resp["cacheEntries"] = h.healthConfig.CacheEntries()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded (missing key, open breaker, error rate) > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !h.healthConfig.APIKeyConfigured {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_missing"}
	}
	if cb := h.healthConfig.Breaker; cb != nil && cb.State() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.tracker.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes {"error": message, "requestId": correlation ID}.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":     message,
		"requestId": observability.CorrelationID(r.Context()),
	})
}
