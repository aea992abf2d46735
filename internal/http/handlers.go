package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
	"github.com/kjstillabower/black-ice-route-service/internal/service"
	"github.com/kjstillabower/black-ice-route-service/internal/traffic"
	"github.com/kjstillabower/black-ice-route-service/internal/validation"
)

// maxBodyBytes bounds route request bodies. 100 waypoints fit comfortably.
const maxBodyBytes = 1 << 20

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
}

// KeyValidator checks that the provider accepts our credentials.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	risk         *service.RiskService
	provider     KeyValidator
	tracker      *traffic.Tracker
	healthConfig *HealthConfig
	logger       *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker, healthConfig and logger may be nil.
func NewHandler(
	riskService *service.RiskService,
	provider KeyValidator,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		risk:         riskService,
		provider:     provider,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown flips /health to shutting-down so load balancers stop routing here.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetRisk handles GET /risk?lat=&lon=.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	point, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	result, err := h.risk.AssessLocation(r.Context(), point.Lat, point.Lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AnalyzeRoute handles POST /routes/analyze.
func (h *Handler) AnalyzeRoute(w http.ResponseWriter, r *http.Request) {
	var req validation.RouteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a waypoints array")
		return
	}
	if err := validation.ValidateRouteRequest(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ROUTE", err.Error())
		return
	}

	analysis, err := h.risk.AnalyzeRoute(r.Context(), req.ToWaypoints())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

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

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = "healthy"
		if err := h.healthConfig.CachePing(); err != nil {
			checks["cache"] = "unhealthy"
			observability.LoggerFromContext(r.Context()).Debug("cache ping failed", zap.Error(err))
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "black-ice-route-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key invalid > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.provider != nil {
		if err := h.provider.ValidateAPIKey(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	cfg := h.healthConfig
	if cfg == nil || h.tracker == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.OverloadWindow > 0 && cfg.RateLimitRPS > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.tracker.DenialCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := h.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps a service error to a status code. Route analyses are
// never returned partially: a cancelled or timed-out analysis is a 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	var verr *route.ValidationError
	var aerr *risk.AggregationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", verr.Error())
	case errors.As(err, &aerr):
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "risk evaluation failed")
	case service.IsUnavailable(err):
		logger.Debug("upstream error", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
