package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kjstillabower/plant-output-forecaster/internal/circuitbreaker"
	"github.com/kjstillabower/plant-output-forecaster/internal/forecast"
	"github.com/kjstillabower/plant-output-forecaster/internal/lifecycle"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/service"
	"github.com/kjstillabower/plant-output-forecaster/internal/traffic"
	"github.com/kjstillabower/plant-output-forecaster/internal/validation"
)

var validate = validator.New()

// PlantService is the dataset and forecast API the handlers serve.
type PlantService interface {
	Plants() ([]models.Plant, error)
	Regions() ([]string, error)
	Refresh(ctx context.Context) error
	LoadedAt() time.Time
	ForecastPlant(ctx context.Context, id, days int) (models.PlantForecast, error)
	ForecastRegion(ctx context.Context, region string, days, maxPlants int) (models.RegionalForecast, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow      time.Duration
	DegradedFallbackPct int
	// BreakerState, when set, reports the weather API circuit breaker.
	BreakerState func() circuitbreaker.State
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	StartTime time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	plants           PlantService
	healthConfig     *HealthConfig
	refreshTimeout   time.Duration
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. refreshTimeout bounds POST /plants/refresh,
// which outlives the client connection.
func NewHandler(plants PlantService, healthConfig *HealthConfig, refreshTimeout time.Duration, logger *zap.Logger) *Handler {
	if refreshTimeout <= 0 {
		refreshTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		plants:         plants,
		healthConfig:   healthConfig,
		refreshTimeout: refreshTimeout,
		logger:         logger,
	}
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(v)
	return nil
}

type plantForecastRequest struct {
	PlantID *flexInt `json:"plant_id" validate:"required"`
	Days    int      `json:"days" validate:"omitempty,min=1"`
}

type regionForecastRequest struct {
	Region    string `json:"region" validate:"required"`
	Days      int    `json:"days" validate:"omitempty,min=1"`
	MaxPlants int    `json:"max_plants" validate:"omitempty,min=1,max=200"`
}

type recommendationsRequest struct {
	ForecastData *struct {
		DailySummaries []models.DailySummary `json:"daily_summaries"`
		GeneratedAt    json.RawMessage       `json:"generated_at"`
	} `json:"forecast_data" validate:"required"`
}

// decodeBody decodes and validates a JSON request body. On failure it writes
// a 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid input parameters")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid input parameters"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "PlantID":
		return "Plant ID is required"
	case "Region":
		return "Region name is required"
	case "ForecastData":
		return "Forecast data is required"
	}
	return fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
}

// GetPlants handles GET /plants.
func (h *Handler) GetPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := h.plants.Plants()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plants":    plants,
		"count":     len(plants),
		"loaded_at": h.plants.LoadedAt().UTC().Format(time.RFC3339),
	})
}

// PostRefresh handles POST /plants/refresh.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.refreshTimeout)
	defer cancel()
	if err := h.plants.Refresh(ctx); err != nil {
		writeServiceError(w, r, err)
		return
	}
	plants, err := h.plants.Plants()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "refreshed",
		"count":     len(plants),
		"loaded_at": h.plants.LoadedAt().UTC().Format(time.RFC3339),
	})
}

// GetRegions handles GET /regions.
func (h *Handler) GetRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.plants.Regions()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"regions": regions})
}

// PostPlantForecast handles POST /forecast/plant.
func (h *Handler) PostPlantForecast(w http.ResponseWriter, r *http.Request) {
	var req plantForecastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.plants.ForecastPlant(r.Context(), int(*req.PlantID), req.Days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostRegionForecast handles POST /forecast/region.
func (h *Handler) PostRegionForecast(w http.ResponseWriter, r *http.Request) {
	var req regionForecastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.plants.ForecastRegion(r.Context(), req.Region, req.Days, req.MaxPlants)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostRecommendations handles POST /forecast/recommendations.
func (h *Handler) PostRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	generatedAt := req.ForecastData.GeneratedAt
	if len(generatedAt) == 0 {
		generatedAt = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": forecast.Recommend(req.ForecastData.DailySummaries),
		"generated_at":    generatedAt,
	})
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
		"weatherApi": "healthy",
		"dataset":    "ready",
	}
	if result.reason == "fallback_rate_breach" || result.reason == "circuit_open" {
		checks["weatherApi"] = "unhealthy"
	}
	if !lifecycle.IsDatasetReady() {
		checks["dataset"] = "loading"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "plant-output-forecaster",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsDatasetReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "dataset_loading"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerState != nil && h.healthConfig.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	// Degraded while most weather lookups fall back to neutral defaults.
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedFallbackPct > 0 {
		fallbacks, total := traffic.FallbackRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(fallbacks)*100/float64(total) >= float64(h.healthConfig.DegradedFallbackPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "fallback_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		corrID = v
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps service and forecast errors to HTTP responses.
// Unexpected errors are logged at ERROR, expected ones at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("code", code), zap.Error(err))
		} else {
			logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
		}
	}
	writeError(w, r, status, code, message)
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrPlantNotFound):
		return http.StatusNotFound, "PLANT_NOT_FOUND", "Plant not found"
	case errors.Is(err, service.ErrRegionNotFound):
		return http.StatusNotFound, "REGION_NOT_FOUND", err.Error()
	case errors.Is(err, service.ErrRegionUnavailable):
		return http.StatusBadRequest, "COUNTY_DATA_UNAVAILABLE", "County data not available"
	case errors.Is(err, validation.ErrRegionEmpty):
		return http.StatusBadRequest, "INVALID_REQUEST", "Region name is required"
	case errors.Is(err, validation.ErrRegionTooLong), errors.Is(err, validation.ErrRegionInvalidChars),
		errors.Is(err, validation.ErrDaysOutOfRange):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, forecast.ErrUnsupportedSource):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_SOURCE", err.Error()
	case errors.Is(err, forecast.ErrMissingPlantData):
		return http.StatusUnprocessableEntity, "MISSING_PLANT_DATA", err.Error()
	case errors.Is(err, forecast.ErrNoSuccessfulForecasts):
		return http.StatusBadGateway, "NO_SUCCESSFUL_FORECASTS", "No successful forecasts generated"
	case errors.Is(err, forecast.ErrForecastUnavailable):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather forecast"
	case errors.Is(err, service.ErrDatasetNotLoaded):
		return http.StatusServiceUnavailable, "DATASET_UNAVAILABLE", "Plant dataset is not loaded"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process request"
	}
}
