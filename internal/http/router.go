package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires the API routes and middleware. Forecast routes are rate
// limited and bounded by RequestTimeout.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(AccessLogMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.HandleFunc("/plants", h.GetPlants).Methods(http.MethodGet)
	router.HandleFunc("/plants/refresh", h.PostRefresh).Methods(http.MethodPost)
	router.HandleFunc("/regions", h.GetRegions).Methods(http.MethodGet)

	forecastRouter := router.PathPrefix("/forecast").Subrouter()
	forecastRouter.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		forecastRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	forecastRouter.HandleFunc("/plant", h.PostPlantForecast).Methods(http.MethodPost)
	forecastRouter.HandleFunc("/region", h.PostRegionForecast).Methods(http.MethodPost)
	forecastRouter.HandleFunc("/recommendations", h.PostRecommendations).Methods(http.MethodPost)
	return router
}
