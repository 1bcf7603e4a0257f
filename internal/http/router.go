package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weathervane/weather-api-service/internal/observability"
)

// NewRouter wires routes and middleware. Rate limiting and the request
// timeout apply to the weather API surface only; /health and /metrics stay
// reachable under load.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.Handle("/health", http.HandlerFunc(h.GetHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/weather").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.GetStatistics).Methods(http.MethodGet)
	api.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/history", h.PostObservation).Methods(http.MethodPost)
	api.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)

	return r
}
