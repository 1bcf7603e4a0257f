package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weathervane/weather-api-service/internal/client"
	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/query"
	"github.com/weathervane/weather-api-service/internal/service"
	"github.com/weathervane/weather-api-service/internal/store"
)

// Pinger reports reachability of a backing dependency. Used by /health.
type Pinger func() error

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather   *service.WeatherService
	logger    *zap.Logger
	storePing Pinger
	cachePing Pinger // nil unless the cache backend is remote
}

// NewHandler returns a new Handler.
func NewHandler(weather *service.WeatherService, logger *zap.Logger, storePing, cachePing Pinger) *Handler {
	return &Handler{
		weather:   weather,
		logger:    logger,
		storePing: storePing,
		cachePing: cachePing,
	}
}

// GetWeather handles GET /weather/weather.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	snapshot, err := h.weather.GetWeather(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetForecast handles GET /weather/forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	forecast, err := h.weather.GetForecast(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// GetStatistics handles GET /weather/statistics: a read-only snapshot of
// the cache counters.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.weather.Statistics())
}

// historyPage is the paginated response envelope for history queries.
type historyPage struct {
	Observations []models.Observation `json:"observations"`
	Total        int64                `json:"total"`
	Offset       int                  `json:"offset"`
	Limit        int                  `json:"limit"`
}

// GetHistory handles GET /weather/history. Filters: name, server,
// start_time, end_time (RFC 3339 or epoch seconds, inclusive); pagination:
// offset, limit.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ObservationFilter{
		Name:   strings.TrimSpace(q.Get("name")),
		Server: strings.TrimSpace(q.Get("server")),
	}
	var err error
	if filter.Start, err = parseTimeParam(q.Get("start_time")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", "start_time: "+err.Error())
		return
	}
	if filter.End, err = parseTimeParam(q.Get("end_time")); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", "end_time: "+err.Error())
		return
	}
	offset := parseIntParam(q.Get("offset"), 0)
	limit := parseIntParam(q.Get("limit"), 0)

	rows, total, err := h.weather.History(r.Context(), filter, offset, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if limit <= 0 {
		limit = store.DefaultPageSize
	}
	if rows == nil {
		rows = []models.Observation{}
	}
	writeJSON(w, http.StatusOK, historyPage{Observations: rows, Total: total, Offset: offset, Limit: limit})
}

// PostObservation handles POST /weather/history: upsert one observation.
// Responds 201 when a row was created, 200 when an existing (dt, location)
// row was overwritten.
func (h *Handler) PostObservation(w http.ResponseWriter, r *http.Request) {
	var o models.Observation
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed observation: "+err.Error())
		return
	}
	if o.LocationName == "" || o.Dt == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "dt and locationName are required")
		return
	}
	result, err := h.weather.RecordObservation(r.Context(), o)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	status := http.StatusOK
	if result == store.ResultInserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"result": result.String()})
}

// GetLocations handles GET /weather/locations: distinct locations with
// observation counts.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset := parseIntParam(q.Get("offset"), 0)
	limit := parseIntParam(q.Get("limit"), 0)

	locations, err := h.weather.Locations(r.Context(), offset, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if locations == nil {
		locations = []models.LocationCount{}
	}
	writeJSON(w, http.StatusOK, locations)
}

// GetHealth handles GET /health. Reports degraded (503) when the store or a
// remote cache backend is unreachable; the service still serves cached data
// in that state.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status, statusCode := "healthy", http.StatusOK

	if h.storePing != nil {
		if err := h.storePing(); err != nil {
			checks["store"] = "unhealthy"
			status, statusCode = "degraded", http.StatusServiceUnavailable
			h.logger.Warn("health: store unreachable", zap.Error(err))
		} else {
			checks["store"] = "healthy"
		}
	}
	if h.cachePing != nil {
		if err := h.cachePing(); err != nil {
			checks["cache"] = "unhealthy"
			status, statusCode = "degraded", http.StatusServiceUnavailable
		} else {
			checks["cache"] = "healthy"
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// parseOptions builds query options from URL parameters: zip, country_code,
// q, lat, lon.
func parseOptions(r *http.Request) (query.Options, error) {
	q := r.URL.Query()
	var opts query.Options
	if raw := q.Get("zip"); raw != "" {
		zip, err := strconv.Atoi(raw)
		if err != nil {
			return query.Options{}, errors.New("zip must be an integer")
		}
		opts.Zip = zip
	}
	opts.CountryCode = strings.TrimSpace(q.Get("country_code"))
	opts.City = q.Get("q")
	if raw := q.Get("lat"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return query.Options{}, errors.New("lat must be a number")
		}
		opts.Lat = &lat
	}
	if raw := q.Get("lon"); raw != "" {
		lon, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return query.Options{}, errors.New("lon must be a number")
		}
		opts.Lon = &lon
	}
	return opts, opts.Validate()
}

// parseTimeParam accepts RFC 3339 or integer epoch seconds; empty means
// unset.
func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(epoch, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("expected RFC 3339 timestamp or epoch seconds")
	}
	t = t.UTC()
	return &t, nil
}

func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with
// code, message, and requestId (correlation ID) if present in the context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value(correlationIDKey); v != nil {
		corrID, _ = v.(string)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps a weather lookup failure to a response. Malformed
// queries are the caller's fault; everything else is an upstream condition
// for this one request, and already-cached data stays servable elsewhere.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrMalformed):
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
	case errors.Is(err, client.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "no such location")
	case errors.Is(err, client.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "upstream quota exceeded, retry later")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "unable to fetch weather data")
	}
	if logger := loggerFrom(r); logger != nil {
		logger.Debug("weather lookup error", zap.Error(err))
	}
}

// writeStoreError maps a persistence failure to a response.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrConnExhausted) {
		writeError(w, r, http.StatusServiceUnavailable, "STORE_BUSY", "store connections exhausted, retry later")
	} else {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "historical store query failed")
	}
	if logger := loggerFrom(r); logger != nil {
		logger.Warn("store error", zap.Error(err))
	}
}

func loggerFrom(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return nil
}
