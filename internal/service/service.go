package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/weathervane/weather-api-service/internal/cache"
	"github.com/weathervane/weather-api-service/internal/client"
	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/observability"
	"github.com/weathervane/weather-api-service/internal/query"
	"github.com/weathervane/weather-api-service/internal/stats"
	"github.com/weathervane/weather-api-service/internal/store"
)

// HistoryStore is the persistence surface the service needs. *store.Store
// implements it; tests substitute a fake.
type HistoryStore interface {
	UpsertObservation(ctx context.Context, o models.Observation) (store.UpsertResult, error)
	UpsertLocation(ctx context.Context, l store.Location) error
	QueryObservations(ctx context.Context, f store.ObservationFilter, offset, limit int) ([]models.Observation, int64, error)
	ListLocations(ctx context.Context, offset, limit int) ([]models.LocationCount, error)
}

// WeatherService answers weather queries cache-aside: probe the response
// cache, fetch upstream on miss, insert the fully-resolved payload, and
// capture current conditions into the historical store. Hit/miss counters
// go through the injected stats tracker; misses are recorded only alongside
// the actual upstream fetch.
type WeatherService struct {
	client   client.WeatherClient
	data     cache.Cache[models.WeatherSnapshot]
	forecast cache.Cache[models.ForecastSnapshot]
	history  HistoryStore
	stats    *stats.Tracker
	ttl      time.Duration
	server   string
	logger   *zap.Logger

	dataFlight     *coalescer[models.WeatherSnapshot]
	forecastFlight *coalescer[models.ForecastSnapshot]
}

// NewWeatherService creates a WeatherService. server tags observations this
// process writes into the historical store.
func NewWeatherService(
	cl client.WeatherClient,
	data cache.Cache[models.WeatherSnapshot],
	forecast cache.Cache[models.ForecastSnapshot],
	history HistoryStore,
	tracker *stats.Tracker,
	ttl time.Duration,
	server string,
	logger *zap.Logger,
) *WeatherService {
	return &WeatherService{
		client:         cl,
		data:           data,
		forecast:       forecast,
		history:        history,
		stats:          tracker,
		ttl:            ttl,
		server:         server,
		logger:         logger,
		dataFlight:     newCoalescer[models.WeatherSnapshot](),
		forecastFlight: newCoalescer[models.ForecastSnapshot](),
	}
}

// GetWeather returns current conditions for the query. Accepted
// observations are upserted into the historical store as a side effect; a
// history failure is logged but never fails the response.
func (s *WeatherService) GetWeather(ctx context.Context, opts query.Options) (models.WeatherSnapshot, error) {
	if err := opts.Validate(); err != nil {
		return models.WeatherSnapshot{}, err
	}
	key := opts.CacheKey()

	cached, ok, err := s.data.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("data cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		s.stats.RecordHit(stats.KindData)
		observability.CacheHitsTotal.WithLabelValues(string(stats.KindData)).Inc()
		return cached, nil
	}

	snapshot, err := s.dataFlight.GetOrDo(ctx, key, func() (models.WeatherSnapshot, error) {
		return s.client.FetchWeather(context.WithoutCancel(ctx), opts)
	})
	if err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("fetch weather %s: %w", key, err)
	}
	s.stats.RecordMiss(stats.KindData)
	observability.CacheMissesTotal.WithLabelValues(string(stats.KindData)).Inc()
	s.recordPayloadSize(snapshot)

	// Only a fully-resolved payload reaches the cache; a caller cancelled
	// mid-fetch returns above without inserting anything.
	if err := s.data.Put(ctx, key, snapshot, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("put").Inc()
		s.logger.Warn("data cache put failed", zap.String("key", key), zap.Error(err))
	}

	s.captureObservation(ctx, snapshot)
	return snapshot, nil
}

// GetForecast returns the forecast for the query.
func (s *WeatherService) GetForecast(ctx context.Context, opts query.Options) (models.ForecastSnapshot, error) {
	if err := opts.Validate(); err != nil {
		return models.ForecastSnapshot{}, err
	}
	key := opts.CacheKey()

	cached, ok, err := s.forecast.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("forecast cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		s.stats.RecordHit(stats.KindForecast)
		observability.CacheHitsTotal.WithLabelValues(string(stats.KindForecast)).Inc()
		return cached, nil
	}

	snapshot, err := s.forecastFlight.GetOrDo(ctx, key, func() (models.ForecastSnapshot, error) {
		return s.client.FetchForecast(context.WithoutCancel(ctx), opts)
	})
	if err != nil {
		return models.ForecastSnapshot{}, fmt.Errorf("fetch forecast %s: %w", key, err)
	}
	s.stats.RecordMiss(stats.KindForecast)
	observability.CacheMissesTotal.WithLabelValues(string(stats.KindForecast)).Inc()

	if err := s.forecast.Put(ctx, key, snapshot, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("put").Inc()
		s.logger.Warn("forecast cache put failed", zap.String("key", key), zap.Error(err))
	}
	return snapshot, nil
}

// RecordObservation upserts one observation into the historical store.
// Used by the ingest endpoint; the scheduler and GetWeather go through
// captureObservation instead.
func (s *WeatherService) RecordObservation(ctx context.Context, o models.Observation) (store.UpsertResult, error) {
	result, err := s.history.UpsertObservation(ctx, o)
	if err != nil {
		observability.HistoryUpsertErrorsTotal.Inc()
		return 0, err
	}
	observability.HistoryUpsertsTotal.WithLabelValues(result.String()).Inc()
	return result, nil
}

// History returns one page of matching observations plus the total match
// count.
func (s *WeatherService) History(ctx context.Context, f store.ObservationFilter, offset, limit int) ([]models.Observation, int64, error) {
	return s.history.QueryObservations(ctx, f, offset, limit)
}

// Locations lists distinct observed locations with observation counts.
func (s *WeatherService) Locations(ctx context.Context, offset, limit int) ([]models.LocationCount, error) {
	return s.history.ListLocations(ctx, offset, limit)
}

// Statistics returns a point-in-time copy of the cache counters.
func (s *WeatherService) Statistics() stats.Snapshot {
	return s.stats.Snapshot()
}

// captureObservation persists the snapshot into the historical store and
// refreshes the location metadata cache. Failures degrade to a warning: the
// response cache and the historical store are independently consistent, and
// a lost history row never invalidates the served response.
func (s *WeatherService) captureObservation(ctx context.Context, snapshot models.WeatherSnapshot) {
	if snapshot.Location == "" {
		return
	}
	o := models.ObservationFromSnapshot(snapshot, s.server)
	result, err := s.history.UpsertObservation(ctx, o)
	if err != nil {
		observability.HistoryUpsertErrorsTotal.Inc()
		s.logger.Warn("history upsert failed",
			zap.String("location", o.LocationName), zap.Int64("dt", o.Dt), zap.Error(err))
		return
	}
	observability.HistoryUpsertsTotal.WithLabelValues(result.String()).Inc()

	if err := s.history.UpsertLocation(ctx, store.Location{
		LocationName: snapshot.Location,
		Latitude:     snapshot.Latitude,
		Longitude:    snapshot.Longitude,
		CountryCode:  optional(snapshot.Country),
		CityName:     optional(snapshot.Location),
	}); err != nil {
		s.logger.Warn("location cache upsert failed",
			zap.String("location", snapshot.Location), zap.Error(err))
	}
}

// recordPayloadSize buckets the serialized snapshot length to the nearest
// hundred bytes below and counts it. Bucketing is this caller's policy, not
// the tracker's.
func (s *WeatherService) recordPayloadSize(snapshot models.WeatherSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	bucket := strconv.Itoa(len(raw) / 100 * 100)
	s.stats.RecordPayloadSize(bucket)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
