package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weathervane/weather-api-service/internal/models"
)

// DefaultPageSize is applied when a query passes limit <= 0.
const DefaultPageSize = 10

// MaxPageSize caps a single observation page.
const MaxPageSize = 1000

// UpsertResult tags whether an upsert created a new row or replaced an
// existing one.
type UpsertResult int

const (
	ResultInserted UpsertResult = iota
	ResultUpdated
)

func (r UpsertResult) String() string {
	if r == ResultInserted {
		return "inserted"
	}
	return "updated"
}

// ObservationFilter selects observations. All set fields are conjunctive;
// Start/End are inclusive bounds on the observation timestamp.
type ObservationFilter struct {
	Name   string
	Server string
	Start  *time.Time
	End    *time.Time
}

const observationColumns = `id, dt, created_at, location_name, latitude, longitude,
	condition, temperature, temperature_minimum, temperature_maximum,
	pressure, humidity, visibility, rain, snow, wind_speed, wind_direction,
	country, sunrise, sunset, timezone, server`

const upsertObservationSQL = `INSERT INTO weather_data (` + observationColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	ON CONFLICT (dt, location_name) DO UPDATE SET
		created_at = EXCLUDED.created_at,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		condition = EXCLUDED.condition,
		temperature = EXCLUDED.temperature,
		temperature_minimum = EXCLUDED.temperature_minimum,
		temperature_maximum = EXCLUDED.temperature_maximum,
		pressure = EXCLUDED.pressure,
		humidity = EXCLUDED.humidity,
		visibility = EXCLUDED.visibility,
		rain = EXCLUDED.rain,
		snow = EXCLUDED.snow,
		wind_speed = EXCLUDED.wind_speed,
		wind_direction = EXCLUDED.wind_direction,
		country = EXCLUDED.country,
		sunrise = EXCLUDED.sunrise,
		sunset = EXCLUDED.sunset,
		timezone = EXCLUDED.timezone,
		server = EXCLUDED.server
	RETURNING (xmax = 0)`

// UpsertObservation inserts the observation, or overwrites every field of
// the existing row sharing its (dt, location_name) pair. The statement is a
// single atomic insert-or-update; two concurrent upserts of the same pair
// resolve last-committed-wins with no partial write observable.
func (s *Store) UpsertObservation(ctx context.Context, o models.Observation) (UpsertResult, error) {
	result := ResultInserted
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var inserted bool
		err := conn.QueryRow(ctx, upsertObservationSQL,
			o.ID, o.Dt, o.CreatedAt, o.LocationName, o.Latitude, o.Longitude,
			o.Condition, o.Temperature, o.TemperatureMin, o.TemperatureMax,
			o.Pressure, o.Humidity, o.Visibility, o.Rain, o.Snow,
			o.WindSpeed, o.WindDirection, o.Country, o.Sunrise, o.Sunset,
			o.TimezoneOffset, o.Server,
		).Scan(&inserted)
		if err != nil {
			return err
		}
		if !inserted {
			result = ResultUpdated
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert observation dt=%d name=%q: %w", o.Dt, o.LocationName, err)
	}
	return result, nil
}

// GetObservation returns the row for the given (dt, location_name) pair, or
// found=false when absent.
func (s *Store) GetObservation(ctx context.Context, dt int64, name string) (models.Observation, bool, error) {
	var o models.Observation
	found := false
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx,
			`SELECT `+observationColumns+` FROM weather_data WHERE dt = $1 AND location_name = $2`,
			dt, name)
		err := scanObservation(row, &o)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return models.Observation{}, false, fmt.Errorf("get observation: %w", err)
	}
	return o, found, nil
}

// QueryObservations returns one page of matching rows ordered by dt
// ascending (ties broken by location_name for pagination stability), plus
// the total count of the full matching set. limit <= 0 falls back to
// DefaultPageSize; an offset past the end yields an empty page with the
// correct total.
func (s *Store) QueryObservations(ctx context.Context, f ObservationFilter, offset, limit int) ([]models.Observation, int64, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	where, args := buildObservationWhere(f)

	var (
		total int64
		out   []models.Observation
	)
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		if err := conn.QueryRow(ctx, `SELECT count(*) FROM weather_data`+where, args...).Scan(&total); err != nil {
			return err
		}

		pageArgs := append(append([]any{}, args...), offset, limit)
		n := len(args)
		rows, err := conn.Query(ctx,
			fmt.Sprintf(`SELECT `+observationColumns+` FROM weather_data%s ORDER BY dt ASC, location_name ASC OFFSET $%d LIMIT $%d`,
				where, n+1, n+2),
			pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var o models.Observation
			if err := scanObservation(rows, &o); err != nil {
				return err
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("query observations: %w", err)
	}
	return out, total, nil
}

// ListLocations aggregates distinct location names with their observation
// counts, ordered by location name.
func (s *Store) ListLocations(ctx context.Context, offset, limit int) ([]models.LocationCount, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	var out []models.LocationCount
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT location_name, count(*) FROM weather_data
			 GROUP BY location_name ORDER BY location_name OFFSET $1 LIMIT $2`,
			offset, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var lc models.LocationCount
			if err := rows.Scan(&lc.Location, &lc.Observations); err != nil {
				return err
			}
			out = append(out, lc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return out, nil
}

// buildObservationWhere renders the conjunctive WHERE clause and its
// arguments for a filter. Returns "" and no args for an empty filter.
func buildObservationWhere(f ObservationFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Name != "" {
		add("location_name = $%d", f.Name)
	}
	if f.Server != "" {
		add("server = $%d", f.Server)
	}
	if f.Start != nil {
		add("dt >= $%d", f.Start.Unix())
	}
	if f.End != nil {
		add("dt <= $%d", f.End.Unix())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func scanObservation(row pgx.Row, o *models.Observation) error {
	return row.Scan(
		&o.ID, &o.Dt, &o.CreatedAt, &o.LocationName, &o.Latitude, &o.Longitude,
		&o.Condition, &o.Temperature, &o.TemperatureMin, &o.TemperatureMax,
		&o.Pressure, &o.Humidity, &o.Visibility, &o.Rain, &o.Snow,
		&o.WindSpeed, &o.WindDirection, &o.Country, &o.Sunrise, &o.Sunset,
		&o.TimezoneOffset, &o.Server,
	)
}
