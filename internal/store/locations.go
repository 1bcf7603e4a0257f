package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Location is one weather_location_cache row: resolved metadata for a
// location name, remembered the first time the location is observed so later
// lookups skip geocoding.
type Location struct {
	ID           uuid.UUID `json:"id"`
	LocationName string    `json:"locationName"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Zipcode      *int      `json:"zipcode,omitempty"`
	CountryCode  *string   `json:"countryCode,omitempty"`
	CityName     *string   `json:"cityName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UpsertLocation inserts or refreshes the metadata row for the location
// name. One atomic statement; the unique constraint on location_name
// serializes concurrent writers.
func (s *Store) UpsertLocation(ctx context.Context, l Location) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO weather_location_cache
				(id, location_name, latitude, longitude, zipcode, country_code, city_name, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 ON CONFLICT (location_name) DO UPDATE SET
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				zipcode = EXCLUDED.zipcode,
				country_code = EXCLUDED.country_code,
				city_name = EXCLUDED.city_name`,
			l.ID, l.LocationName, l.Latitude, l.Longitude, l.Zipcode, l.CountryCode, l.CityName, l.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert location %q: %w", l.LocationName, err)
	}
	return nil
}

// GetLocation returns the metadata row for name, or found=false when the
// location has never been observed.
func (s *Store) GetLocation(ctx context.Context, name string) (Location, bool, error) {
	var l Location
	found := false
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx,
			`SELECT id, location_name, latitude, longitude, zipcode, country_code, city_name, created_at
			 FROM weather_location_cache WHERE location_name = $1`, name).
			Scan(&l.ID, &l.LocationName, &l.Latitude, &l.Longitude, &l.Zipcode, &l.CountryCode, &l.CityName, &l.CreatedAt)
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
		return Location{}, false, fmt.Errorf("get location %q: %w", name, err)
	}
	return l, found, nil
}
