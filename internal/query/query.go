// Package query models a weather lookup request and its canonical cache key.
//
// A request addresses a location in exactly one of three ways: zip code
// (optionally with a country code), free-text city name, or coordinates.
// Two requests that are syntactically equivalent under the normalization
// rules below always produce the same cache key, so floating point jitter or
// whitespace variance never fragments the response cache.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed indicates a query that addresses no location, or more than
// one, or carries out-of-range values. Callers must reject it before any
// cache or upstream interaction.
var ErrMalformed = errors.New("malformed weather query")

var validate = validator.New()

// Options is one weather lookup. Exactly one of Zip, City, or the Lat/Lon
// pair must be set. CountryCode only accompanies Zip.
type Options struct {
	Zip         int      `validate:"omitempty,gte=1,lte=9999999"`
	CountryCode string   `validate:"omitempty,len=2,alpha"`
	City        string   `validate:"omitempty,max=128"`
	Lat         *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lon         *float64 `validate:"omitempty,gte=-180,lte=180"`
}

// Validate checks that the options address exactly one location.
func (o Options) Validate() error {
	modes := 0
	if o.Zip > 0 {
		modes++
	}
	if strings.TrimSpace(o.City) != "" {
		modes++
	}
	if o.Lat != nil || o.Lon != nil {
		if o.Lat == nil || o.Lon == nil {
			return fmt.Errorf("%w: lat and lon must be given together", ErrMalformed)
		}
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("%w: specify exactly one of zip, q, or lat/lon", ErrMalformed)
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// CacheKey returns the canonical key for this query. The rule is purely
// syntactic and deterministic:
//
//	zip:     zip:<zip>:<upper country code, US when absent>
//	city:    q:<lowercased, trimmed, inner whitespace collapsed>
//	lat/lon: lat:<%.4f>,lon:<%.4f>
//
// Coordinates round to 4 decimal places (about 11 m), collapsing float
// variance between equivalent queries. Zip and free-text queries never map
// to the same key: without a geocoder there is no syntactic way to prove
// them equivalent.
func (o Options) CacheKey() string {
	switch {
	case o.Zip > 0:
		country := strings.ToUpper(strings.TrimSpace(o.CountryCode))
		if country == "" {
			country = "US"
		}
		return fmt.Sprintf("zip:%d:%s", o.Zip, country)
	case strings.TrimSpace(o.City) != "":
		return "q:" + normalizeCity(o.City)
	case o.Lat != nil && o.Lon != nil:
		return fmt.Sprintf("lat:%.4f,lon:%.4f", *o.Lat, *o.Lon)
	default:
		return ""
	}
}

// normalizeCity lowercases, trims, and collapses runs of whitespace to a
// single space.
func normalizeCity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
