package models

import (
	"time"

	"github.com/google/uuid"
)

// WeatherSnapshot is a current-conditions result from the upstream provider.
// Temperatures are kelvin, pressure is kPa, wind speed is m/s.
type WeatherSnapshot struct {
	Location       string    `json:"location"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Condition      string    `json:"condition"`
	Temperature    float64   `json:"temperature"`
	TemperatureMin float64   `json:"temperatureMin"`
	TemperatureMax float64   `json:"temperatureMax"`
	Pressure       float64   `json:"pressure"`
	Humidity       int       `json:"humidity"`
	Visibility     *float64  `json:"visibility,omitempty"`
	Rain           *float64  `json:"rain,omitempty"` // mm over the last 3h
	Snow           *float64  `json:"snow,omitempty"` // mm over the last 3h
	WindSpeed      float64   `json:"windSpeed"`
	WindDirection  *float64  `json:"windDirection,omitempty"`
	Country        string    `json:"country"`
	ObservedAt     time.Time `json:"observedAt"`
	Sunrise        time.Time `json:"sunrise"`
	Sunset         time.Time `json:"sunset"`
	TimezoneOffset int       `json:"timezone"` // seconds east of UTC
}

// ForecastPeriod is one forecast interval.
type ForecastPeriod struct {
	At             time.Time `json:"at"`
	Condition      string    `json:"condition"`
	Temperature    float64   `json:"temperature"`
	TemperatureMin float64   `json:"temperatureMin"`
	TemperatureMax float64   `json:"temperatureMax"`
	Humidity       int       `json:"humidity"`
	Rain           *float64  `json:"rain,omitempty"`
	Snow           *float64  `json:"snow,omitempty"`
}

// ForecastSnapshot is an upstream forecast for a single location.
type ForecastSnapshot struct {
	Location       string           `json:"location"`
	Country        string           `json:"country"`
	TimezoneOffset int              `json:"timezone"`
	Periods        []ForecastPeriod `json:"periods"`
}

// Observation is one historical store row. The pair (Dt, LocationName) is
// unique; ID is generated at insert and never used for identity.
type Observation struct {
	ID             uuid.UUID `json:"id"`
	Dt             int64     `json:"dt"`
	CreatedAt      time.Time `json:"createdAt"`
	LocationName   string    `json:"locationName"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Condition      string    `json:"condition"`
	Temperature    float64   `json:"temperature"`
	TemperatureMin float64   `json:"temperatureMin"`
	TemperatureMax float64   `json:"temperatureMax"`
	Pressure       float64   `json:"pressure"`
	Humidity       int       `json:"humidity"`
	Visibility     *float64  `json:"visibility,omitempty"`
	Rain           *float64  `json:"rain,omitempty"`
	Snow           *float64  `json:"snow,omitempty"`
	WindSpeed      float64   `json:"windSpeed"`
	WindDirection  *float64  `json:"windDirection,omitempty"`
	Country        string    `json:"country"`
	Sunrise        time.Time `json:"sunrise"`
	Sunset         time.Time `json:"sunset"`
	TimezoneOffset int       `json:"timezone"`
	Server         string    `json:"server"`
}

// ObservationFromSnapshot converts an upstream snapshot into a store row.
// server tags the origin of the observation.
func ObservationFromSnapshot(s WeatherSnapshot, server string) Observation {
	return Observation{
		ID:             uuid.New(),
		Dt:             s.ObservedAt.Unix(),
		CreatedAt:      s.ObservedAt,
		LocationName:   s.Location,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		Condition:      s.Condition,
		Temperature:    s.Temperature,
		TemperatureMin: s.TemperatureMin,
		TemperatureMax: s.TemperatureMax,
		Pressure:       s.Pressure,
		Humidity:       s.Humidity,
		Visibility:     s.Visibility,
		Rain:           s.Rain,
		Snow:           s.Snow,
		WindSpeed:      s.WindSpeed,
		WindDirection:  s.WindDirection,
		Country:        s.Country,
		Sunrise:        s.Sunrise,
		Sunset:         s.Sunset,
		TimezoneOffset: s.TimezoneOffset,
		Server:         server,
	}
}

// Snapshot converts a store row back into the response shape.
func (o Observation) Snapshot() WeatherSnapshot {
	return WeatherSnapshot{
		Location:       o.LocationName,
		Latitude:       o.Latitude,
		Longitude:      o.Longitude,
		Condition:      o.Condition,
		Temperature:    o.Temperature,
		TemperatureMin: o.TemperatureMin,
		TemperatureMax: o.TemperatureMax,
		Pressure:       o.Pressure,
		Humidity:       o.Humidity,
		Visibility:     o.Visibility,
		Rain:           o.Rain,
		Snow:           o.Snow,
		WindSpeed:      o.WindSpeed,
		WindDirection:  o.WindDirection,
		Country:        o.Country,
		ObservedAt:     time.Unix(o.Dt, 0).UTC(),
		Sunrise:        o.Sunrise,
		Sunset:         o.Sunset,
		TimezoneOffset: o.TimezoneOffset,
	}
}

// LocationCount is the per-location aggregate returned by location listings.
type LocationCount struct {
	Location     string `json:"location"`
	Observations int64  `json:"observations"`
}
