package client

import (
	"strings"
	"time"

	"github.com/weathervane/weather-api-service/internal/models"
)

// weatherResponse mirrors the provider's current-conditions payload.
type weatherResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		TempMin  float64 `json:"temp_min"`
		TempMax  float64 `json:"temp_max"`
		Pressure float64 `json:"pressure"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Visibility *float64 `json:"visibility,omitempty"`
	Wind       struct {
		Speed float64  `json:"speed"`
		Deg   *float64 `json:"deg,omitempty"`
	} `json:"wind"`
	Rain *struct {
		ThreeHour *float64 `json:"3h,omitempty"`
	} `json:"rain,omitempty"`
	Snow *struct {
		ThreeHour *float64 `json:"3h,omitempty"`
	} `json:"snow,omitempty"`
	Dt  int64 `json:"dt"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

func (r weatherResponse) snapshot() models.WeatherSnapshot {
	s := models.WeatherSnapshot{
		Location:       r.Name,
		Latitude:       r.Coord.Lat,
		Longitude:      r.Coord.Lon,
		Condition:      joinConditions(r.Weather),
		Temperature:    r.Main.Temp,
		TemperatureMin: r.Main.TempMin,
		TemperatureMax: r.Main.TempMax,
		Pressure:       r.Main.Pressure,
		Humidity:       r.Main.Humidity,
		Visibility:     r.Visibility,
		WindSpeed:      r.Wind.Speed,
		WindDirection:  r.Wind.Deg,
		Country:        r.Sys.Country,
		ObservedAt:     time.Unix(r.Dt, 0).UTC(),
		Sunrise:        time.Unix(r.Sys.Sunrise, 0).UTC(),
		Sunset:         time.Unix(r.Sys.Sunset, 0).UTC(),
		TimezoneOffset: r.Timezone,
	}
	if r.Rain != nil {
		s.Rain = r.Rain.ThreeHour
	}
	if r.Snow != nil {
		s.Snow = r.Snow.ThreeHour
	}
	return s
}

// forecastResponse mirrors the provider's interval forecast payload.
type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			TempMin  float64 `json:"temp_min"`
			TempMax  float64 `json:"temp_max"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Rain *struct {
			ThreeHour *float64 `json:"3h,omitempty"`
		} `json:"rain,omitempty"`
		Snow *struct {
			ThreeHour *float64 `json:"3h,omitempty"`
		} `json:"snow,omitempty"`
	} `json:"list"`
	City struct {
		Name     string `json:"name"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

func (r forecastResponse) snapshot() models.ForecastSnapshot {
	out := models.ForecastSnapshot{
		Location:       r.City.Name,
		Country:        r.City.Country,
		TimezoneOffset: r.City.Timezone,
		Periods:        make([]models.ForecastPeriod, 0, len(r.List)),
	}
	for _, item := range r.List {
		p := models.ForecastPeriod{
			At:             time.Unix(item.Dt, 0).UTC(),
			Condition:      joinConditions(item.Weather),
			Temperature:    item.Main.Temp,
			TemperatureMin: item.Main.TempMin,
			TemperatureMax: item.Main.TempMax,
			Humidity:       item.Main.Humidity,
		}
		if item.Rain != nil {
			p.Rain = item.Rain.ThreeHour
		}
		if item.Snow != nil {
			p.Snow = item.Snow.ThreeHour
		}
		out.Periods = append(out.Periods, p)
	}
	return out
}

func joinConditions(conds []struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, strings.TrimSpace(c.Main+" "+c.Description))
	}
	return strings.Join(parts, ", ")
}
