package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weathervane/weather-api-service/internal/query"
)

const sampleWeather = `{
	"coord": {"lat": 51.5085, "lon": -0.1257},
	"weather": [{"main": "Clouds", "description": "overcast clouds"}],
	"main": {"temp": 283.4, "temp_min": 282.0, "temp_max": 284.9, "pressure": 1012, "humidity": 81},
	"visibility": 10000,
	"wind": {"speed": 4.1, "deg": 250},
	"rain": {"3h": 0.5},
	"dt": 1700000000,
	"sys": {"country": "GB", "sunrise": 1699990000, "sunset": 1700020000},
	"timezone": 0,
	"name": "London"
}`

const sampleForecast = `{
	"list": [
		{"dt": 1700000000, "main": {"temp": 283.4, "temp_min": 282.0, "temp_max": 284.9, "humidity": 81},
		 "weather": [{"main": "Rain", "description": "light rain"}], "rain": {"3h": 1.2}},
		{"dt": 1700010800, "main": {"temp": 281.0, "temp_min": 280.0, "temp_max": 282.0, "humidity": 85},
		 "weather": [{"main": "Clouds", "description": "broken clouds"}]}
	],
	"city": {"name": "London", "country": "GB", "timezone": 0}
}`

func newTestClient(t *testing.T, url string, retries int) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClient("test-key", url, 2*time.Second, 0, 0, retries)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// TestNewOpenWeatherClient_RequiresKey verifies that an empty API key is
// rejected at construction.
func TestNewOpenWeatherClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenWeatherClient("", "http://x", time.Second, 0, 0, 0); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("error = %v, want ErrInvalidAPIKey", err)
	}
}

// TestFetchWeather_OK verifies a successful fetch parses the provider
// payload into a snapshot.
func TestFetchWeather_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleWeather))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	got, err := c.FetchWeather(context.Background(), query.Options{City: "London"})
	if err != nil {
		t.Fatalf("FetchWeather() error = %v", err)
	}
	if got.Location != "London" || got.Country != "GB" {
		t.Errorf("snapshot = %+v", got)
	}
	if got.Condition != "Clouds overcast clouds" {
		t.Errorf("Condition = %q", got.Condition)
	}
	if got.Rain == nil || *got.Rain != 0.5 {
		t.Errorf("Rain = %v, want 0.5", got.Rain)
	}
	if got.Snow != nil {
		t.Errorf("Snow = %v, want nil when absent", got.Snow)
	}
	if !got.ObservedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ObservedAt = %v", got.ObservedAt)
	}
}

// TestFetchWeather_URLBuilding verifies each addressing mode's query
// parameters, including the zip country default.
func TestFetchWeather_URLBuilding(t *testing.T) {
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query())
		w.Write([]byte(sampleWeather))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 0)

	lat, lon := 51.50735, -0.12776
	cases := []struct {
		name  string
		opts  query.Options
		key   string
		value string
	}{
		{"zip defaults US", query.Options{Zip: 30322}, "zip", "30322,US"},
		{"zip with country", query.Options{Zip: 30322, CountryCode: "gb"}, "zip", "30322,GB"},
		{"city", query.Options{City: " London "}, "q", "London"},
		{"lat rounded", query.Options{Lat: &lat, Lon: &lon}, "lat", "51.5073"},
		{"lon rounded", query.Options{Lat: &lat, Lon: &lon}, "lon", "-0.1278"},
	}
	for _, tc := range cases {
		if _, err := c.FetchWeather(context.Background(), tc.opts); err != nil {
			t.Fatalf("%s: FetchWeather() error = %v", tc.name, err)
		}
		q := lastQuery.Load().(url.Values)
		if got := q[tc.key]; len(got) != 1 || got[0] != tc.value {
			t.Errorf("%s: %s = %v, want %q", tc.name, tc.key, got, tc.value)
		}
		if got := q["appid"]; len(got) != 1 || got[0] != "test-key" {
			t.Errorf("%s: appid = %v", tc.name, q["appid"])
		}
	}
}

// TestFetchWeather_StatusMapping verifies terminal provider statuses map to
// their sentinels without retrying.
func TestFetchWeather_StatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		wantErr error
	}{
		{http.StatusUnauthorized, ErrInvalidAPIKey},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
		}))
		c := newTestClient(t, srv.URL, 3)

		_, err := c.FetchWeather(context.Background(), query.Options{City: "London"})
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("status %d: error = %v, want %v", tc.status, err, tc.wantErr)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("status %d: calls = %d, want 1 (terminal errors never retry)", tc.status, got)
		}
		srv.Close()
	}
}

// TestFetchWeather_RetriesServerErrors verifies that 5xx responses retry up
// to the configured attempts and succeed when the provider recovers.
func TestFetchWeather_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleWeather))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	got, err := c.FetchWeather(context.Background(), query.Options{City: "London"})
	if err != nil {
		t.Fatalf("FetchWeather() error = %v, want recovery", err)
	}
	if got.Location != "London" {
		t.Errorf("Location = %q", got.Location)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", n)
	}
}

// TestFetchWeather_ExhaustedRetries verifies the upstream sentinel when the
// provider never recovers.
func TestFetchWeather_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.FetchWeather(context.Background(), query.Options{City: "London"})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

// TestFetchWeather_BreakerOpens verifies that sustained failures open the
// circuit and short-circuit subsequent calls.
func TestFetchWeather_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	for i := 0; i < 5; i++ {
		if _, err := c.FetchWeather(context.Background(), query.Options{City: "London"}); err == nil {
			t.Fatalf("call %d: error = nil, want failure", i)
		}
	}

	before := calls.Load()
	_, err := c.FetchWeather(context.Background(), query.Options{City: "London"})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable from open circuit", err)
	}
	if calls.Load() != before {
		t.Errorf("open circuit still reached the provider (%d calls)", calls.Load()-before)
	}
}

// TestFetchForecast_OK verifies forecast parsing.
func TestFetchForecast_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleForecast))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	got, err := c.FetchForecast(context.Background(), query.Options{City: "London"})
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if got.Location != "London" || len(got.Periods) != 2 {
		t.Fatalf("forecast = %+v", got)
	}
	if got.Periods[0].Rain == nil || *got.Periods[0].Rain != 1.2 {
		t.Errorf("Periods[0].Rain = %v, want 1.2", got.Periods[0].Rain)
	}
	if got.Periods[1].Rain != nil {
		t.Errorf("Periods[1].Rain = %v, want nil", got.Periods[1].Rain)
	}
}

// TestFetchWeather_MalformedBody verifies that an unparseable payload is an
// error, never a zero-valued snapshot.
func TestFetchWeather_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	if _, err := c.FetchWeather(context.Background(), query.Options{City: "London"}); err == nil {
		t.Error("FetchWeather() error = nil, want parse error")
	}
}
