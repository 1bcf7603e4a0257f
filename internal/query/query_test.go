package query

import (
	"errors"
	"testing"
)

func ptr(f float64) *float64 { return &f }

// TestOptions_Validate_ExactlyOneMode verifies that a query must address a
// location exactly one way.
func TestOptions_Validate_ExactlyOneMode(t *testing.T) {
	valid := []Options{
		{Zip: 30322},
		{Zip: 30322, CountryCode: "us"},
		{City: "London"},
		{Lat: ptr(51.5), Lon: ptr(-0.12)},
	}
	for _, o := range valid {
		if err := o.Validate(); err != nil {
			t.Errorf("Validate(%+v) error = %v, want nil", o, err)
		}
	}

	invalid := []Options{
		{},
		{Zip: 30322, City: "London"},
		{City: "London", Lat: ptr(51.5), Lon: ptr(-0.12)},
		{Lat: ptr(51.5)},
		{Lon: ptr(-0.12)},
		{Lat: ptr(91), Lon: ptr(0)},
		{Lat: ptr(0), Lon: ptr(181)},
		{Zip: 30322, CountryCode: "usa"},
		{City: "   "},
	}
	for _, o := range invalid {
		err := o.Validate()
		if err == nil {
			t.Errorf("Validate(%+v) error = nil, want ErrMalformed", o)
			continue
		}
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Validate(%+v) error = %v, want ErrMalformed", o, err)
		}
	}
}

// TestOptions_CacheKey_Zip verifies the zip key format and the US country
// default.
func TestOptions_CacheKey_Zip(t *testing.T) {
	if got := (Options{Zip: 30322}).CacheKey(); got != "zip:30322:US" {
		t.Errorf("CacheKey() = %q, want %q", got, "zip:30322:US")
	}
	if got := (Options{Zip: 30322, CountryCode: "gb"}).CacheKey(); got != "zip:30322:GB" {
		t.Errorf("CacheKey() = %q, want %q", got, "zip:30322:GB")
	}
	// Explicit US and defaulted US are the same lookup.
	a := Options{Zip: 30322, CountryCode: "US"}.CacheKey()
	b := Options{Zip: 30322}.CacheKey()
	if a != b {
		t.Errorf("explicit US key %q != defaulted key %q", a, b)
	}
}

// TestOptions_CacheKey_City verifies that case, outer whitespace, and inner
// whitespace runs never fragment the cache.
func TestOptions_CacheKey_City(t *testing.T) {
	want := Options{City: "new york"}.CacheKey()
	variants := []string{"New York", "  new   YORK ", "NEW YORK", "new\tyork"}
	for _, v := range variants {
		if got := (Options{City: v}).CacheKey(); got != want {
			t.Errorf("CacheKey(%q) = %q, want %q", v, got, want)
		}
	}
	if want != "q:new york" {
		t.Errorf("canonical city key = %q, want %q", want, "q:new york")
	}
}

// TestOptions_CacheKey_Coordinates verifies 4-decimal rounding: float jitter
// below ~11m maps to one key, distinct coordinates stay distinct.
func TestOptions_CacheKey_Coordinates(t *testing.T) {
	a := Options{Lat: ptr(51.50735), Lon: ptr(-0.12776)}.CacheKey()
	b := Options{Lat: ptr(51.507349), Lon: ptr(-0.127761)}.CacheKey()
	if a != b {
		t.Errorf("jittered coordinate keys differ: %q vs %q", a, b)
	}
	if a != "lat:51.5073,lon:-0.1278" && a != "lat:51.5074,lon:-0.1278" {
		t.Errorf("unexpected coordinate key %q", a)
	}

	c := Options{Lat: ptr(51.51), Lon: ptr(-0.12)}.CacheKey()
	if a == c {
		t.Errorf("distinct coordinates share key %q", a)
	}
}

// TestOptions_CacheKey_ModesNeverCollide verifies that the three addressing
// modes occupy disjoint key namespaces.
func TestOptions_CacheKey_ModesNeverCollide(t *testing.T) {
	zip := Options{Zip: 30322}.CacheKey()
	city := Options{City: "30322"}.CacheKey()
	coord := Options{Lat: ptr(30.0), Lon: ptr(322.0 - 360)}.CacheKey()

	if zip == city || zip == coord || city == coord {
		t.Errorf("mode keys collide: zip=%q city=%q coord=%q", zip, city, coord)
	}
}
