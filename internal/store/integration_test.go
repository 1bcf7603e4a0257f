//go:build integration
// +build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/store"
	"github.com/weathervane/weather-api-service/internal/testhelpers"
)

func observation(dt int64, name string) models.Observation {
	return models.Observation{
		ID:           uuid.New(),
		Dt:           dt,
		CreatedAt:    time.Now().UTC(),
		LocationName: name,
		Latitude:     51.5,
		Longitude:    -0.12,
		Condition:    "Clouds",
		Temperature:  283.4,
		Pressure:     1012,
		Humidity:     80,
		WindSpeed:    4.1,
		Country:      "GB",
		Sunrise:      time.Unix(1700000000, 0).UTC(),
		Sunset:       time.Unix(1700030000, 0).UTC(),
		Server:       "test",
	}
}

// TestUpsertObservation_InsertThenUpdate verifies that the first upsert for
// a (dt, location) pair reports inserted, a second reports updated, exactly
// one row remains, and the second write's fields win.
func TestUpsertObservation_InsertThenUpdate(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	o := observation(1700000000, "London")
	res, err := st.UpsertObservation(ctx, o)
	if err != nil {
		t.Fatalf("UpsertObservation() error = %v", err)
	}
	if res != store.ResultInserted {
		t.Errorf("first upsert = %v, want inserted", res)
	}

	o2 := o
	o2.ID = uuid.New()
	o2.Temperature = 290.0
	res, err = st.UpsertObservation(ctx, o2)
	if err != nil {
		t.Fatalf("UpsertObservation() error = %v", err)
	}
	if res != store.ResultUpdated {
		t.Errorf("second upsert = %v, want updated", res)
	}

	got, found, err := st.GetObservation(ctx, o.Dt, o.LocationName)
	if err != nil || !found {
		t.Fatalf("GetObservation() = (found=%v, err=%v)", found, err)
	}
	if got.Temperature != 290.0 {
		t.Errorf("Temperature = %v, want 290.0 (last write wins)", got.Temperature)
	}

	_, total, err := st.QueryObservations(ctx, store.ObservationFilter{Name: "London"}, 0, 10)
	if err != nil {
		t.Fatalf("QueryObservations() error = %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1 row after double upsert", total)
	}
}

// TestQueryObservations_Pagination verifies ascending dt order, stable page
// boundaries, the correct total on every page, and an empty page past the
// end.
func TestQueryObservations_Pagination(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	const n = 25
	base := int64(1700000000)
	for i := 0; i < n; i++ {
		if _, err := st.UpsertObservation(ctx, observation(base+int64(i)*3600, "London")); err != nil {
			t.Fatalf("seed upsert %d: %v", i, err)
		}
	}

	var seen []int64
	for offset := 0; offset < n; offset += 10 {
		rows, total, err := st.QueryObservations(ctx, store.ObservationFilter{}, offset, 10)
		if err != nil {
			t.Fatalf("QueryObservations(offset=%d) error = %v", offset, err)
		}
		if total != n {
			t.Errorf("total = %d at offset %d, want %d", total, offset, n)
		}
		wantLen := 10
		if n-offset < 10 {
			wantLen = n - offset
		}
		if len(rows) != wantLen {
			t.Errorf("page at offset %d has %d rows, want %d", offset, len(rows), wantLen)
		}
		for _, r := range rows {
			seen = append(seen, r.Dt)
		}
	}

	if len(seen) != n {
		t.Fatalf("walked %d rows, want %d", len(seen), n)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("dt order violated at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}

	rows, total, err := st.QueryObservations(ctx, store.ObservationFilter{}, n+100, 10)
	if err != nil {
		t.Fatalf("QueryObservations(past end) error = %v", err)
	}
	if len(rows) != 0 || total != n {
		t.Errorf("past-end page = (%d rows, total %d), want (0, %d)", len(rows), total, n)
	}
}

// TestQueryObservations_Filters verifies conjunctive filtering with
// inclusive time bounds.
func TestQueryObservations_Filters(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	base := int64(1700000000)
	for i, name := range []string{"London", "London", "Paris"} {
		o := observation(base+int64(i)*3600, name)
		if i == 1 {
			o.Server = "other"
		}
		if _, err := st.UpsertObservation(ctx, o); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	_, total, err := st.QueryObservations(ctx, store.ObservationFilter{Name: "London"}, 0, 10)
	if err != nil {
		t.Fatalf("QueryObservations() error = %v", err)
	}
	if total != 2 {
		t.Errorf("name filter total = %d, want 2", total)
	}

	_, total, err = st.QueryObservations(ctx, store.ObservationFilter{Name: "London", Server: "other"}, 0, 10)
	if err != nil {
		t.Fatalf("QueryObservations() error = %v", err)
	}
	if total != 1 {
		t.Errorf("name+server filter total = %d, want 1", total)
	}

	// Inclusive bounds: a window exactly [base, base] matches the first row.
	start := time.Unix(base, 0)
	end := time.Unix(base, 0)
	rows, total, err := st.QueryObservations(ctx, store.ObservationFilter{Start: &start, End: &end}, 0, 10)
	if err != nil {
		t.Fatalf("QueryObservations() error = %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Dt != base {
		t.Errorf("inclusive window = (%d rows, total %d), want the dt=%d row", len(rows), total, base)
	}
}

// TestListLocations verifies distinct names with counts.
func TestListLocations(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	base := int64(1700000000)
	for i := 0; i < 3; i++ {
		if _, err := st.UpsertObservation(ctx, observation(base+int64(i)*3600, "London")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := st.UpsertObservation(ctx, observation(base, "Paris")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	locs, err := st.ListLocations(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListLocations() error = %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("ListLocations() = %d entries, want 2", len(locs))
	}
	if locs[0].Location != "London" || locs[0].Observations != 3 {
		t.Errorf("locs[0] = %+v, want London with 3", locs[0])
	}
	if locs[1].Location != "Paris" || locs[1].Observations != 1 {
		t.Errorf("locs[1] = %+v, want Paris with 1", locs[1])
	}
}

// TestKeyItems_Lifecycle verifies the remote-then-local presence flow and
// the work-list query.
func TestKeyItems_Lifecycle(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	if err := st.RecordRemote(ctx, "a.json", "etag1", 100, 42); err != nil {
		t.Fatalf("RecordRemote() error = %v", err)
	}

	k, found, err := st.GetKeyItem(ctx, "a.json")
	if err != nil || !found {
		t.Fatalf("GetKeyItem() = (found=%v, err=%v)", found, err)
	}
	if k.HasLocal || !k.HasRemote || k.ETag != "etag1" {
		t.Errorf("after RecordRemote: %+v", k)
	}

	// Remote-only rows are the download work list.
	pending, err := st.ListKeyItems(ctx, false, true)
	if err != nil {
		t.Fatalf("ListKeyItems() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Key != "a.json" {
		t.Errorf("download work list = %+v, want [a.json]", pending)
	}

	if err := st.RecordLocal(ctx, "a.json"); err != nil {
		t.Fatalf("RecordLocal() error = %v", err)
	}
	k, _, err = st.GetKeyItem(ctx, "a.json")
	if err != nil {
		t.Fatalf("GetKeyItem() error = %v", err)
	}
	if !k.HasLocal || !k.HasRemote {
		t.Errorf("after RecordLocal: %+v, want both flags set", k)
	}
	// RecordLocal must not clobber change-detection metadata.
	if k.ETag != "etag1" || k.Timestamp != 100 || k.Size != 42 {
		t.Errorf("metadata lost: %+v", k)
	}
}

// TestUpsertLocation verifies insert-then-refresh of location metadata.
func TestUpsertLocation(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	cc := "GB"
	if err := st.UpsertLocation(ctx, store.Location{
		LocationName: "London", Latitude: 51.5, Longitude: -0.12, CountryCode: &cc,
	}); err != nil {
		t.Fatalf("UpsertLocation() error = %v", err)
	}
	if err := st.UpsertLocation(ctx, store.Location{
		LocationName: "London", Latitude: 51.51, Longitude: -0.13,
	}); err != nil {
		t.Fatalf("UpsertLocation() refresh error = %v", err)
	}

	l, found, err := st.GetLocation(ctx, "London")
	if err != nil || !found {
		t.Fatalf("GetLocation() = (found=%v, err=%v)", found, err)
	}
	if l.Latitude != 51.51 {
		t.Errorf("Latitude = %v, want refreshed 51.51", l.Latitude)
	}
	if l.CountryCode != nil {
		t.Errorf("CountryCode = %v, want nil after refresh with absent code", *l.CountryCode)
	}
}

// TestUpsertObservation_Concurrent verifies that concurrent upserts of the
// same pair leave exactly one coherent row.
func TestUpsertObservation_Concurrent(t *testing.T) {
	st := testhelpers.IntegrationStore(t)
	ctx := context.Background()

	const writers = 8
	errCh := make(chan error, writers)
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			o := observation(1700000000, "London")
			o.ID = uuid.New()
			o.Temperature = float64(280 + w)
			_, err := st.UpsertObservation(ctx, o)
			errCh <- err
		}()
	}
	for w := 0; w < writers; w++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent upsert error = %v", err)
		}
	}

	_, total, err := st.QueryObservations(ctx, store.ObservationFilter{Name: "London"}, 0, 10)
	if err != nil {
		t.Fatalf("QueryObservations() error = %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d after %d concurrent upserts, want 1", total, writers)
	}

	got, found, err := st.GetObservation(ctx, 1700000000, "London")
	if err != nil || !found {
		t.Fatalf("GetObservation() = (found=%v, err=%v)", found, err)
	}
	if got.Temperature < 280 || got.Temperature >= float64(280+writers) {
		t.Errorf("Temperature = %v, want one writer's value", got.Temperature)
	}
}
