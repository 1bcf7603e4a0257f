package store

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestBuildObservationWhere_Empty verifies that an empty filter renders no
// WHERE clause.
func TestBuildObservationWhere_Empty(t *testing.T) {
	where, args := buildObservationWhere(ObservationFilter{})
	if where != "" {
		t.Errorf("where = %q, want empty", where)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

// TestBuildObservationWhere_SingleField verifies each filter field renders
// with the right operator and placeholder.
func TestBuildObservationWhere_SingleField(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := time.Unix(1700003600, 0)

	cases := []struct {
		name     string
		filter   ObservationFilter
		want     string
		wantArgs []any
	}{
		{"name", ObservationFilter{Name: "London"}, " WHERE location_name = $1", []any{"London"}},
		{"server", ObservationFilter{Server: "api-1"}, " WHERE server = $1", []any{"api-1"}},
		{"start inclusive", ObservationFilter{Start: &start}, " WHERE dt >= $1", []any{start.Unix()}},
		{"end inclusive", ObservationFilter{End: &end}, " WHERE dt <= $1", []any{end.Unix()}},
	}
	for _, tc := range cases {
		where, args := buildObservationWhere(tc.filter)
		if where != tc.want {
			t.Errorf("%s: where = %q, want %q", tc.name, where, tc.want)
		}
		if !reflect.DeepEqual(args, tc.wantArgs) {
			t.Errorf("%s: args = %v, want %v", tc.name, args, tc.wantArgs)
		}
	}
}

// TestBuildObservationWhere_Conjunctive verifies that all set fields combine
// with AND and that placeholders number sequentially.
func TestBuildObservationWhere_Conjunctive(t *testing.T) {
	start := time.Unix(100, 0)
	end := time.Unix(200, 0)
	where, args := buildObservationWhere(ObservationFilter{
		Name:   "London",
		Server: "api-1",
		Start:  &start,
		End:    &end,
	})

	want := " WHERE location_name = $1 AND server = $2 AND dt >= $3 AND dt <= $4"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if !reflect.DeepEqual(args, []any{"London", "api-1", int64(100), int64(200)}) {
		t.Errorf("args = %v", args)
	}
	if strings.Count(where, "OR") != 0 {
		t.Errorf("filter must be conjunctive, got %q", where)
	}
}

// TestClampLimit verifies the default and the cap.
func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, DefaultPageSize},
		{-5, DefaultPageSize},
		{1, 1},
		{MaxPageSize, MaxPageSize},
		{MaxPageSize + 1, MaxPageSize},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.in); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// TestUpsertResult_String verifies the metric/response labels.
func TestUpsertResult_String(t *testing.T) {
	if got := ResultInserted.String(); got != "inserted" {
		t.Errorf("ResultInserted.String() = %q, want %q", got, "inserted")
	}
	if got := ResultUpdated.String(); got != "updated" {
		t.Errorf("ResultUpdated.String() = %q, want %q", got, "updated")
	}
}
