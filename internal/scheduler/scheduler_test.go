package scheduler

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/weathervane/weather-api-service/internal/cache"
	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/query"
	"github.com/weathervane/weather-api-service/internal/service"
	"github.com/weathervane/weather-api-service/internal/stats"
	"github.com/weathervane/weather-api-service/internal/store"
)

type fakeClient struct {
	calls atomic.Int64
}

func (f *fakeClient) FetchWeather(ctx context.Context, opts query.Options) (models.WeatherSnapshot, error) {
	f.calls.Add(1)
	return models.WeatherSnapshot{Location: opts.City, ObservedAt: time.Now().UTC()}, nil
}

func (f *fakeClient) FetchForecast(ctx context.Context, opts query.Options) (models.ForecastSnapshot, error) {
	return models.ForecastSnapshot{Location: opts.City}, nil
}

type fakeHistory struct {
	mu      gosync.Mutex
	upserts int
}

func (f *fakeHistory) UpsertObservation(ctx context.Context, o models.Observation) (store.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return store.ResultInserted, nil
}

func (f *fakeHistory) UpsertLocation(ctx context.Context, l store.Location) error { return nil }

func (f *fakeHistory) QueryObservations(ctx context.Context, flt store.ObservationFilter, offset, limit int) ([]models.Observation, int64, error) {
	return nil, 0, nil
}

func (f *fakeHistory) ListLocations(ctx context.Context, offset, limit int) ([]models.LocationCount, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeClient, cache.Cache[models.WeatherSnapshot]) {
	t.Helper()
	cl := &fakeClient{}
	data := cache.NewMemory[models.WeatherSnapshot](0)
	forecast := cache.NewMemory[models.ForecastSnapshot](0)
	svc := service.NewWeatherService(cl, data, forecast, &fakeHistory{}, stats.New(), time.Hour, "test-server", zap.NewNop())
	return New(svc, zap.NewNop()), cl, data
}

// TestScheduler_RefreshTracked verifies each tracked location is fetched
// through the service layer, warming the response cache.
func TestScheduler_RefreshTracked(t *testing.T) {
	sched, cl, data := newTestScheduler(t)
	sched.WithTrackedLocations([]string{"London", "Paris", "Tokyo"}, time.Hour)

	sched.refreshTracked()

	if got := cl.calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
	for _, key := range []string{"q:london", "q:paris", "q:tokyo"} {
		if _, ok, _ := data.Get(context.Background(), key); !ok {
			t.Errorf("cache miss for %q after refresh", key)
		}
	}
}

type countingSweeper struct {
	removed int
	runs    int
}

func (c *countingSweeper) Sweep() int {
	c.runs++
	return c.removed
}

// TestScheduler_RunSweep verifies all registered sweepers run.
func TestScheduler_RunSweep(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	a := &countingSweeper{removed: 2}
	b := &countingSweeper{removed: 0}
	sched.WithSweepers(a, b)

	sched.runSweep()

	if a.runs != 1 || b.runs != 1 {
		t.Errorf("sweeper runs = (%d, %d), want (1, 1)", a.runs, b.runs)
	}
}

// TestScheduler_StartStop verifies lifecycle with jobs registered; the
// immediate refresh fires without waiting for the first interval.
func TestScheduler_StartStop(t *testing.T) {
	sched, cl, _ := newTestScheduler(t)
	sched.WithTrackedLocations([]string{"London"}, time.Hour)
	sched.WithSweepers(&countingSweeper{})

	if err := sched.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sched.Stop()

	deadline := time.After(2 * time.Second)
	for cl.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("immediate refresh never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
