package scheduler

import (
	"context"
	gosync "sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/weathervane/weather-api-service/internal/observability"
	"github.com/weathervane/weather-api-service/internal/query"
	"github.com/weathervane/weather-api-service/internal/service"
	"github.com/weathervane/weather-api-service/internal/sync"
)

// Sweeper removes expired entries eagerly. Implemented by the in-memory
// cache; a remote backend expires entries itself and registers no sweeper.
type Sweeper interface {
	Sweep() int
}

// Scheduler runs the service's background jobs: refreshing tracked
// locations (which warms the response cache and extends the historical
// record), periodic object sync passes, and cache sweeps.
type Scheduler struct {
	scheduler *gocron.Scheduler
	weather   *service.WeatherService
	logger    *zap.Logger

	tracked         []string
	refreshInterval time.Duration

	syncer       *sync.Syncer
	syncBucket   string
	syncLocalDir string
	syncInterval time.Duration

	sweepers []Sweeper
}

// New creates a Scheduler. syncer may be nil when object sync is disabled.
func New(weather *service.WeatherService, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		weather:   weather,
		logger:    logger,
	}
}

// WithTrackedLocations enables the periodic refresh job for the named
// city queries.
func (s *Scheduler) WithTrackedLocations(locations []string, interval time.Duration) *Scheduler {
	s.tracked = locations
	s.refreshInterval = interval
	return s
}

// WithSync enables the periodic object sync job.
func (s *Scheduler) WithSync(syncer *sync.Syncer, bucket, localDir string, interval time.Duration) *Scheduler {
	s.syncer = syncer
	s.syncBucket = bucket
	s.syncLocalDir = localDir
	s.syncInterval = interval
	return s
}

// WithSweepers enables a periodic expired-entry sweep on the given caches.
func (s *Scheduler) WithSweepers(sweepers ...Sweeper) *Scheduler {
	s.sweepers = sweepers
	return s
}

// Start registers the enabled jobs and starts the scheduler in the
// background. The refresh job also runs once immediately so tracked
// locations are warm before the first interval elapses.
func (s *Scheduler) Start() error {
	if len(s.tracked) > 0 {
		if _, err := s.scheduler.Every(s.refreshInterval).Do(s.refreshTracked); err != nil {
			return err
		}
		go s.refreshTracked()
	}
	if s.syncer != nil {
		if _, err := s.scheduler.Every(s.syncInterval).Do(s.runSync); err != nil {
			return err
		}
	}
	if len(s.sweepers) > 0 {
		if _, err := s.scheduler.Every(10 * time.Minute).Do(s.runSweep); err != nil {
			return err
		}
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// refreshTracked fetches current conditions for every tracked location
// concurrently. Going through the service layer means each fetch populates
// the response cache and upserts an observation.
func (s *Scheduler) refreshTracked() {
	s.logger.Debug("refreshing tracked locations", zap.Int("count", len(s.tracked)))

	var wg gosync.WaitGroup
	var failed gosync.Map
	for _, loc := range s.tracked {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := s.weather.GetWeather(ctx, query.Options{City: loc}); err != nil {
				failed.Store(loc, struct{}{})
				s.logger.Warn("tracked location refresh failed", zap.String("location", loc), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	errs := 0
	failed.Range(func(_, _ any) bool { errs++; return true })
	outcome := "success"
	if errs > 0 {
		outcome = "error"
	}
	observability.SchedulerRunsTotal.WithLabelValues("refresh_tracked", outcome).Inc()
	s.logger.Info("tracked location refresh complete",
		zap.Int("locations", len(s.tracked)), zap.Int("errors", errs))
}

func (s *Scheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.syncer.SyncDir(ctx, s.syncLocalDir, s.syncBucket); err != nil {
		observability.SchedulerRunsTotal.WithLabelValues("object_sync", "error").Inc()
		s.logger.Warn("object sync pass failed", zap.Error(err))
		return
	}
	observability.SchedulerRunsTotal.WithLabelValues("object_sync", "success").Inc()
}

func (s *Scheduler) runSweep() {
	removed := 0
	for _, sw := range s.sweepers {
		removed += sw.Sweep()
	}
	observability.SchedulerRunsTotal.WithLabelValues("cache_sweep", "success").Inc()
	if removed > 0 {
		s.logger.Debug("cache sweep removed expired entries", zap.Int("removed", removed))
	}
}
