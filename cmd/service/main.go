package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weathervane/weather-api-service/internal/cache"
	"github.com/weathervane/weather-api-service/internal/client"
	"github.com/weathervane/weather-api-service/internal/config"
	httphandler "github.com/weathervane/weather-api-service/internal/http"
	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/observability"
	"github.com/weathervane/weather-api-service/internal/scheduler"
	"github.com/weathervane/weather-api-service/internal/service"
	"github.com/weathervane/weather-api-service/internal/stats"
	"github.com/weathervane/weather-api-service/internal/store"
	objsync "github.com/weathervane/weather-api-service/internal/sync"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns), cfg.DatabaseAcquireWait)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer st.Close()

	weatherClient, err := client.NewOpenWeatherClient(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.WeatherAPIRPS,
		cfg.WeatherAPIBurst,
		cfg.RetryAttempts,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var (
		dataCache     cache.Cache[models.WeatherSnapshot]
		forecastCache cache.Cache[models.ForecastSnapshot]
		cachePing     httphandler.Pinger
		cacheClose    func() error
		sweepers      []scheduler.Sweeper
	)
	switch cfg.CacheBackend {
	case "memcached":
		dataMC, err := cache.NewMemcached[models.WeatherSnapshot]("data:", cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		forecastMC, err := cache.NewMemcached[models.ForecastSnapshot]("forecast:", cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		dataCache, forecastCache = dataMC, forecastMC
		cachePing = dataMC.Ping
		cacheClose = func() error {
			if err := dataMC.Close(); err != nil {
				return err
			}
			return forecastMC.Close()
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		dataMem := cache.NewMemory[models.WeatherSnapshot](cfg.CacheMaxEntries)
		forecastMem := cache.NewMemory[models.ForecastSnapshot](cfg.CacheMaxEntries)
		dataCache, forecastCache = dataMem, forecastMem
		sweepers = append(sweepers, dataMem, forecastMem)
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	tracker := stats.New()
	weatherService := service.NewWeatherService(
		weatherClient, dataCache, forecastCache, st, tracker,
		cfg.CacheTTL, cfg.ServerName, logger,
	)

	sched := scheduler.New(weatherService, logger).WithSweepers(sweepers...)
	if len(cfg.TrackedLocations) > 0 {
		sched.WithTrackedLocations(cfg.TrackedLocations, cfg.RefreshInterval)
	}
	if cfg.SyncEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Fatal("aws config", zap.Error(err))
		}
		if err := os.MkdirAll(cfg.SyncLocalDir, 0o755); err != nil {
			logger.Fatal("sync local dir", zap.Error(err))
		}
		syncer := objsync.NewSyncer(st, objsync.NewS3(awsCfg), logger)
		sched.WithSync(syncer, cfg.SyncBucket, cfg.SyncLocalDir, cfg.SyncInterval)
		logger.Info("object sync enabled",
			zap.String("bucket", cfg.SyncBucket),
			zap.String("local_dir", cfg.SyncLocalDir),
			zap.Duration("interval", cfg.SyncInterval))
	}
	if err := sched.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	storePing := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.Ping(pingCtx)
	}
	handler := httphandler.NewHandler(weatherService, logger, storePing, cachePing)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("server_name", cfg.ServerName))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if cacheClose != nil {
		if err := cacheClose(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
