package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env. Secrets
// (provider API key, database DSN) come from env only, with .env supported
// for local development.
type Config struct {
	ServerPort     string
	ServerName     string // origin tag written into observations
	RequestTimeout time.Duration

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPIRPS     float64
	WeatherAPIBurst   int
	RetryAttempts     int

	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheBackend    string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseAcquireWait time.Duration

	SyncEnabled  bool
	SyncBucket   string
	SyncLocalDir string
	SyncInterval time.Duration

	TrackedLocations []string
	RefreshInterval  time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
		Name string `yaml:"name"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	WeatherAPI struct {
		URL           string  `yaml:"url"`
		Timeout       string  `yaml:"timeout"`
		RPS           float64 `yaml:"rps"`
		Burst         int     `yaml:"burst"`
		RetryAttempts int     `yaml:"retry_attempts"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend    string `yaml:"backend"`
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Database struct {
		MaxConns    int    `yaml:"max_conns"`
		AcquireWait string `yaml:"acquire_wait"`
	} `yaml:"database"`

	Sync struct {
		Enabled  bool   `yaml:"enabled"`
		Bucket   string `yaml:"bucket"`
		LocalDir string `yaml:"local_dir"`
		Interval string `yaml:"interval"`
	} `yaml:"sync"`

	Locations struct {
		Tracked         []string `yaml:"tracked"`
		RefreshInterval string   `yaml:"refresh_interval"`
	} `yaml:"locations"`

	RateLimit struct {
		RPS   int `yaml:"rps"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads config/config.yaml (or $CONFIG_PATH) and applies env
// overrides. A missing file is fine; defaults cover everything except the
// provider API key and the database DSN.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		path = filepath.Join(cwd, "config", "config.yaml")
	}

	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.ServerPort = envDefault("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.ServerName = envDefault("SERVER_NAME", fc.Server.Name)
	if cfg.ServerName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ServerName = host
		} else {
			cfg.ServerName = "weather-api"
		}
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required")
	}
	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherAPIRPS = fc.WeatherAPI.RPS
	if cfg.WeatherAPIRPS <= 0 {
		cfg.WeatherAPIRPS = 1 // free-tier friendly default
	}
	cfg.WeatherAPIBurst = fc.WeatherAPI.Burst
	if cfg.WeatherAPIBurst <= 0 {
		cfg.WeatherAPIBurst = 5
	}
	cfg.RetryAttempts = fc.WeatherAPI.RetryAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries < 0 {
		cfg.CacheMaxEntries = 0
	}
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(envDefault("CACHE_BACKEND", fc.Cache.Backend)))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = envDefault("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DatabaseMaxConns = fc.Database.MaxConns
	if cfg.DatabaseMaxConns <= 0 {
		cfg.DatabaseMaxConns = 10
	}
	cfg.DatabaseAcquireWait = parseDuration(fc.Database.AcquireWait, 5*time.Second)

	cfg.SyncEnabled = fc.Sync.Enabled
	cfg.SyncBucket = envDefault("SYNC_BUCKET", fc.Sync.Bucket)
	cfg.SyncLocalDir = fc.Sync.LocalDir
	cfg.SyncInterval = parseDuration(fc.Sync.Interval, time.Hour)

	cfg.TrackedLocations = fc.Locations.Tracked
	cfg.RefreshInterval = parseDuration(fc.Locations.RefreshInterval, 15*time.Minute)

	cfg.RateLimitRPS = fc.RateLimit.RPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.RateLimit.Burst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL required")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.SyncEnabled {
		if cfg.SyncBucket == "" {
			return fmt.Errorf("sync.bucket required when sync is enabled")
		}
		if cfg.SyncLocalDir == "" {
			return fmt.Errorf("sync.local_dir required when sync is enabled")
		}
	}
	return nil
}
