package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
)

// Point is a cache-warming location.
type Point struct {
	Lat float64 `yaml:"lat" validate:"latitude"`
	Lon float64 `yaml:"lon" validate:"longitude"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`
	LogLevel   string

	WeatherAPIKey     string        `validate:"required"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	RequestTimeout time.Duration

	CacheBackend          string        `validate:"oneof=in_memory memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	CacheKeyPrecision     int           `validate:"min=0,max=6"`
	CacheMaxEntries       int           `validate:"min=0"`
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	WarmPoints            []Point `validate:"dive"`
	WarmInterval          time.Duration
	WarmConcurrency       int

	RetryAttempts           int `validate:"min=1"`
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	RateLimitRPS            int
	RateLimitBurst          int
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	CoalesceEnabled         bool
	CoalesceTimeout         time.Duration

	RouteMaxWaypoints   int `validate:"min=2"`
	RouteConcurrency    int `validate:"min=1"`
	RouteSegmentTimeout time.Duration

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int `validate:"min=1,max=100"`
	DegradedWindow       time.Duration
	DegradedErrorPct     int `validate:"min=1,max=100"`

	CORSAllowedOrigins []string
}

// WarmCoordinates returns the warm points as model coordinates.
func (c *Config) WarmCoordinates() []models.Coordinates {
	out := make([]models.Coordinates, len(c.WarmPoints))
	for i, p := range c.WarmPoints {
		out[i] = models.Coordinates{Lat: p.Lat, Lon: p.Lon}
	}
	return out
}

// HealthRetention is how long outcomes must be kept to answer every health window.
func (c *Config) HealthRetention() time.Duration {
	if c.OverloadWindow > c.DegradedWindow {
		return c.OverloadWindow
	}
	return c.DegradedWindow
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string  `yaml:"backend"`
		TTL          string  `yaml:"ttl"`
		KeyPrecision *int    `yaml:"key_precision"`
		MaxEntries   int     `yaml:"max_entries"`
		WarmPoints   []Point `yaml:"warm_points"`
		WarmInterval string  `yaml:"warm_interval"`
		WarmWorkers  int     `yaml:"warm_concurrency"`
		Memcached    struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalescing struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalescing"`
	} `yaml:"reliability"`

	Route struct {
		MaxWaypoints   int    `yaml:"max_waypoints"`
		Concurrency    int    `yaml:"concurrency"`
		SegmentTimeout string `yaml:"segment_timeout"`
	} `yaml:"route"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// envOverrides are read after the YAML file; set values win.
type envOverrides struct {
	EnvName            string   `envconfig:"ENV_NAME" default:"dev"`
	LogLevel           string   `envconfig:"LOG_LEVEL" default:"INFO"`
	WeatherAPIKey      string   `envconfig:"WEATHER_API_KEY"`
	CacheBackend       string   `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs     string   `envconfig:"MEMCACHED_ADDRS"`
	ServerPort         string   `envconfig:"SERVER_PORT"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

var validate = validator.New()

// Load reads configuration from the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (optional), dir/config/{ENV_NAME}.yaml (default dev) and
// dir/config/secrets.yaml. The API key comes from WEATHER_API_KEY or the secrets file.
func LoadFrom(dir string) (*Config, error) {
	// Absent .env is fine; existing env vars are never overridden.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if env.EnvName == "" {
		env.EnvName = "dev"
	}

	configPath := filepath.Join(dir, "config", env.EnvName+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{LogLevel: env.LogLevel}

	cfg.ServerPort = firstNonEmpty(env.ServerPort, fc.Server.Port, "8080")

	cfg.WeatherAPIKey = strings.TrimSpace(env.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		key, err := readSecretsKey(filepath.Join(dir, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(
		strings.TrimSpace(env.CacheBackend), strings.TrimSpace(fc.Cache.Backend), "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheKeyPrecision = 2
	if fc.Cache.KeyPrecision != nil {
		cfg.CacheKeyPrecision = *fc.Cache.KeyPrecision
	}
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 10000
	}
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(env.MemcachedAddrs), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmPoints = fc.Cache.WarmPoints
	cfg.WarmInterval = parseDuration(fc.Cache.WarmInterval, 4*time.Minute)
	cfg.WarmConcurrency = fc.Cache.WarmWorkers
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.CoalesceEnabled = true
	if fc.Reliability.Coalescing.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.Coalescing.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalescing.Timeout, 5*time.Second)

	cfg.RouteMaxWaypoints = fc.Route.MaxWaypoints
	if cfg.RouteMaxWaypoints <= 0 {
		cfg.RouteMaxWaypoints = 100
	}
	cfg.RouteConcurrency = fc.Route.Concurrency
	if cfg.RouteConcurrency <= 0 {
		cfg.RouteConcurrency = 6
	}
	cfg.RouteSegmentTimeout = parseDuration(fc.Route.SegmentTimeout, 8*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Health.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 20
	}

	cfg.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	if len(env.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = env.CORSAllowedOrigins
	}

	if err := check(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecretsKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// check validates field constraints, then adjusts timeouts that depend on each other.
// A segment must outlive one provider attempt. A route runs its segments in waves of
// RouteConcurrency, so a request must outlive every wave of the longest allowed route.
func check(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("config: %s failed %s check (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.RouteSegmentTimeout < cfg.WeatherAPITimeout {
		cfg.RouteSegmentTimeout = cfg.WeatherAPITimeout
	}
	if floor := RouteBudget(cfg.RouteMaxWaypoints, cfg.RouteConcurrency, cfg.RouteSegmentTimeout) + time.Second; cfg.RequestTimeout < floor {
		cfg.RequestTimeout = floor
	}
	return nil
}

// RouteBudget is the longest a route of maxWaypoints can take when every segment
// runs to its timeout: ceil((maxWaypoints-1)/concurrency) waves of segmentTimeout.
func RouteBudget(maxWaypoints, concurrency int, segmentTimeout time.Duration) time.Duration {
	if concurrency < 1 {
		concurrency = 1
	}
	segments := maxWaypoints - 1
	if segments < 1 {
		segments = 1
	}
	waves := (segments + concurrency - 1) / concurrency
	return time.Duration(waves) * segmentTimeout
}
