//go:build integration
// +build integration

// Package testhelpers builds the live provider stack for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/black-ice-route-service/internal/cache"
	"github.com/kjstillabower/black-ice-route-service/internal/circuitbreaker"
	"github.com/kjstillabower/black-ice-route-service/internal/client"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
	"github.com/kjstillabower/black-ice-route-service/internal/service"
	"github.com/kjstillabower/black-ice-route-service/internal/traffic"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// Stack is the live service graph used by integration tests.
type Stack struct {
	Client  *client.OpenWeatherClient
	Cache   cache.Cache
	Weather *service.WeatherService
	Risk    *service.RiskService
	Tracker *traffic.Tracker
}

// SetupIntegrationStack wires a real provider client behind the cache and
// risk services. Falls back to the in-memory cache when memcached is unreachable.
func SetupIntegrationStack(t *testing.T, cfg IntegrationTestConfig) *Stack {
	t.Helper()
	breaker := circuitbreaker.New(circuitbreaker.Config{Component: "integration", IsFailure: client.TripsBreaker})
	weatherClient, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, client.Options{
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
		Breaker:       breaker,
	})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	var c cache.Cache = cache.NewInMemoryCache(1000)
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			c = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("using memcached at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory cache")
		}
	}

	weather := service.NewWeatherService(weatherClient, c, service.WeatherConfig{
		TTL:             time.Minute,
		KeyPrecision:    cache.DefaultKeyPrecision,
		CoalesceEnabled: true,
		CoalesceTimeout: 10 * time.Second,
	})
	tracker := traffic.NewTracker(time.Minute)
	engine := risk.NewEngine(nil)
	analyzer := route.NewAnalyzer(route.NewEvaluator(weather, engine, route.DefaultConcurrency, route.DefaultSegmentTimeout), route.DefaultMaxWaypoints)
	return &Stack{
		Client:  weatherClient,
		Cache:   c,
		Weather: weather,
		Risk:    service.NewRiskService(weather, engine, analyzer, tracker),
		Tracker: tracker,
	}
}
