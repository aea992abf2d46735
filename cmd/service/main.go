package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/black-ice-route-service/internal/cache"
	"github.com/kjstillabower/black-ice-route-service/internal/circuitbreaker"
	"github.com/kjstillabower/black-ice-route-service/internal/client"
	"github.com/kjstillabower/black-ice-route-service/internal/config"
	httphandler "github.com/kjstillabower/black-ice-route-service/internal/http"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
	"github.com/kjstillabower/black-ice-route-service/internal/service"
	"github.com/kjstillabower/black-ice-route-service/internal/traffic"
)

const breakerComponent = "weather_api"

func main() {
	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	// .env may have set LOG_LEVEL after the first logger was built.
	if l, err := observability.NewLogger(cfg.LogLevel); err == nil {
		logger = l
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        breakerComponent,
		IsFailure:        client.TripsBreaker,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(breakerComponent, from.String(), to.String()).Inc()
			observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(float64(to))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(float64(circuitbreaker.StateClosed))

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, client.Options{
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker:        breaker,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var cacheBackend cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		cacheBackend = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheBackend = cache.NewInMemoryCache(cfg.CacheMaxEntries)
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	weatherService := service.NewWeatherService(weatherClient, cacheBackend, service.WeatherConfig{
		TTL:             cfg.CacheTTL,
		KeyPrecision:    cfg.CacheKeyPrecision,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	tracker := traffic.NewTracker(cfg.HealthRetention())
	engine := risk.NewEngine(nil)
	evaluator := route.NewEvaluator(weatherService, engine, cfg.RouteConcurrency, cfg.RouteSegmentTimeout)
	analyzer := route.NewAnalyzer(evaluator, cfg.RouteMaxWaypoints)
	riskService := service.NewRiskService(weatherService, engine, analyzer, tracker)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(riskService, weatherClient, tracker, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterTrafficGauges(
		func() float64 { return float64(tracker.RequestCount(cfg.OverloadWindow)) },
		func() float64 { return float64(tracker.DenialCount(cfg.OverloadWindow)) },
	)

	warmer := cache.NewCacheWarmer(weatherService, logger, cfg.WarmConcurrency, cfg.RouteSegmentTimeout)
	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	go func() {
		if err := warmer.Start(warmCtx, cfg.WarmCoordinates(), cfg.WarmInterval); err != nil {
			logger.Error("cache warming", zap.Error(err))
		}
	}()

	inflight := &httphandler.InFlightTracker{}
	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: newRouter(routerDeps{
			handler:        handler,
			logger:         logger,
			limiter:        limiter,
			tracker:        tracker,
			inflight:       inflight,
			requestTimeout: cfg.RequestTimeout,
			corsOrigins:    cfg.CORSAllowedOrigins,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	stopWarming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inflight.Count()))
	if err := inflight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inflight.Count()))
	}

	closers := []func() error{warmer.Stop}
	if memcached != nil {
		closers = append(closers, memcached.Close)
	}
	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger, closers...); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}
