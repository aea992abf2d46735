package service

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/black-ice-route-service/internal/cache"
	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
)

// WeatherConfig tunes the read-through cache in front of the provider.
type WeatherConfig struct {
	TTL             time.Duration
	KeyPrecision    int
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
}

// WeatherService serves observations through the cache, falling back to the
// upstream provider on a miss. It implements route.WeatherProvider.
type WeatherService struct {
	upstream  route.WeatherProvider
	cache     cache.Cache
	ttl       time.Duration
	precision int
	coalescer *requestCoalescer // nil if disabled
}

// NewWeatherService wires upstream behind c.
func NewWeatherService(upstream route.WeatherProvider, c cache.Cache, cfg WeatherConfig) *WeatherService {
	var coalescer *requestCoalescer
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &WeatherService{
		upstream:  upstream,
		cache:     c,
		ttl:       cfg.TTL,
		precision: cfg.KeyPrecision,
		coalescer: coalescer,
	}
}

// Fetch returns the observation for the cache cell containing (lat, lon).
// Cache failures are logged and counted, never returned.
func (s *WeatherService) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	key := cache.Key(lat, lon, s.precision)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()

	var obs models.WeatherObservation
	var shared bool
	if s.coalescer != nil {
		obs, shared, err = s.coalescer.Do(ctx, key, func(fetchCtx context.Context) (models.WeatherObservation, error) {
			// A flight that finished just before this one may have filled the cell.
			if cached, ok, getErr := s.cache.Get(fetchCtx, key); getErr == nil && ok {
				return cached, nil
			}
			return s.fetchAndStore(fetchCtx, key, lat, lon)
		})
	} else {
		obs, err = s.fetchAndStore(ctx, key, lat, lon)
	}
	if err != nil {
		return models.WeatherObservation{}, err
	}

	logger.Debug("weather served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.Duration("duration", time.Since(start)))
	return obs, nil
}

func (s *WeatherService) fetchAndStore(ctx context.Context, key string, lat, lon float64) (models.WeatherObservation, error) {
	obs, err := s.upstream.Fetch(ctx, lat, lon)
	if err != nil {
		return models.WeatherObservation{}, err
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, obs, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	return obs, nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	return "unknown"
}
