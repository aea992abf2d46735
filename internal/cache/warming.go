package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Fetching through it
// populates the cache as a side effect.
type WeatherFetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error)
}

// CacheWarmer prefetches observations for a fixed set of points, such as
// mountain passes or commuter corridors that are queried all winter.
type CacheWarmer struct {
	fetcher     WeatherFetcher
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	stopped   bool
}

// NewCacheWarmer creates a CacheWarmer. concurrency bounds parallel fetches
// and timeout bounds each fetch.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger, concurrency int, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, concurrency: concurrency, timeout: timeout}
}

// Warm fetches every point and returns the joined per-point errors.
// One failing point does not stop the others.
func (w *CacheWarmer) Warm(ctx context.Context, points []models.Coordinates) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("points", len(points)))

	errs := make([]error, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, p := range points {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, w.timeout)
			defer cancel()
			if _, err := w.fetcher.Fetch(fetchCtx, p.Lat, p.Lon); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", Key(p.Lat, p.Lon, DefaultKeyPrecision), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	w.logger.Info("cache warming complete",
		zap.Int("points", len(points)),
		zap.Int("errors", failed),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		observability.CacheWarmingRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	observability.CacheWarmingRunsTotal.WithLabelValues("success").Inc()
	return nil
}

// Start runs an initial Warm and then schedules a refresh every interval.
// A non-positive interval only performs the initial warm. Nothing is scheduled
// once ctx is done or Stop has been called.
func (w *CacheWarmer) Start(ctx context.Context, points []models.Coordinates, interval time.Duration) error {
	if len(points) == 0 {
		w.logger.Info("cache warming: no points configured")
		return nil
	}
	if err := w.Warm(ctx, points); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	if interval <= 0 || ctx.Err() != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(interval).WaitForSchedule().Do(func() {
		if err := w.Warm(ctx, points); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || ctx.Err() != nil {
		w.logger.Info("cache warming stopped before scheduling")
		return nil
	}
	w.scheduler = s
	s.StartAsync()
	return nil
}

// Stop cancels future warming runs. It is safe to call when Start was never
// called or is still running its initial warm.
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.scheduler != nil {
		w.scheduler.Stop()
		w.scheduler = nil
	}
	return nil
}
