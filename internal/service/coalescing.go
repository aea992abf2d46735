package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
)

// requestCoalescer shares one upstream fetch between concurrent misses for the
// same key and tracks how many callers are waiting per key.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration

	mu      sync.Mutex
	waiting map[string]int
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		timeout: timeout,
		waiting: make(map[string]int),
	}
}

// Do runs fn once per key among concurrent callers. fn gets a context that
// keeps ctx's values but not its cancellation, bounded by the coalescer
// timeout, so one caller giving up does not fail the others. shared reports
// whether the result was handed to more than one caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.WeatherObservation, error)) (obs models.WeatherObservation, shared bool, err error) {
	observability.CacheStampedeConcurrency.Observe(float64(rc.enter(key)))
	defer rc.leave(key)

	ch := rc.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			observability.RequestCoalescingHitsTotal.Inc()
		}
		if res.Err != nil {
			return models.WeatherObservation{}, res.Shared, res.Err
		}
		return res.Val.(models.WeatherObservation), res.Shared, nil
	case <-ctx.Done():
		return models.WeatherObservation{}, false, ctx.Err()
	}
}

func (rc *requestCoalescer) enter(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.waiting[key]++
	return rc.waiting[key]
}

func (rc *requestCoalescer) leave(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.waiting[key] <= 1 {
		delete(rc.waiting, key)
		return
	}
	rc.waiting[key]--
}

// Waiting returns the number of callers currently waiting on key.
func (rc *requestCoalescer) Waiting(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.waiting[key]
}
