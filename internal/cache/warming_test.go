package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
)

type mockWeatherFetcher struct {
	mu    sync.Mutex
	calls []models.Coordinates
	fail  map[models.Coordinates]error
}

func (m *mockWeatherFetcher) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	p := models.Coordinates{Lat: lat, Lon: lon}
	m.mu.Lock()
	m.calls = append(m.calls, p)
	err := m.fail[p]
	m.mu.Unlock()
	if err != nil {
		return models.WeatherObservation{}, err
	}
	return models.WeatherObservation{Location: p, Temperature: models.Float(-1)}, nil
}

func (m *mockWeatherFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var warmPoints = []models.Coordinates{{Lat: 39.68, Lon: -105.89}, {Lat: 47.42, Lon: -121.41}, {Lat: 44.27, Lon: -71.3}}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, 2, time.Second)

	if err := warmer.Warm(context.Background(), warmPoints); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if n := fetcher.callCount(); n != len(warmPoints) {
		t.Errorf("fetch calls = %d, want %d", n, len(warmPoints))
	}
}

func TestCacheWarmer_Warm_EmptyPoints(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, 2, time.Second)

	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
	if fetcher.callCount() != 0 {
		t.Error("Warm(nil) should not fetch")
	}
}

func TestCacheWarmer_Warm_PartialFailure(t *testing.T) {
	errDown := errors.New("api down")
	fetcher := &mockWeatherFetcher{fail: map[models.Coordinates]error{warmPoints[1]: errDown}}
	core, logs := observer.New(zap.InfoLevel)
	warmer := NewCacheWarmer(fetcher, zap.New(core), 2, time.Second)

	err := warmer.Warm(context.Background(), warmPoints)
	if !errors.Is(err, errDown) {
		t.Fatalf("Warm() error = %v, want wrapped %v", err, errDown)
	}
	if n := fetcher.callCount(); n != len(warmPoints) {
		t.Errorf("fetch calls = %d, one failure must not stop the others", n)
	}
	done := logs.FilterMessage("cache warming complete").All()
	if len(done) != 1 || done[0].ContextMap()["errors"] != int64(1) {
		t.Errorf("completion log = %+v, want errors=1", done)
	}
}

func TestCacheWarmer_StartStop(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, 2, time.Second)

	if err := warmer.Start(context.Background(), warmPoints, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer warmer.Stop()

	if n := fetcher.callCount(); n != len(warmPoints) {
		t.Errorf("initial warm fetched %d points, want %d", n, len(warmPoints))
	}
}

func TestCacheWarmer_Stop_WithoutStart(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, 1, time.Second)
	if err := warmer.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// gatedFetcher holds every fetch until release is closed.
type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedFetcher) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return models.WeatherObservation{Location: models.Coordinates{Lat: lat, Lon: lon}}, nil
}

func TestCacheWarmer_StopDuringInitialWarm(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{"stop only", false},
		{"stop and cancel", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
			warmer := NewCacheWarmer(fetcher, nil, 1, time.Second)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- warmer.Start(ctx, warmPoints[:1], time.Hour) }()

			<-fetcher.started
			if err := warmer.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if tt.cancel {
				cancel()
			}
			close(fetcher.release)

			if err := <-done; err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			warmer.mu.Lock()
			defer warmer.mu.Unlock()
			if warmer.scheduler != nil {
				t.Error("Start scheduled refreshes after Stop; nothing would ever stop them")
			}
		})
	}
}

func TestCacheWarmer_Start_CancelledContextSchedulesNothing(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := warmer.Start(ctx, warmPoints, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	warmer.mu.Lock()
	defer warmer.mu.Unlock()
	if warmer.scheduler != nil {
		t.Error("Start scheduled refreshes with a cancelled context")
	}
}
