package route

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/black-ice-route-service/internal/client"
	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
)

var fixedNow = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

func dangerous() models.WeatherObservation {
	return models.WeatherObservation{
		Temperature:   models.Float(-1),
		DewPoint:      models.Float(-1.5),
		Humidity:      models.Float(96),
		WindSpeed:     models.Float(1),
		Precipitation: models.Float(0.5),
		CloudCover:    models.Float(80),
		ObservedAt:    fixedNow,
	}
}

func warm() models.WeatherObservation {
	return models.WeatherObservation{
		Temperature:   models.Float(20),
		DewPoint:      models.Float(9),
		Humidity:      models.Float(50),
		WindSpeed:     models.Float(3),
		Precipitation: models.Float(0),
		CloudCover:    models.Float(20),
		ObservedAt:    fixedNow,
	}
}

// fakeProvider answers from fn and records call concurrency.
type fakeProvider struct {
	fn       func(ctx context.Context, lat, lon float64) (models.WeatherObservation, error)
	calls    atomic.Int32
	inFlight atomic.Int32
	mu       sync.Mutex
	peak     int32
}

func (p *fakeProvider) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	p.mu.Lock()
	if n > p.peak {
		p.peak = n
	}
	p.mu.Unlock()
	return p.fn(ctx, lat, lon)
}

func always(obs models.WeatherObservation) *fakeProvider {
	return &fakeProvider{fn: func(context.Context, float64, float64) (models.WeatherObservation, error) {
		return obs, nil
	}}
}

// meridian returns n waypoints one degree of latitude apart along lon -74.
func meridian(n int) []models.Waypoint {
	wps := make([]models.Waypoint, n)
	for i := range wps {
		wps[i] = models.Waypoint{Lat: 40 + float64(i), Lon: -74}
	}
	return wps
}

func newEvaluator(p WeatherProvider, concurrency int, timeout time.Duration) *Evaluator {
	return NewEvaluator(p, risk.NewEngine(func() time.Time { return fixedNow }), concurrency, timeout)
}

func TestBuildSegments_Validation(t *testing.T) {
	tests := []struct {
		name      string
		waypoints []models.Waypoint
		field     string
	}{
		{"empty", nil, "waypoints"},
		{"single waypoint", []models.Waypoint{{Lat: 40, Lon: -74}}, "waypoints"},
		{"latitude out of range", []models.Waypoint{{Lat: 40, Lon: -74}, {Lat: 91, Lon: -74}}, "waypoints[1]"},
		{"longitude out of range", []models.Waypoint{{Lat: 40, Lon: -181}, {Lat: 41, Lon: -74}}, "waypoints[0]"},
		{"NaN", []models.Waypoint{{Lat: math.NaN(), Lon: 0}, {Lat: 41, Lon: -74}}, "waypoints[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSegments(tt.waypoints)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("BuildSegments() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestBuildSegments_CountAndOrder(t *testing.T) {
	wps := meridian(6)
	segs, err := BuildSegments(wps)
	if err != nil {
		t.Fatalf("BuildSegments() error = %v", err)
	}
	if len(segs) != len(wps)-1 {
		t.Fatalf("len(segments) = %d, want %d", len(segs), len(wps)-1)
	}
	for i, s := range segs {
		if s.Index != i || s.Start != wps[i] || s.End != wps[i+1] {
			t.Errorf("segment %d = %+v, want waypoints %d->%d", i, s, i, i+1)
		}
		// One degree of latitude is about 111.2 km.
		if math.Abs(s.DistanceKm-111.2) > 0.5 {
			t.Errorf("segment %d distance = %.2f km, want ~111.2", i, s.DistanceKm)
		}
		if math.Abs(s.Midpoint.Lat-(wps[i].Lat+0.5)) > 1e-9 || math.Abs(s.Midpoint.Lon+74) > 1e-9 {
			t.Errorf("segment %d midpoint = %+v", i, s.Midpoint)
		}
	}
}

func TestBuildSegments_DuplicateWaypoint(t *testing.T) {
	p := models.Waypoint{Lat: 40, Lon: -74}
	segs, err := BuildSegments([]models.Waypoint{p, p})
	if err != nil {
		t.Fatalf("BuildSegments() error = %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segs))
	}
	if segs[0].DistanceKm != 0 {
		t.Errorf("DistanceKm = %v, want 0", segs[0].DistanceKm)
	}
	if segs[0].Midpoint != p.Coordinates() {
		t.Errorf("Midpoint = %+v, want %+v", segs[0].Midpoint, p.Coordinates())
	}
}

func TestBuildSegments_LongHaul(t *testing.T) {
	segs, err := BuildSegments([]models.Waypoint{
		{Lat: 40.7128, Lon: -74.0060, Name: "New York"},
		{Lat: 34.0522, Lon: -118.2437, Name: "Los Angeles"},
	})
	if err != nil {
		t.Fatalf("BuildSegments() error = %v", err)
	}
	if math.Abs(segs[0].DistanceKm-3936) > 10 {
		t.Errorf("NYC-LA distance = %.0f km, want ~3936", segs[0].DistanceKm)
	}
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		name string
		a, b models.Coordinates
		want models.Coordinates
	}{
		{"equator", models.Coordinates{Lat: 0, Lon: 0}, models.Coordinates{Lat: 0, Lon: 90}, models.Coordinates{Lat: 0, Lon: 45}},
		{"meridian", models.Coordinates{Lat: 10, Lon: 20}, models.Coordinates{Lat: 30, Lon: 20}, models.Coordinates{Lat: 20, Lon: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := midpoint(tt.a, tt.b)
			if math.Abs(got.Lat-tt.want.Lat) > 1e-9 || math.Abs(got.Lon-tt.want.Lon) > 1e-9 {
				t.Errorf("midpoint = %+v, want %+v", got, tt.want)
			}
		})
	}

	got := midpoint(models.Coordinates{Lat: 0, Lon: 170}, models.Coordinates{Lat: 0, Lon: -170})
	if math.Abs(math.Abs(got.Lon)-180) > 1e-9 || !got.Valid() {
		t.Errorf("antimeridian midpoint = %+v, want lon ±180", got)
	}
}

func TestEvaluator_PartialFailure(t *testing.T) {
	// Midpoints at lat 40.5 .. 44.5; fail the 2nd and 4th.
	provider := &fakeProvider{fn: func(_ context.Context, lat, _ float64) (models.WeatherObservation, error) {
		switch math.Round(lat * 10) {
		case 415:
			return models.WeatherObservation{}, &client.ProviderError{Kind: client.KindRateLimited, Err: client.ErrRateLimited}
		case 435:
			return models.WeatherObservation{}, &client.ProviderError{Kind: client.KindUpstream, Err: client.ErrUpstreamFailure}
		}
		return dangerous(), nil
	}}
	segs, _ := BuildSegments(meridian(6))

	got, err := newEvaluator(provider, 3, time.Second).Evaluate(context.Background(), segs)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	wantErr := map[int]string{1: "rate_limited", 3: "upstream"}
	for i, s := range got {
		if s.Index != i {
			t.Errorf("segment %d has index %d; order must be preserved", i, s.Index)
		}
		if (s.Assessment == nil) == (s.Error == nil) {
			t.Fatalf("segment %d must carry exactly one of assessment and error", i)
		}
		if kind, ok := wantErr[i]; ok {
			if s.Error == nil || s.Error.Kind != kind {
				t.Errorf("segment %d error = %+v, want kind %s", i, s.Error, kind)
			}
			continue
		}
		if s.Weather == nil || !s.Assessment.RiskLevel.AtLeast(risk.LevelHigh) {
			t.Errorf("segment %d assessment = %+v, want high risk with weather", i, s.Assessment)
		}
	}
	if segs[0].Assessment != nil {
		t.Error("Evaluate must not mutate its input")
	}
}

func TestEvaluator_ConcurrencyBound(t *testing.T) {
	provider := &fakeProvider{fn: func(context.Context, float64, float64) (models.WeatherObservation, error) {
		time.Sleep(10 * time.Millisecond)
		return warm(), nil
	}}
	segs, _ := BuildSegments(meridian(13))

	if _, err := newEvaluator(provider, 3, time.Second).Evaluate(context.Background(), segs); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if n := provider.calls.Load(); n != 12 {
		t.Errorf("provider calls = %d, want 12", n)
	}
	if provider.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", provider.peak)
	}
}

func TestEvaluator_TimeoutBecomesSegmentError(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	// Ignores ctx on purpose.
	provider := &fakeProvider{fn: func(_ context.Context, lat, _ float64) (models.WeatherObservation, error) {
		if lat > 41 {
			<-block
		}
		return warm(), nil
	}}
	segs, _ := BuildSegments(meridian(3))

	start := time.Now()
	got, err := newEvaluator(provider, 2, 50*time.Millisecond).Evaluate(context.Background(), segs)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Evaluate took %v; a hung provider must not block the batch", elapsed)
	}
	if got[0].Assessment == nil {
		t.Error("segment 0 should be assessed")
	}
	if got[1].Error == nil || got[1].Error.Kind != string(client.KindTimeout) {
		t.Errorf("segment 1 error = %+v, want timeout", got[1].Error)
	}
}

func TestEvaluator_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{fn: func(c context.Context, _, _ float64) (models.WeatherObservation, error) {
		cancel()
		<-c.Done()
		return models.WeatherObservation{}, c.Err()
	}}
	segs, _ := BuildSegments(meridian(5))

	got, err := newEvaluator(provider, 2, time.Second).Evaluate(ctx, segs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Evaluate() error = %v, want context.Canceled", err)
	}
	if got != nil {
		t.Errorf("Evaluate() returned %d segments; cancelled analysis must not return partial results", len(got))
	}
}

func TestExtractDangerZones(t *testing.T) {
	segs := []Segment{
		{Index: 0, Assessment: &risk.Assessment{RiskLevel: risk.LevelLow, Probability: 20}},
		{Index: 1, Assessment: &risk.Assessment{RiskLevel: risk.LevelModerate, Probability: 30}},
		{Index: 2, Error: &SegmentError{Kind: "timeout"}},
		{Index: 3, Assessment: &risk.Assessment{RiskLevel: risk.LevelExtreme, Probability: 90}},
		{Index: 4, Assessment: &risk.Assessment{RiskLevel: risk.LevelNone, Probability: 0}},
	}
	zones, errored := ExtractDangerZones(segs)
	if errored != 1 {
		t.Errorf("errored = %d, want 1", errored)
	}
	if len(zones) != 2 || zones[0].SegmentIndex != 1 || zones[1].SegmentIndex != 3 {
		t.Fatalf("zones = %+v, want segments 1 and 3 in route order", zones)
	}

	zones, _ = ExtractDangerZones(nil)
	if zones == nil {
		t.Error("ExtractDangerZones(nil) should return an empty, non-nil slice")
	}
}

func TestSegment_Resolved(t *testing.T) {
	if !(Segment{Assessment: &risk.Assessment{}}).Resolved() {
		t.Error("segment with an assessment should be resolved")
	}
	if (Segment{Error: &SegmentError{Kind: "timeout"}}).Resolved() {
		t.Error("errored segment should not be resolved")
	}
}

func TestSummarize_LowRiskRouteHasNoRecommendations(t *testing.T) {
	segs := []Segment{
		{Index: 0, Assessment: &risk.Assessment{RiskLevel: risk.LevelLow, Probability: 20}},
		{Index: 1, Assessment: &risk.Assessment{RiskLevel: risk.LevelNone, Probability: 5}},
	}
	zones, errored := ExtractDangerZones(segs)
	s := Summarize(segs, zones, errored)
	if s.MaxRiskLevel != risk.LevelLow {
		t.Fatalf("MaxRiskLevel = %s, want low", s.MaxRiskLevel)
	}
	if s.Recommendations == nil || len(s.Recommendations) != 0 {
		t.Errorf("Recommendations = %v, want empty: only danger zones contribute advice", s.Recommendations)
	}
}

func TestSummarize_Score(t *testing.T) {
	segs := []Segment{
		{Index: 0, DistanceKm: 10, Assessment: &risk.Assessment{RiskLevel: risk.LevelExtreme, Probability: 90}},
		{Index: 1, DistanceKm: 5, Assessment: &risk.Assessment{RiskLevel: risk.LevelLow, Probability: 20}},
	}
	zones, errored := ExtractDangerZones(segs)
	s := Summarize(segs, zones, errored)

	// 100 - (0.6*90 + 0.4*50)
	if s.SafetyScore != 26 {
		t.Errorf("SafetyScore = %d, want 26", s.SafetyScore)
	}
	if s.TotalDistanceKm != 15 || s.MaxRiskProbability != 90 || s.MaxRiskLevel != risk.LevelExtreme {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", s.Warnings)
	}
}

func TestSummarize_AllErrored(t *testing.T) {
	segs := []Segment{
		{Index: 0, Error: &SegmentError{Kind: "timeout"}},
		{Index: 1, Error: &SegmentError{Kind: "unavailable"}},
	}
	zones, errored := ExtractDangerZones(segs)
	s := Summarize(segs, zones, errored)
	if s.SafetyScore != 0 {
		t.Errorf("SafetyScore = %d, want 0 when nothing was assessed", s.SafetyScore)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one warning", s.Warnings)
	}
	if s.ErroredSegments != 2 || s.AssessedSegments != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestSummarize_PartialWarning(t *testing.T) {
	segs := []Segment{
		{Index: 0, Assessment: &risk.Assessment{RiskLevel: risk.LevelNone}},
		{Index: 1, Error: &SegmentError{Kind: "timeout"}},
	}
	zones, errored := ExtractDangerZones(segs)
	s := Summarize(segs, zones, errored)
	if s.SafetyScore != 100 {
		t.Errorf("SafetyScore = %d, want 100 from the assessed segment", s.SafetyScore)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("Warnings = %v, want a partial-assessment warning", s.Warnings)
	}
}

func TestRecommendationsFor_DedupedMostDangerousFirst(t *testing.T) {
	zones := []DangerZone{
		{SegmentIndex: 0, RiskLevel: risk.LevelModerate, Probability: 40},
		{SegmentIndex: 1, RiskLevel: risk.LevelHigh, Probability: 70},
	}
	got := recommendationsFor(zones)

	high := risk.Recommendations(risk.LevelHigh)
	for i, r := range high {
		if got[i] != r {
			t.Fatalf("recommendation %d = %q, want high-risk advice first", i, got[i])
		}
	}
	seen := map[string]bool{}
	for _, r := range got {
		if seen[r] {
			t.Errorf("duplicate recommendation %q", r)
		}
		seen[r] = true
	}
	for _, r := range risk.Recommendations(risk.LevelModerate) {
		if !seen[r] {
			t.Errorf("missing moderate recommendation %q", r)
		}
	}
}

func TestAnalyzer_WarmRouteIsSafe(t *testing.T) {
	a := NewAnalyzer(newEvaluator(always(warm()), 4, time.Second), 10)
	got, err := a.Analyze(context.Background(), meridian(4))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Summary.SafetyScore != 100 {
		t.Errorf("SafetyScore = %d, want 100", got.Summary.SafetyScore)
	}
	if got.DangerZones == nil || len(got.DangerZones) != 0 {
		t.Errorf("DangerZones = %v, want empty", got.DangerZones)
	}
	if got.Summary.Recommendations == nil || len(got.Summary.Recommendations) != 0 {
		t.Errorf("Recommendations = %v, want empty without danger zones", got.Summary.Recommendations)
	}
	if len(got.Segments) != 3 {
		t.Errorf("len(Segments) = %d, want 3", len(got.Segments))
	}
	for _, s := range got.Segments {
		if s.Assessment.RiskLevel != risk.LevelNone {
			t.Errorf("segment %d level = %s, want none", s.Index, s.Assessment.RiskLevel)
		}
	}
}

func TestAnalyzer_DangerousRoute(t *testing.T) {
	a := NewAnalyzer(newEvaluator(always(dangerous()), 4, time.Second), 10)
	got, err := a.Analyze(context.Background(), meridian(3))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(got.DangerZones) != 2 {
		t.Errorf("DangerZones = %d, want 2", len(got.DangerZones))
	}
	if got.Summary.SafetyScore > 20 {
		t.Errorf("SafetyScore = %d, want a low score for a fully dangerous route", got.Summary.SafetyScore)
	}
	if len(got.Summary.Recommendations) == 0 {
		t.Error("dangerous route should carry recommendations")
	}
}

func TestAnalyzer_TooManyWaypoints(t *testing.T) {
	provider := always(warm())
	a := NewAnalyzer(newEvaluator(provider, 4, time.Second), 3)
	_, err := a.Analyze(context.Background(), meridian(4))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Analyze() error = %v, want *ValidationError", err)
	}
	if provider.calls.Load() != 0 {
		t.Error("provider must not be called for invalid input")
	}
}
