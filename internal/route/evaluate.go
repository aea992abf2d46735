package route

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/black-ice-route-service/internal/client"
	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
)

// WeatherProvider returns current conditions at a point.
type WeatherProvider interface {
	Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error)
}

const (
	DefaultConcurrency    = 6
	DefaultSegmentTimeout = 8 * time.Second
)

// Evaluator fetches weather for each segment midpoint and scores it.
type Evaluator struct {
	provider    WeatherProvider
	engine      *risk.Engine
	concurrency int
	timeout     time.Duration
}

// NewEvaluator returns an Evaluator that runs at most concurrency provider
// calls at once, each bounded by timeout.
func NewEvaluator(provider WeatherProvider, engine *risk.Engine, concurrency int, timeout time.Duration) *Evaluator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultSegmentTimeout
	}
	if engine == nil {
		engine = risk.NewEngine(nil)
	}
	return &Evaluator{provider: provider, engine: engine, concurrency: concurrency, timeout: timeout}
}

// Evaluate returns a copy of segments, in the same order, with each one
// carrying either an assessment or a segment error. A provider failure only
// affects its own segment. If ctx ends first, Evaluate returns ctx.Err() and
// no segments.
func (e *Evaluator) Evaluate(ctx context.Context, segments []Segment) ([]Segment, error) {
	out := make([]Segment, len(segments))
	copy(out, segments)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range out {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return e.evaluateOne(gctx, &out[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type fetchResult struct {
	obs models.WeatherObservation
	err error
}

// evaluateOne fills seg. It only returns an error for aggregation failures,
// which abort the whole evaluation.
func (e *Evaluator) evaluateOne(ctx context.Context, seg *Segment) error {
	logger := observability.LoggerFromContext(ctx)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The provider may ignore cancellation, so the timeout is enforced here too.
	done := make(chan fetchResult, 1)
	go func() {
		obs, err := e.provider.Fetch(callCtx, seg.Midpoint.Lat, seg.Midpoint.Lon)
		done <- fetchResult{obs: obs, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = &client.ProviderError{Kind: client.KindTimeout, Err: callCtx.Err()}
	}

	if res.err != nil {
		kind := client.KindOf(res.err)
		seg.Error = &SegmentError{Kind: string(kind), Message: res.err.Error()}
		logger.Debug("segment weather unavailable",
			zap.Int("segment", seg.Index),
			zap.String("kind", string(kind)),
			zap.Error(res.err))
		return nil
	}

	assessment, err := e.engine.Assess(res.obs)
	if err != nil {
		return fmt.Errorf("assess segment %d: %w", seg.Index, err)
	}
	obs := res.obs
	seg.Weather = &obs
	seg.Assessment = &assessment
	logger.Debug("segment assessed",
		zap.Int("segment", seg.Index),
		zap.String("level", string(assessment.RiskLevel)),
		zap.Float64("probability", assessment.Probability))
	return nil
}
