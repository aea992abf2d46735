package route

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
)

// DefaultMaxWaypoints bounds a single request so one route cannot monopolize
// the provider quota.
const DefaultMaxWaypoints = 100

// Analysis is the full result for one route.
type Analysis struct {
	Segments    []Segment    `json:"segments"`
	DangerZones []DangerZone `json:"dangerZones"`
	Summary     Summary      `json:"routeSummary"`
}

// Analyzer chains segmentation, evaluation, danger-zone extraction and scoring.
type Analyzer struct {
	evaluator    *Evaluator
	maxWaypoints int
}

func NewAnalyzer(evaluator *Evaluator, maxWaypoints int) *Analyzer {
	if maxWaypoints <= 0 {
		maxWaypoints = DefaultMaxWaypoints
	}
	return &Analyzer{evaluator: evaluator, maxWaypoints: maxWaypoints}
}

// Analyze evaluates the route through waypoints. It returns a *ValidationError
// for bad input, ctx.Err() if the caller gives up, and otherwise a complete
// Analysis even when some or all segments could not be assessed.
func (a *Analyzer) Analyze(ctx context.Context, waypoints []models.Waypoint) (Analysis, error) {
	if len(waypoints) > a.maxWaypoints {
		return Analysis{}, &ValidationError{
			Field:  "waypoints",
			Reason: fmt.Sprintf("at most %d waypoints are allowed, got %d", a.maxWaypoints, len(waypoints)),
		}
	}
	segments, err := BuildSegments(waypoints)
	if err != nil {
		return Analysis{}, err
	}

	evaluated, err := a.evaluator.Evaluate(ctx, segments)
	if err != nil {
		return Analysis{}, err
	}

	zones, errored := ExtractDangerZones(evaluated)
	summary := Summarize(evaluated, zones, errored)

	observability.LoggerFromContext(ctx).Info("route analyzed",
		zap.Int("segments", summary.SegmentCount),
		zap.Int("errored_segments", summary.ErroredSegments),
		zap.Int("danger_zones", summary.DangerZoneCount),
		zap.Float64("distance_km", summary.TotalDistanceKm),
		zap.Int("safety_score", summary.SafetyScore))

	return Analysis{Segments: evaluated, DangerZones: zones, Summary: summary}, nil
}
