package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/black-ice-route-service/internal/client"
	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
)

// OutcomeRecorder receives provider outcomes for health reporting.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// LocationRisk is the assessment for a single point together with the
// weather it was derived from.
type LocationRisk struct {
	Location models.Coordinates        `json:"location"`
	Weather  models.WeatherObservation `json:"weather"`
	risk.Assessment
}

// RiskService answers point and route risk requests.
type RiskService struct {
	weather  route.WeatherProvider
	engine   *risk.Engine
	analyzer *route.Analyzer
	outcomes OutcomeRecorder
}

// NewRiskService creates a RiskService. outcomes may be nil.
func NewRiskService(weather route.WeatherProvider, engine *risk.Engine, analyzer *route.Analyzer, outcomes OutcomeRecorder) *RiskService {
	return &RiskService{weather: weather, engine: engine, analyzer: analyzer, outcomes: outcomes}
}

// AssessLocation scores black-ice risk at (lat, lon). It returns a
// *route.ValidationError for bad coordinates and a *client.ProviderError when
// weather is unavailable.
func (s *RiskService) AssessLocation(ctx context.Context, lat, lon float64) (LocationRisk, error) {
	point := models.Coordinates{Lat: lat, Lon: lon}
	if !point.Valid() {
		return LocationRisk{}, &route.ValidationError{
			Field:  "coordinates",
			Reason: fmt.Sprintf("(%v, %v) out of range", lat, lon),
		}
	}

	obs, err := s.weather.Fetch(ctx, lat, lon)
	if err != nil {
		s.recordError()
		return LocationRisk{}, fmt.Errorf("weather at %v,%v: %w", lat, lon, err)
	}
	s.recordSuccess()

	assessment, err := s.engine.Assess(obs)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("risk aggregation failed", zap.Error(err))
		return LocationRisk{}, err
	}
	observability.RiskAssessmentsTotal.WithLabelValues(string(assessment.RiskLevel)).Inc()
	return LocationRisk{Location: point, Weather: obs, Assessment: assessment}, nil
}

// AnalyzeRoute runs a route analysis and records its outcome.
func (s *RiskService) AnalyzeRoute(ctx context.Context, waypoints []models.Waypoint) (route.Analysis, error) {
	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, waypoints)
	observability.RouteAnalysisDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		var verr *route.ValidationError
		var aerr *risk.AggregationError
		switch {
		case errors.As(err, &verr):
			outcome = "invalid"
		case ctx.Err() != nil:
			outcome = "cancelled"
		case errors.As(err, &aerr):
			observability.LoggerFromContext(ctx).Error("risk aggregation failed", zap.Error(err))
		}
		observability.RouteAnalysesTotal.WithLabelValues(outcome).Inc()
		return route.Analysis{}, err
	}

	for _, seg := range analysis.Segments {
		if seg.Error != nil {
			observability.RouteSegmentErrorsTotal.WithLabelValues(seg.Error.Kind).Inc()
			s.recordError()
			continue
		}
		observability.RiskAssessmentsTotal.WithLabelValues(string(seg.Assessment.RiskLevel)).Inc()
		s.recordSuccess()
	}
	observability.RouteSegments.Observe(float64(len(analysis.Segments)))
	observability.RouteDangerZones.Observe(float64(len(analysis.DangerZones)))

	outcome := routeOutcome(analysis.Summary)
	observability.RouteAnalysesTotal.WithLabelValues(outcome).Inc()
	if outcome != "success" {
		observability.LoggerFromContext(ctx).Warn("route analysis degraded",
			zap.String("outcome", outcome),
			zap.Int("errored_segments", analysis.Summary.ErroredSegments),
			zap.Strings("warnings", analysis.Summary.Warnings))
	}
	return analysis, nil
}

func routeOutcome(s route.Summary) string {
	switch {
	case s.AssessedSegments == 0:
		return "unassessable"
	case s.ErroredSegments > 0:
		return "partial"
	default:
		return "success"
	}
}

// IsUnavailable reports whether err means weather could not be obtained in time.
func IsUnavailable(err error) bool {
	var pe *client.ProviderError
	return errors.As(err, &pe) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *RiskService) recordSuccess() {
	if s.outcomes != nil {
		s.outcomes.RecordSuccess()
	}
}

func (s *RiskService) recordError() {
	if s.outcomes != nil {
		s.outcomes.RecordError()
	}
}
