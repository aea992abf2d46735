package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
)

// Level is the categorical risk level derived from probability.
type Level string

const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelExtreme  Level = "extreme"
)

// Rank orders levels from none (0) to extreme (4).
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelModerate:
		return 2
	case LevelHigh:
		return 3
	case LevelExtreme:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other or worse.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// LevelFor maps a probability to a level. Lower bounds are inclusive.
func LevelFor(probability float64) Level {
	switch {
	case probability >= 80:
		return LevelExtreme
	case probability >= 55:
		return LevelHigh
	case probability >= 30:
		return LevelModerate
	case probability >= 10:
		return LevelLow
	default:
		return LevelNone
	}
}

// SubstitutionPenalty is subtracted from confidence per substituted factor.
const SubstitutionPenalty = 15.0

const weightTolerance = 1e-6

// Assessment is the immutable result of scoring one observation.
type Assessment struct {
	RiskLevel       Level     `json:"riskLevel"`
	Probability     float64   `json:"probability"`
	Confidence      float64   `json:"confidence"`
	Factors         []Factor  `json:"factors"`
	Recommendations []string  `json:"recommendations"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// AggregationError reports a broken invariant in the factor set. It indicates a
// programming error, not bad input.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string {
	return "risk aggregation: " + e.Reason
}

// Aggregate combines factors into an Assessment stamped with evaluatedAt.
func Aggregate(factors []Factor, evaluatedAt time.Time) (Assessment, error) {
	if err := checkFactors(factors); err != nil {
		return Assessment{}, err
	}

	var probability float64
	confidence := 100.0
	for _, f := range factors {
		probability += f.RawScore * f.Weight
		if f.Substituted {
			confidence -= SubstitutionPenalty
		}
	}
	probability = math.Max(0, math.Min(100, probability))
	confidence = math.Max(0, confidence)

	level := LevelFor(probability)
	out := make([]Factor, len(factors))
	copy(out, factors)
	return Assessment{
		RiskLevel:       level,
		Probability:     probability,
		Confidence:      confidence,
		Factors:         out,
		Recommendations: Recommendations(level),
		EvaluatedAt:     evaluatedAt,
	}, nil
}

func checkFactors(factors []Factor) error {
	if len(factors) == 0 {
		return &AggregationError{Reason: "no factors"}
	}
	seen := make(map[FactorKind]bool, len(factors))
	var sum float64
	for _, f := range factors {
		if Weight(f.Name) == 0 {
			return &AggregationError{Reason: fmt.Sprintf("unknown factor %q", f.Name)}
		}
		if seen[f.Name] {
			return &AggregationError{Reason: fmt.Sprintf("duplicate factor %q", f.Name)}
		}
		seen[f.Name] = true
		if f.RawScore < 0 || f.RawScore > 100 || math.IsNaN(f.RawScore) {
			return &AggregationError{Reason: fmt.Sprintf("factor %q score %v outside [0,100]", f.Name, f.RawScore)}
		}
		if f.Weight < 0 || f.Weight > 1 {
			return &AggregationError{Reason: fmt.Sprintf("factor %q weight %v outside [0,1]", f.Name, f.Weight)}
		}
		sum += f.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return &AggregationError{Reason: fmt.Sprintf("weights sum to %v, want 1", sum)}
	}
	return nil
}

// Engine scores observations. The zero value stamps assessments with time.Now.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine using now as its clock; nil means time.Now.
func NewEngine(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Assess evaluates and aggregates obs.
func (e *Engine) Assess(obs models.WeatherObservation) (Assessment, error) {
	now := time.Now
	if e != nil && e.now != nil {
		now = e.now
	}
	return Aggregate(EvaluateFactors(obs), now().UTC())
}
