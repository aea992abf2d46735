package route

import (
	"fmt"
	"math"

	"github.com/kjstillabower/black-ice-route-service/internal/risk"
)

// Safety score weights: peak segment probability and the share of assessed
// segments that are danger zones.
const (
	maxProbabilityWeight = 0.6
	dangerShareWeight    = 0.4
)

// Summary is the route-level rollup.
type Summary struct {
	TotalDistanceKm    float64    `json:"totalDistanceKm"`
	SegmentCount       int        `json:"segmentCount"`
	AssessedSegments   int        `json:"assessedSegments"`
	ErroredSegments    int        `json:"erroredSegmentCount"`
	DangerZoneCount    int        `json:"dangerZoneCount"`
	MaxRiskProbability float64    `json:"maxRiskProbability"`
	MaxRiskLevel       risk.Level `json:"maxRiskLevel"`
	SafetyScore        int        `json:"safetyScore"`
	Recommendations    []string   `json:"recommendations"`
	Warnings           []string   `json:"warnings"`
}

// Summarize scores the route from 0 (most dangerous) to 100 (safe).
// Only assessed segments feed the score; errored segments are reported in
// warnings. A route with no assessed segments scores 0.
func Summarize(segments []Segment, zones []DangerZone, erroredCount int) Summary {
	s := Summary{
		SegmentCount:    len(segments),
		ErroredSegments: erroredCount,
		DangerZoneCount: len(zones),
		MaxRiskLevel:    risk.LevelNone,
		Recommendations: []string{},
		Warnings:        []string{},
	}
	for _, seg := range segments {
		s.TotalDistanceKm += seg.DistanceKm
		if !seg.Resolved() {
			continue
		}
		s.AssessedSegments++
		if seg.Assessment.Probability > s.MaxRiskProbability {
			s.MaxRiskProbability = seg.Assessment.Probability
		}
	}
	s.MaxRiskLevel = risk.LevelFor(s.MaxRiskProbability)

	if s.AssessedSegments == 0 {
		s.SafetyScore = 0
		s.Warnings = append(s.Warnings, fmt.Sprintf(
			"route could not be assessed: weather was unavailable for all %d segments", len(segments)))
		return s
	}

	dangerShare := float64(len(zones)) / float64(s.AssessedSegments) * 100
	penalty := maxProbabilityWeight*s.MaxRiskProbability + dangerShareWeight*dangerShare
	penalty = math.Max(0, math.Min(100, penalty))
	s.SafetyScore = int(math.Round(100 - penalty))

	if erroredCount > 0 {
		s.Warnings = append(s.Warnings, fmt.Sprintf(
			"%d of %d segments could not be assessed; the score covers assessed segments only",
			erroredCount, len(segments)))
	}

	s.Recommendations = recommendationsFor(zones)
	return s
}

// recommendationsFor merges danger-zone advice, most dangerous zone first,
// without duplicates. A route with no danger zones gets an empty list.
func recommendationsFor(zones []DangerZone) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, z := range byRisk(zones) {
		for _, r := range risk.Recommendations(z.RiskLevel) {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
