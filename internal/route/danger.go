package route

import (
	"sort"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
)

// DangerThreshold is the lowest level that makes a segment a danger zone.
const DangerThreshold = risk.LevelModerate

// DangerZone marks a segment whose black-ice risk is at or above DangerThreshold.
type DangerZone struct {
	SegmentIndex    int                `json:"segmentIndex"`
	Location        models.Coordinates `json:"location"`
	Start           models.Waypoint    `json:"startWaypoint"`
	End             models.Waypoint    `json:"endWaypoint"`
	RiskLevel       risk.Level         `json:"riskLevel"`
	Probability     float64            `json:"probability"`
	Recommendations []string           `json:"recommendations"`
}

// ExtractDangerZones returns the danger zones in route order and the number
// of segments that carry an error. Errored segments are never danger zones.
func ExtractDangerZones(segments []Segment) ([]DangerZone, int) {
	zones := []DangerZone{}
	errored := 0
	for _, seg := range segments {
		if seg.Error != nil || !seg.Resolved() {
			errored++
			continue
		}
		if !seg.Assessment.RiskLevel.AtLeast(DangerThreshold) {
			continue
		}
		zones = append(zones, DangerZone{
			SegmentIndex:    seg.Index,
			Location:        seg.Midpoint,
			Start:           seg.Start,
			End:             seg.End,
			RiskLevel:       seg.Assessment.RiskLevel,
			Probability:     seg.Assessment.Probability,
			Recommendations: seg.Assessment.Recommendations,
		})
	}
	return zones, errored
}

// byRisk returns zones ordered most dangerous first, ties in route order.
func byRisk(zones []DangerZone) []DangerZone {
	sorted := make([]DangerZone, len(zones))
	copy(sorted, zones)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	return sorted
}
