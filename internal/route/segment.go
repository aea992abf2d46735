// Package route splits a waypoint list into segments, scores each segment's
// midpoint for black ice, and summarizes the route.
package route

import (
	"fmt"
	"math"

	"github.com/umahmood/haversine"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/risk"
)

// MinWaypoints is the smallest route that can be segmented.
const MinWaypoints = 2

// Segment is the stretch between two consecutive waypoints. After evaluation
// exactly one of Assessment and Error is set.
type Segment struct {
	Index      int                        `json:"index"`
	Start      models.Waypoint            `json:"startWaypoint"`
	End        models.Waypoint            `json:"endWaypoint"`
	DistanceKm float64                    `json:"distanceKm"`
	Midpoint   models.Coordinates         `json:"midpoint"`
	Weather    *models.WeatherObservation `json:"weather,omitempty"`
	Assessment *risk.Assessment           `json:"assessment,omitempty"`
	Error      *SegmentError              `json:"error,omitempty"`
}

// SegmentError records why a segment could not be assessed.
type SegmentError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Resolved reports whether the segment carries an assessment.
func (s Segment) Resolved() bool {
	return s.Assessment != nil
}

// BuildSegments returns len(waypoints)-1 segments in route order.
// Coincident consecutive waypoints give a zero-length segment, not an error.
func BuildSegments(waypoints []models.Waypoint) ([]Segment, error) {
	if len(waypoints) < MinWaypoints {
		return nil, &ValidationError{
			Field:  "waypoints",
			Reason: fmt.Sprintf("at least %d waypoints are required, got %d", MinWaypoints, len(waypoints)),
		}
	}
	for i, wp := range waypoints {
		if !wp.Coordinates().Valid() {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("waypoints[%d]", i),
				Reason: fmt.Sprintf("coordinates (%v, %v) out of range", wp.Lat, wp.Lon),
			}
		}
	}

	segments := make([]Segment, 0, len(waypoints)-1)
	for i := 0; i < len(waypoints)-1; i++ {
		start, end := waypoints[i], waypoints[i+1]
		_, km := haversine.Distance(
			haversine.Coord{Lat: start.Lat, Lon: start.Lon},
			haversine.Coord{Lat: end.Lat, Lon: end.Lon},
		)
		segments = append(segments, Segment{
			Index:      i,
			Start:      start,
			End:        end,
			DistanceKm: km,
			Midpoint:   midpoint(start.Coordinates(), end.Coordinates()),
		})
	}
	return segments, nil
}

// midpoint is the great-circle midpoint of a and b.
func midpoint(a, b models.Coordinates) models.Coordinates {
	if a == b {
		return a
	}
	lat1, lon1 := radians(a.Lat), radians(a.Lon)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	bx := math.Cos(lat2) * math.Cos(dLon)
	by := math.Cos(lat2) * math.Sin(dLon)
	lat := math.Atan2(math.Sin(lat1)+math.Sin(lat2), math.Hypot(math.Cos(lat1)+bx, by))
	lon := lon1 + math.Atan2(by, math.Cos(lat1)+bx)

	return models.Coordinates{Lat: degrees(lat), Lon: normalizeLon(degrees(lon))}
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+540, 360) - 180
	if lon == -180 {
		return 180
	}
	return lon
}
