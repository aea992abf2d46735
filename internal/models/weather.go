package models

import (
	"math"
	"time"
)

// Coordinates is a WGS84 point in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within |lat| <= 90 and |lon| <= 180.
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return math.Abs(c.Lat) <= 90 && math.Abs(c.Lon) <= 180
}

// Waypoint is a caller-supplied route point. Order within a route is significant
// and duplicates are allowed.
type Waypoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name,omitempty"`
}

// Coordinates returns the waypoint position.
func (w Waypoint) Coordinates() Coordinates {
	return Coordinates{Lat: w.Lat, Lon: w.Lon}
}

// WeatherObservation is a point-in-time weather snapshot from a provider.
// A nil measurement means the provider did not report it.
type WeatherObservation struct {
	Temperature   *float64    `json:"temperature,omitempty"`   // °C
	Humidity      *float64    `json:"humidity,omitempty"`      // %
	DewPoint      *float64    `json:"dewPoint,omitempty"`      // °C
	WindSpeed     *float64    `json:"windSpeed,omitempty"`     // m/s
	Precipitation *float64    `json:"precipitation,omitempty"` // mm/h
	CloudCover    *float64    `json:"cloudCover,omitempty"`    // %
	Visibility    *float64    `json:"visibility,omitempty"`    // m
	ObservedAt    time.Time   `json:"observedAt"`
	Location      Coordinates `json:"location"`
}

// Float returns a pointer to v. NaN and ±Inf are reported as unset.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
