// Package validation checks risk and route requests before they reach the services.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/route"
)

const maxNameLength = 120

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// WaypointInput is one waypoint as sent by clients. Pointers distinguish a
// missing coordinate from 0.
type WaypointInput struct {
	Lat  *float64 `json:"lat" validate:"required,latitude"`
	Lon  *float64 `json:"lon" validate:"required,longitude"`
	Name string   `json:"name,omitempty" validate:"max=120"`
}

// RouteRequest is the body of a route analysis request.
type RouteRequest struct {
	Waypoints []WaypointInput `json:"waypoints" validate:"required,min=2,dive"`
}

// ToWaypoints converts a validated request into model waypoints.
func (r RouteRequest) ToWaypoints() []models.Waypoint {
	out := make([]models.Waypoint, len(r.Waypoints))
	for i, w := range r.Waypoints {
		out[i] = models.Waypoint{Lat: *w.Lat, Lon: *w.Lon, Name: strings.TrimSpace(w.Name)}
	}
	return out
}

// ValidateRouteRequest returns a *route.ValidationError for the first failing
// field, or nil.
func ValidateRouteRequest(req RouteRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &route.ValidationError{Field: "body", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &route.ValidationError{Field: fieldPath(fe.Namespace()), Reason: reason(fe)}
}

// fieldPath drops the struct name from a validator namespace,
// e.g. "RouteRequest.waypoints[1].lat" -> "waypoints[1].lat".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

// ParseCoordinates parses lat and lon query values.
func ParseCoordinates(latRaw, lonRaw string) (models.Coordinates, error) {
	lat, err := parseFloat("lat", latRaw)
	if err != nil {
		return models.Coordinates{}, err
	}
	lon, err := parseFloat("lon", lonRaw)
	if err != nil {
		return models.Coordinates{}, err
	}
	if lat < -90 || lat > 90 {
		return models.Coordinates{}, &route.ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
	}
	if lon < -180 || lon > 180 {
		return models.Coordinates{}, &route.ValidationError{Field: "lon", Reason: "must be between -180 and 180"}
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

func parseFloat(field, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &route.ValidationError{Field: field, Reason: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v != v {
		return 0, &route.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return v, nil
}
