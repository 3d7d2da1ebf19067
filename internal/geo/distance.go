// Package geo provides coordinate acquisition and great-circle distance checks.
package geo

import (
	"fmt"
	"math"

	"github.com/sitepatrol/backend/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// DefaultProximityToleranceMeters is the default maximum acceptable distance
// between the actual and expected capture coordinates. Callers override it
// through configuration; the formula itself never assumes it.
const DefaultProximityToleranceMeters = 100.0

// DistanceMeters returns the haversine great-circle distance (meters) between
// two WGS84 lat/lng points (degrees).
func DistanceMeters(a, b models.Coordinate) float64 {
	φ1 := a.Latitude * math.Pi / 180.0
	φ2 := b.Latitude * math.Pi / 180.0
	dφ := (b.Latitude - a.Latitude) * math.Pi / 180.0
	dλ := (b.Longitude - a.Longitude) * math.Pi / 180.0

	sinDφ := math.Sin(dφ / 2)
	sinDλ := math.Sin(dλ / 2)

	h := sinDφ*sinDφ + math.Cos(φ1)*math.Cos(φ2)*sinDλ*sinDλ
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// ProximityResult is the outcome of a proximity validation.
type ProximityResult struct {
	Valid          bool   `json:"valid"`
	DistanceMeters int    `json:"distance_meters"`
	Message        string `json:"message"`
}

// ValidateProximity judges whether actual lies within maxDistanceMeters of
// expected along the great circle.
func ValidateProximity(actual, expected models.Coordinate, maxDistanceMeters float64) ProximityResult {
	d := DistanceMeters(actual, expected)
	rounded := int(math.Round(d))
	if d <= maxDistanceMeters {
		return ProximityResult{
			Valid:          true,
			DistanceMeters: rounded,
			Message:        fmt.Sprintf("within %.0fm of expected location (%dm away)", maxDistanceMeters, rounded),
		}
	}
	return ProximityResult{
		Valid:          false,
		DistanceMeters: rounded,
		Message:        fmt.Sprintf("%dm from expected location, tolerance is %.0fm", rounded, maxDistanceMeters),
	}
}
