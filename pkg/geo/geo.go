// Package geo provides coordinate types and great-circle distance math.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate represents a geographic point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that latitude is within [-90, 90] and longitude within [-180, 180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoordinate, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// String formats the coordinate as "lat,lon".
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// DistanceMeters returns the haversine great-circle distance between a and b in meters.
// The result is symmetric in its arguments and zero for identical points.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*sinDLon*sinDLon
	// Rounding can push h just outside [0, 1] near antipodes.
	h = math.Min(1, math.Max(0, h))

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
