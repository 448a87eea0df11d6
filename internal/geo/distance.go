package geo

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for every distance in the system.
const EarthRadiusMeters = 6371000.0

// DefaultWalkSpeedKmh is the walking speed assumed when none is given.
const DefaultWalkSpeedKmh = 5.0

// Coordinate is a point in decimal degrees.
// A missing location is represented by a nil *Coordinate.
type Coordinate struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lng float64 `json:"longitude" yaml:"longitude"`
}

// Valid reports whether the coordinate is inside the WGS84 degree ranges.
// NaN components are invalid.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// LatLng converts the coordinate into an s2.LatLng.
func (c Coordinate) LatLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Lat, c.Lng)
}

// Located reports whether c is present and valid.
func Located(c *Coordinate) bool {
	return c != nil && c.Valid()
}

// GreatCircleDistance returns the haversine distance between a and b in meters.
// s2.LatLng.Distance implements the haversine formula on the unit sphere.
func GreatCircleDistance(a, b Coordinate) float64 {
	return a.LatLng().Distance(b.LatLng()).Radians() * EarthRadiusMeters
}

// WalkTimeMinutes converts a distance into walking minutes at speedKmh.
// speedKmh must be positive.
func WalkTimeMinutes(distanceM, speedKmh float64) float64 {
	metersPerMinute := speedKmh * 1000 / 60
	return distanceM / metersPerMinute
}

// AngleForDistance converts a surface distance in meters to a central angle.
func AngleForDistance(distanceM float64) s1.Angle {
	return s1.Angle(distanceM / EarthRadiusMeters)
}
