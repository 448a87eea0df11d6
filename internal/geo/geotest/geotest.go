// Package geotest places coordinates at known distances for tests.
package geotest

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/onnwee/nestscout/internal/geo"
)

// Destination returns the point reached by travelling distanceM meters from
// start along the initial bearing (degrees clockwise from north).
func Destination(start geo.Coordinate, bearingDeg, distanceM float64) geo.Coordinate {
	p := start.LatLng()
	bearing := bearingDeg * math.Pi / 180
	angular := distanceM / geo.EarthRadiusMeters

	lat1 := p.Lat.Radians()
	lng1 := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2),
	)

	ll := s2.LatLng{Lat: s1.Angle(lat2), Lng: s1.Angle(lng2)}.Normalized()
	return geo.Coordinate{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}
}
