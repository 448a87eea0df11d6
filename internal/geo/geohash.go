// Package geo provides coordinates, great-circle distances and walking-time
// estimates, plus geohash encoding for coarse location output.
package geo

import "strings"

// DefaultPrecision is the geohash length attached to listings in API output.
// Six characters is roughly a 1.2 km x 0.6 km cell.
const DefaultPrecision = 6

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Geohash encodes c into a geohash of the given length.
// A precision below 1 falls back to DefaultPrecision.
func Geohash(c Coordinate, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var hash strings.Builder
	hash.Grow(precision)

	bits := 0
	var ch uint

	even := true
	for hash.Len() < precision {
		if even {
			mid := (lngRange[0] + lngRange[1]) / 2
			if c.Lng > mid {
				ch |= 1 << (4 - bits)
				lngRange[0] = mid
			} else {
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if c.Lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		even = !even
		bits++

		if bits == 5 {
			hash.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return hash.String()
}

// GeohashOf returns the geohash of an optional coordinate, or "" when it is
// absent or invalid.
func GeohashOf(c *Coordinate) string {
	if !Located(c) {
		return ""
	}
	return Geohash(*c, DefaultPrecision)
}
