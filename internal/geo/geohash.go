// Package geo provides coordinate types, great-circle distance and geohash
// bucketing used by proximity scoring and diversity caps.
package geo

import "strings"

// DefaultPrecision is the default geohash precision for diversity buckets.
// A precision of 4 characters gives cells of roughly 39 km x 20 km, which is
// close to the size of a county and coarse enough to group nearby listings.
const DefaultPrecision = 4

// MaxPrecision is the longest geohash Encode produces.
const MaxPrecision = 12

// base32 is the geohash base32 alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode returns the geohash of (lat, lng) with precision characters.
// Precision below 1 uses DefaultPrecision; above MaxPrecision is clamped.
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = DefaultPrecision
	}
	precision = min(precision, MaxPrecision)

	lats := interval{-90, 90}
	lngs := interval{-180, 180}

	var b strings.Builder
	b.Grow(precision)
	var idx byte
	// Bits alternate longitude, latitude; five bits make one character.
	for bit := 0; bit < precision*5; bit++ {
		idx <<= 1
		if bit%2 == 0 {
			idx |= lngs.halve(lng)
		} else {
			idx |= lats.halve(lat)
		}
		if bit%5 == 4 {
			b.WriteByte(base32[idx])
			idx = 0
		}
	}
	return b.String()
}

// Bounds returns the south-west and north-east corners of the cell named by
// hash. ok is false for an empty hash or one with characters outside the
// geohash alphabet.
func Bounds(hash string) (sw, ne Point, ok bool) {
	if hash == "" {
		return Point{}, Point{}, false
	}
	lats := interval{-90, 90}
	lngs := interval{-180, 180}
	even := true
	for _, c := range strings.ToLower(hash) {
		v := strings.IndexRune(base32, c)
		if v < 0 {
			return Point{}, Point{}, false
		}
		for shift := 4; shift >= 0; shift-- {
			upper := v>>shift&1 == 1
			if even {
				lngs.narrow(upper)
			} else {
				lats.narrow(upper)
			}
			even = !even
		}
	}
	return Point{Lat: lats.lo, Lng: lngs.lo}, Point{Lat: lats.hi, Lng: lngs.hi}, true
}

// Cell returns the geohash cell containing p at the given precision.
// Returns an empty string for a nil or out-of-range point so callers can
// treat the point as unbucketed.
func Cell(p *Point, precision int) string {
	if p == nil || !p.Valid() {
		return ""
	}
	return Encode(p.Lat, p.Lng, precision)
}

type interval struct{ lo, hi float64 }

// halve keeps the half containing v and returns 1 for the upper half.
func (iv *interval) halve(v float64) byte {
	mid := (iv.lo + iv.hi) / 2
	if v > mid {
		iv.lo = mid
		return 1
	}
	iv.hi = mid
	return 0
}

func (iv *interval) narrow(upper bool) {
	mid := (iv.lo + iv.hi) / 2
	if upper {
		iv.lo = mid
	} else {
		iv.hi = mid
	}
}
