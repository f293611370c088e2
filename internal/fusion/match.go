package fusion

import (
	"math"

	"github.com/antzucaro/matchr"

	"github.com/avockley/parlance/pkg/provider/search"
)

// fuzzyNameThreshold is the Jaro-Winkler similarity above which two place
// names at the same address are treated as the same business. Tuned so that
// "Joe's Pizza" matches "Joes Pizza" but "Joe's Pizza" does not match
// "Johnny's Pizza".
const fuzzyNameThreshold = 0.92

// fuzzyLookup scans existing candidates for a record that is the same place
// as (name, address) despite a spelling difference: identical normalized
// address plus a Jaro-Winkler name similarity above fuzzyNameThreshold.
// Exact-key hits are handled by the caller before this is consulted.
func fuzzyLookup(out []Candidate, name, address string) (int, bool) {
	normAddr := normalize(address)
	if normAddr == "" {
		return 0, false
	}
	normName := normalize(name)
	for i := range out {
		if normalize(out[i].Address) != normAddr {
			continue
		}
		if matchr.JaroWinkler(normName, normalize(out[i].Name), false) >= fuzzyNameThreshold {
			return i, true
		}
	}
	return 0, false
}

// earthRadiusMeters is the mean Earth radius used by Haversine.
const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two WGS84
// coordinates.
func Haversine(a, b search.Location) float64 {
	const degToRad = math.Pi / 180

	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
