package geo

import (
	"math"

	"github.com/example/rickshaw-rides/internal/models"
)

// ReviewDistanceMeters is the drop accuracy cutoff: within it a ride
// auto-completes, beyond it the ride is parked for manual review.
const ReviewDistanceMeters = 100.0

// DistanceMeters is the great-circle distance between two coordinates on a
// spherical Earth.
func DistanceMeters(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// ScoreForDistance maps a drop distance in meters to a reward in [0,10].
// Breakpoints are policy: exact match earns 10, decay to a floor of 8
// through 50 m, a flat 5 through 100 m, nothing beyond.
func ScoreForDistance(d float64) int {
	switch {
	case d <= 0:
		return 10
	case d <= 50:
		s := 10 - int(math.Floor(d/10))
		if s < 8 {
			s = 8
		}
		return s
	case d <= ReviewDistanceMeters:
		return 5
	default:
		return 0
	}
}
