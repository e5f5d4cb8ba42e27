// Package kinematics computes distances and speeds between timestamped coordinates.
package kinematics

import (
	"math"

	"github.com/golang/geo/s2"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
	EarthRadiusMeters = 6371000.0

	// ReferencePatrolKmh is the walking patrol speed that scores 100 on route efficiency.
	ReferencePatrolKmh = 4.0

	// MovingThresholdKmh separates moving from stationary time.
	MovingThresholdKmh = 1.0
)

// DistanceMeters returns the Haversine great-circle distance between two points in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	if math.IsNaN(lat1) || math.IsNaN(lon1) || math.IsNaN(lat2) || math.IsNaN(lon2) {
		return math.NaN()
	}
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// SpeedKmh converts meters travelled over seconds into km/h. Non-positive durations yield 0.
func SpeedKmh(distanceMeters, seconds float64) float64 {
	if !(seconds > 0) {
		return 0
	}
	return distanceMeters / seconds * 3.6
}

// RouteEfficiency scores average moving speed against the reference patrol speed, in [0,100].
func RouteEfficiency(distanceMeters, timeMovingSeconds float64) float64 {
	if timeMovingSeconds == 0 {
		return 0
	}
	avgKmh := distanceMeters / 1000 / (timeMovingSeconds / 3600)
	score := avgKmh / ReferencePatrolKmh * 100
	return math.Max(0, math.Min(100, score))
}
