package geofence

import (
	"sync"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"guardwatch/internal/kinematics"
)

// Zone is a circular geofence assigned to a set of guards.
type Zone struct {
	Name    string   `yaml:"name" json:"name"`
	Lat     float64  `yaml:"lat" json:"lat"`
	Lng     float64  `yaml:"lng" json:"lng"`
	RadiusM float64  `yaml:"radiusM" json:"radiusM"`
	Guards  []string `yaml:"guards" json:"guards"`

	cap s2.Cap
}

// Contains reports whether the point lies within the zone.
func (z *Zone) Contains(lat, lng float64) bool {
	return z.cap.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng)))
}

// Zones evaluates guard positions against their assigned zones.
// Exits are edge-triggered: a guard outside a zone is reported once until it re-enters.
type Zones struct {
	byGuard map[string][]*Zone

	mu      sync.Mutex
	outside map[string]map[*Zone]bool // guard -> zone -> currently outside
}

// NewZones indexes zones by assigned guard. Zones with a non-positive radius are ignored.
func NewZones(zones []Zone) *Zones {
	zs := &Zones{byGuard: map[string][]*Zone{}, outside: map[string]map[*Zone]bool{}}
	for i := range zones {
		z := zones[i]
		if z.RadiusM <= 0 {
			continue
		}
		center := s2.PointFromLatLng(s2.LatLngFromDegrees(z.Lat, z.Lng))
		z.cap = s2.CapFromCenterAngle(center, s1.Angle(z.RadiusM/kinematics.EarthRadiusMeters))
		zp := &z
		for _, g := range z.Guards {
			zs.byGuard[g] = append(zs.byGuard[g], zp)
		}
	}
	return zs
}

// Assigned returns the zones a guard is expected to stay within.
func (zs *Zones) Assigned(guardID string) []Zone {
	out := make([]Zone, 0, len(zs.byGuard[guardID]))
	for _, z := range zs.byGuard[guardID] {
		out = append(out, *z)
	}
	return out
}

// Observe records the guard position and returns the zones it has just left.
func (zs *Zones) Observe(guardID string, lat, lng float64) []Zone {
	assigned := zs.byGuard[guardID]
	if len(assigned) == 0 {
		return nil
	}
	zs.mu.Lock()
	defer zs.mu.Unlock()
	state := zs.outside[guardID]
	if state == nil {
		state = map[*Zone]bool{}
		zs.outside[guardID] = state
	}
	var exited []Zone
	for _, z := range assigned {
		out := !z.Contains(lat, lng)
		if out && !state[z] {
			exited = append(exited, *z)
		}
		state[z] = out
	}
	return exited
}
