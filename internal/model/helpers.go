package model

import "math"

// Float returns a pointer to v, for optional coordinate fields.
func Float(v float64) *float64 { return &v }

func deref(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
