package model

import "math"

const DefaultZoneSize = 8

// FarZoneDistance is reported between zones on different planes.
const FarZoneDistance = math.MaxInt32

// Zone is a coarse square bucket of tiles. It is only used to judge whether an
// observation can be trusted, never to decide identity.
type Zone struct {
	X     int
	Y     int
	Plane int
}

func ZoneOf(c Coordinate, size int) Zone {
	if size <= 0 {
		size = DefaultZoneSize
	}
	return Zone{X: FloorDiv(c.X, size), Y: FloorDiv(c.Y, size), Plane: c.Plane}
}

// MaxDistanceTo is the Chebyshev distance in zones. Symmetric.
func (z Zone) MaxDistanceTo(o Zone) int {
	if z.Plane != o.Plane {
		return FarZoneDistance
	}
	return max(AbsInt(z.X-o.X), AbsInt(z.Y-o.Y))
}
