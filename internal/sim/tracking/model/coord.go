package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate is a world tile position. Plane is the floor level.
type Coordinate struct {
	X     int
	Y     int
	Plane int
}

func (c Coordinate) ToArray() [3]int { return [3]int{c.X, c.Y, c.Plane} }

func CoordinateFromArray(a [3]int) Coordinate {
	return Coordinate{X: a[0], Y: a[1], Plane: a[2]}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d,%d,%d", c.X, c.Y, c.Plane)
}

func ParseCoordinate(s string) (Coordinate, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Coordinate{}, false
	}
	x, err1 := strconv.Atoi(parts[0])
	y, err2 := strconv.Atoi(parts[1])
	p, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Coordinate{}, false
	}
	return Coordinate{X: x, Y: y, Plane: p}, true
}

// Less orders coordinates by plane, then y, then x.
func (c Coordinate) Less(o Coordinate) bool {
	if c.Plane != o.Plane {
		return c.Plane < o.Plane
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Chebyshev returns the tile distance between a and b on the same plane.
func Chebyshev(a, b Coordinate) int {
	return max(AbsInt(a.X-b.X), AbsInt(a.Y-b.Y))
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
