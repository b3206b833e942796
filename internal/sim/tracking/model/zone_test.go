package model

import "testing"

func TestZoneOf_NegativeCoordinates(t *testing.T) {
	z := ZoneOf(Coordinate{X: -1, Y: 7, Plane: 0}, 8)
	if z.X != -1 || z.Y != 0 {
		t.Fatalf("unexpected zone: %+v", z)
	}
	z = ZoneOf(Coordinate{X: -8, Y: 8, Plane: 1}, 8)
	if z.X != -1 || z.Y != 1 || z.Plane != 1 {
		t.Fatalf("unexpected zone: %+v", z)
	}
}

func TestZoneMaxDistance(t *testing.T) {
	cases := []struct {
		a, b Zone
		want int
	}{
		{Zone{0, 0, 0}, Zone{0, 0, 0}, 0},
		{Zone{0, 0, 0}, Zone{3, -1, 0}, 3},
		{Zone{-2, 5, 0}, Zone{1, 1, 0}, 4},
		{Zone{0, 0, 0}, Zone{0, 0, 1}, FarZoneDistance},
	}
	for _, tc := range cases {
		if got := tc.a.MaxDistanceTo(tc.b); got != tc.want {
			t.Fatalf("%+v -> %+v: got %d want %d", tc.a, tc.b, got, tc.want)
		}
		if got := tc.b.MaxDistanceTo(tc.a); got != tc.want {
			t.Fatalf("distance not symmetric for %+v, %+v", tc.a, tc.b)
		}
	}
}
