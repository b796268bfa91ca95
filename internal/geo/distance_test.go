package geo

import "testing"

func TestDistanceMeters_SanFrancisco(t *testing.T) {
	// pickup (37.7749,-122.4194) to courier (37.7750,-122.4193), ~14m per spec scenario 1.
	d := DistanceMeters(37.7749, -122.4194, 37.7750, -122.4193)
	if d < 10 || d > 20 {
		t.Fatalf("expected ~14m, got %dm", d)
	}
}

func TestDistanceMeters_Equator(t *testing.T) {
	// pickup (0,0) to drop (0,0.01) -> plannedDistance ~1113m per spec scenario 2.
	d := DistanceMeters(0, 0, 0, 0.01)
	if d < 1100 || d > 1130 {
		t.Fatalf("expected ~1113m, got %dm", d)
	}
}

func TestDistanceMeters_SamePoint(t *testing.T) {
	if d := DistanceMeters(10, 10, 10, 10); d != 0 {
		t.Fatalf("expected 0m, got %dm", d)
	}
}

func TestWithinRadius_Boundary(t *testing.T) {
	if !WithinRadius(2000, 2000) {
		t.Fatal("expected distance == radius to pass")
	}
	if WithinRadius(2001, 2000) {
		t.Fatal("expected radius+1 to fail")
	}
}

func TestWithinRadius_Breach(t *testing.T) {
	// pickup (37.7749,-122.4194), courier (37.80,-122.42) ~ 2.8km, radius 2000m.
	d := DistanceMeters(37.7749, -122.4194, 37.80, -122.42)
	if WithinRadius(d, 2000) {
		t.Fatalf("expected radius breach, distance=%dm", d)
	}
}

func TestRoundHalfEven(t *testing.T) {
	cases := map[float64]int64{
		2.5: 2,
		3.5: 4,
		1.4: 1,
		1.6: 2,
		0.5: 0,
	}
	for in, want := range cases {
		if got := RoundHalfEven(in); got != want {
			t.Fatalf("RoundHalfEven(%v) = %d, want %d", in, got, want)
		}
	}
}
