package tracking

import (
	"math"
	"testing"
)

func TestHaversineZeroDistance(t *testing.T) {
	if d := Haversine(51.5007, -0.1246, 51.5007, -0.1246); d != 0 {
		t.Errorf("identical points should be 0 m apart, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Westminster Bridge to the London Eye, roughly 320 m
	d := Haversine(51.5007, -0.1246, 51.5033, -0.1196)
	if d < 280 || d > 360 {
		t.Errorf("expected roughly 320 m, got %f", d)
	}
}

func TestHaversineSmallDisplacement(t *testing.T) {
	// 0.0001 degrees of latitude is about 11.1 m anywhere on Earth
	d := Haversine(51.5, -0.12, 51.5001, -0.12)
	if math.Abs(d-11.12) > 0.1 {
		t.Errorf("expected about 11.12 m, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := Haversine(51.5, -0.12, 48.8566, 2.3522)
	b := Haversine(48.8566, 2.3522, 51.5, -0.12)
	if math.Abs(a-b) > 1e-6 {
		t.Errorf("distance should be symmetric: %f vs %f", a, b)
	}
}
