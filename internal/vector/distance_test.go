package vector

import (
	"math"
	"testing"
)

func TestEuclidean(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 0},
		{name: "3-4-5 triangle", a: []float32{0, 0}, b: []float32{3, 4}, expected: 5},
		{name: "negative components", a: []float32{-1, -1}, b: []float32{1, 1}, expected: math.Sqrt(8)},
		{name: "empty vectors", a: []float32{}, b: []float32{}, expected: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 2}, expected: math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Euclidean(tt.a, tt.b)
			if math.IsInf(tt.expected, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("Euclidean(%v, %v) = %v, want +Inf", tt.a, tt.b, got)
				}
				return
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Euclidean(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestEuclideanSymmetric(t *testing.T) {
	a := []float32{0.12, -0.4, 0.9, 0.33}
	b := []float32{-0.5, 0.25, 0.1, 0.7}
	if Euclidean(a, b) != Euclidean(b, a) {
		t.Errorf("distance is not symmetric: %v vs %v", Euclidean(a, b), Euclidean(b, a))
	}
}

func TestDistancesKeepsOrder(t *testing.T) {
	refs := [][]float32{{0, 3}, {0, 1}, {0, 2}}
	got := Distances(refs, []float32{0, 0})
	want := []float64{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("distance[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNearest(t *testing.T) {
	refs := [][]float32{{0, 3}, {0, 1}, {0, 2}}
	idx, dist, ok := Nearest(refs, []float32{0, 0})
	if !ok {
		t.Fatal("expected ok")
	}
	if idx != 1 || math.Abs(dist-1) > 1e-9 {
		t.Errorf("Nearest = (%d, %v), want (1, 1)", idx, dist)
	}
}

func TestNearestEmpty(t *testing.T) {
	idx, dist, ok := Nearest(nil, []float32{1, 2})
	if ok || idx != -1 || dist != 0 {
		t.Errorf("Nearest(empty) = (%d, %v, %v), want (-1, 0, false)", idx, dist, ok)
	}
}

func TestArgMinTieBreaksLow(t *testing.T) {
	idx, dist, ok := ArgMin([]float64{0.4, 0.2, 0.2, 0.9})
	if !ok || idx != 1 || dist != 0.2 {
		t.Errorf("ArgMin = (%d, %v, %v), want (1, 0.2, true)", idx, dist, ok)
	}
}
