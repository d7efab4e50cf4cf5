// Package vector implements the distance math used to compare face encodings.
package vector

import "math"

// Euclidean returns the L2 distance between two encodings.
// Encodings of different length are never comparable and yield +Inf.
func Euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Distances returns the distance from query to every reference, in reference order.
func Distances(refs [][]float32, query []float32) []float64 {
	out := make([]float64, len(refs))
	for i, ref := range refs {
		out[i] = Euclidean(ref, query)
	}
	return out
}

// Nearest returns the index and distance of the closest reference.
// ok is false when refs is empty. Ties resolve to the lowest index.
func Nearest(refs [][]float32, query []float32) (index int, distance float64, ok bool) {
	if len(refs) == 0 {
		return -1, 0, false
	}
	return ArgMin(Distances(refs, query))
}

// ArgMin returns the position and value of the smallest distance.
func ArgMin(distances []float64) (index int, distance float64, ok bool) {
	if len(distances) == 0 {
		return -1, 0, false
	}
	index, distance = 0, distances[0]
	for i := 1; i < len(distances); i++ {
		if distances[i] < distance {
			index, distance = i, distances[i]
		}
	}
	return index, distance, true
}
