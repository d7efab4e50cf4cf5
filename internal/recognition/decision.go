// Package recognition decides who a detected face belongs to and drives the
// attendance ledger for every match.
package recognition

import (
	"facemark/internal/faceindex"
	"facemark/internal/vector"
)

// UnknownName is reported for faces that match nobody.
const UnknownName = "Unknown"

// DefaultTolerance is the maximum distance accepted as a match.
const DefaultTolerance = 0.5

// Classification is the decision for one face. Confidence is 1 - Distance and
// is not clamped; it goes negative for distances above 1.
type Classification struct {
	OwnerID    string
	Name       string
	Confidence float64
	Distance   float64
	Matched    bool
}

// Classifier applies the nearest-neighbour rule with a fixed tolerance.
type Classifier struct {
	Tolerance float64

	distances func(refs [][]float32, query []float32) []float64
}

// NewClassifier returns a classifier; a non-positive tolerance selects
// DefaultTolerance.
func NewClassifier(tolerance float64) *Classifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Classifier{Tolerance: tolerance, distances: vector.Distances}
}

// Classify finds the closest encoding in snap. An empty snapshot is decided
// without computing any distance.
func (c *Classifier) Classify(snap *faceindex.Snapshot, query []float32) Classification {
	if snap.Empty() {
		return Classification{Name: UnknownName, Confidence: 0}
	}

	idx, best, ok := vector.ArgMin(c.distances(snap.Encodings, query))
	if !ok {
		return Classification{Name: UnknownName, Confidence: 0}
	}

	out := Classification{
		Name:       UnknownName,
		Confidence: 1 - best,
		Distance:   best,
	}
	if best <= c.Tolerance {
		out.Matched = true
		out.OwnerID = snap.OwnerIDs[idx]
		out.Name = snap.Names[idx]
	}
	return out
}

// Classify is a convenience wrapper around a one-off Classifier.
func Classify(snap *faceindex.Snapshot, query []float32, tolerance float64) Classification {
	return NewClassifier(tolerance).Classify(snap, query)
}
