package recognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facemark/internal/attendance"
	"facemark/internal/faceclient"
	"facemark/internal/faceindex"
)

type fakeDetector struct {
	detections []faceclient.Detection
	err        error
}

func (f fakeDetector) DetectAndEncode(context.Context, []byte) ([]faceclient.Detection, error) {
	return f.detections, f.err
}

type staticIndex struct {
	snap  *faceindex.Snapshot
	calls int
}

func (s *staticIndex) Current() *faceindex.Snapshot {
	s.calls++
	return s.snap
}

// memLedger is an in-memory Marker with the same once-per-day rule.
type memLedger struct {
	mu    sync.Mutex
	days  map[string]bool
	err   error
	calls []string
}

func (m *memLedger) Mark(_ context.Context, id string, at time.Time) (attendance.MarkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if m.err != nil {
		return attendance.MarkResult{}, m.err
	}
	if m.days == nil {
		m.days = map[string]bool{}
	}
	day := attendance.Day(at, time.UTC)
	key := id + "/" + day
	if m.days[key] {
		return attendance.MarkResult{Outcome: attendance.OutcomeAlreadyMarked}, nil
	}
	m.days[key] = true
	rec := &attendance.Record{EnrolleeID: id, Day: day, MarkedAt: at}
	return attendance.MarkResult{Outcome: attendance.OutcomeMarked, Record: rec}, nil
}

type capturePublisher struct {
	events []MarkEvent
}

func (c *capturePublisher) PublishMark(ev MarkEvent) { c.events = append(c.events, ev) }

func det(enc ...float32) faceclient.Detection {
	return faceclient.Detection{Box: faceclient.Box{Top: 1, Right: 2, Bottom: 3, Left: 4}, Encoding: enc}
}

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func aliceBobIndex() *staticIndex {
	return &staticIndex{snap: snapshot(
		[]string{"alice", "bob"},
		[]string{"Alice", "Bob"},
		[]float32{0, 0},
		[]float32{10, 10},
	)}
}

func TestRecognizeMarksOncePerDay(t *testing.T) {
	ledger := &memLedger{}
	pub := &capturePublisher{}
	r := NewRecognizer(fakeDetector{detections: []faceclient.Detection{det(0.1, 0)}}, aliceBobIndex(), ledger,
		Options{Tolerance: 0.5, Clock: func() time.Time { return fixedNow }, Publisher: pub})

	first, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d results", len(first))
	}
	if first[0].Status != StatusMarked || first[0].Name != "Alice"+MarkedSuffix || first[0].EnrolleeID != "alice" {
		t.Errorf("first = %+v", first[0])
	}
	if first[0].Confidence != "90.00%" {
		t.Errorf("Confidence = %q, want 90.00%%", first[0].Confidence)
	}
	if first[0].Location != [4]int{1, 2, 3, 4} {
		t.Errorf("Location = %v", first[0].Location)
	}

	second, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Status != StatusAlreadyMarked || second[0].Name != "Alice" {
		t.Errorf("second = %+v", second[0])
	}
	if len(pub.events) != 1 || pub.events[0].EnrolleeID != "alice" || pub.events[0].Day != "2026-10-18" {
		t.Errorf("published events = %+v", pub.events)
	}
}

func TestRecognizeUnknownSkipsLedger(t *testing.T) {
	ledger := &memLedger{}
	r := NewRecognizer(fakeDetector{detections: []faceclient.Detection{det(5, 5)}}, aliceBobIndex(), ledger, Options{})

	got, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Status != StatusUnknown || got[0].Name != UnknownName || got[0].EnrolleeID != "" {
		t.Errorf("got %+v", got[0])
	}
	if len(ledger.calls) != 0 {
		t.Errorf("ledger called %d times for an unknown face", len(ledger.calls))
	}
}

func TestRecognizeMultipleFacesKeepOrderAndOneSnapshot(t *testing.T) {
	idx := aliceBobIndex()
	ledger := &memLedger{}
	dets := []faceclient.Detection{det(10, 10.1), det(50, 50), det(0, 0.2)}
	r := NewRecognizer(fakeDetector{detections: dets}, idx, ledger, Options{Clock: func() time.Time { return fixedNow }})

	got, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	wantOwners := []string{"bob", "", "alice"}
	for i, want := range wantOwners {
		if got[i].EnrolleeID != want {
			t.Errorf("result %d owner = %q, want %q", i, got[i].EnrolleeID, want)
		}
	}
	if idx.calls != 1 {
		t.Errorf("snapshot fetched %d times, want 1", idx.calls)
	}
}

func TestRecognizeNoFaces(t *testing.T) {
	r := NewRecognizer(fakeDetector{}, aliceBobIndex(), &memLedger{}, Options{})
	got, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestRecognizeUnreadableImage(t *testing.T) {
	idx := aliceBobIndex()
	ledger := &memLedger{}
	r := NewRecognizer(fakeDetector{err: faceclient.ErrUnreadableImage}, idx, ledger, Options{})

	_, err := r.Recognize(context.Background(), []byte("garbage"))
	if !errors.Is(err, faceclient.ErrUnreadableImage) {
		t.Fatalf("err = %v, want ErrUnreadableImage", err)
	}
	if idx.calls != 0 || len(ledger.calls) != 0 {
		t.Errorf("index calls %d, ledger calls %d; want none", idx.calls, len(ledger.calls))
	}
}

func TestRecognizeLedgerFailureKeepsClassification(t *testing.T) {
	ledger := &memLedger{err: errors.New("db down")}
	r := NewRecognizer(fakeDetector{detections: []faceclient.Detection{det(0, 0)}}, aliceBobIndex(), ledger, Options{})

	got, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("ledger failure must not fail the request: %v", err)
	}
	if got[0].Status != StatusMarkFailed || got[0].Name != "Alice" || got[0].EnrolleeID != "alice" {
		t.Errorf("got %+v", got[0])
	}
}

func TestRecognizeEmptyIndex(t *testing.T) {
	idx := &staticIndex{snap: &faceindex.Snapshot{}}
	ledger := &memLedger{}
	r := NewRecognizer(fakeDetector{detections: []faceclient.Detection{det(0, 0)}}, idx, ledger, Options{})

	got, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Name != UnknownName || got[0].Confidence != "0.00%" {
		t.Errorf("got %+v", got[0])
	}
	if len(ledger.calls) != 0 {
		t.Error("ledger called with an empty index")
	}
}
