package faceindex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facemark/internal/attendance"
	"facemark/internal/queue"
)

type stubLoader struct {
	mu      sync.Mutex
	entries []attendance.IndexEntry
	err     error
	calls   int
}

func (s *stubLoader) LoadFaceIndex(context.Context) ([]attendance.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]attendance.IndexEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *stubLoader) set(entries []attendance.IndexEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.err = err
}

func (s *stubLoader) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func entry(id, name string, enc ...float32) attendance.IndexEntry {
	return attendance.IndexEntry{EnrolleeID: id, Name: name, Encoding: enc}
}

func TestNewStartsEmpty(t *testing.T) {
	c := New(&stubLoader{}, nil)
	snap := c.Current()
	if snap == nil || !snap.Empty() || snap.Generation != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestRebuildBuildsParallelSlices(t *testing.T) {
	loader := &stubLoader{entries: []attendance.IndexEntry{
		entry("a", "Alice", 0, 0),
		entry("a", "Alice", 0.1, 0),
		entry("b", "Bob", 1, 1),
	}}
	c := New(loader, nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := c.Current()
	if snap.Len() != 3 || len(snap.OwnerIDs) != 3 || len(snap.Names) != 3 {
		t.Fatalf("slice lengths differ: %d %d %d", len(snap.Encodings), len(snap.OwnerIDs), len(snap.Names))
	}
	if snap.OwnerIDs[2] != "b" || snap.Names[2] != "Bob" || snap.Encodings[2][0] != 1 {
		t.Errorf("row 2 = %s %s %v", snap.OwnerIDs[2], snap.Names[2], snap.Encodings[2])
	}
	if snap.Generation != 1 {
		t.Errorf("Generation = %d, want 1", snap.Generation)
	}
}

func TestRebuildEmptyStore(t *testing.T) {
	c := New(&stubLoader{}, nil)
	if err := c.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.Current().Empty() {
		t.Error("expected empty snapshot")
	}
}

func TestRebuildFailureKeepsPreviousSnapshot(t *testing.T) {
	loader := &stubLoader{entries: []attendance.IndexEntry{entry("a", "Alice", 0, 0)}}
	c := New(loader, nil)
	ctx := context.Background()
	if err := c.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	before := c.Current()

	boom := errors.New("store offline")
	loader.set(nil, boom)
	err := c.Rebuild(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Rebuild error = %v, want wrapped %v", err, boom)
	}
	if c.Current() != before {
		t.Error("failed rebuild replaced the snapshot")
	}

	loader.set([]attendance.IndexEntry{entry("b", "Bob", 1, 1)}, nil)
	if err := c.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.Current(); got.Generation != before.Generation+1 || got.Names[0] != "Bob" {
		t.Errorf("after recovery: generation %d names %v", got.Generation, got.Names)
	}
}

// Readers running alongside rebuilds must only ever see complete snapshots:
// every generation here is homogeneous, so a torn read shows up as mixed
// owners or mismatched slice lengths.
func TestRebuildAtomicUnderConcurrentReaders(t *testing.T) {
	const size = 50
	build := func(owner string) []attendance.IndexEntry {
		out := make([]attendance.IndexEntry, size)
		for i := range out {
			out[i] = entry(owner, owner, float32(i))
		}
		return out
	}
	loader := &stubLoader{entries: build("gen-a")}
	c := New(loader, nil)
	ctx := context.Background()
	if err := c.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastGen uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Current()
				if len(snap.Encodings) != len(snap.OwnerIDs) || len(snap.OwnerIDs) != len(snap.Names) {
					errs <- "slice lengths differ"
					return
				}
				if snap.Generation < lastGen {
					errs <- "generation went backwards"
					return
				}
				lastGen = snap.Generation
				for _, owner := range snap.OwnerIDs {
					if owner != snap.OwnerIDs[0] {
						errs <- "mixed generations in one snapshot"
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			loader.set(build("gen-b"), nil)
		} else {
			loader.set(build("gen-a"), nil)
		}
		if err := c.Rebuild(ctx); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	if got := c.Current().Generation; got != 101 {
		t.Errorf("Generation = %d, want 101", got)
	}
}

func TestConcurrentRebuildsAreSerialized(t *testing.T) {
	loader := &stubLoader{entries: []attendance.IndexEntry{entry("a", "Alice", 0)}}
	c := New(loader, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Rebuild(context.Background())
		}()
	}
	wg.Wait()

	if got := c.Current().Generation; got != 20 {
		t.Errorf("Generation = %d, want 20", got)
	}
}

func TestWatchRebuildsOnRosterChange(t *testing.T) {
	loader := &stubLoader{}
	c := New(loader, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan queue.Message)
	done := make(chan struct{})
	go func() {
		c.Watch(ctx, msgs)
		close(done)
	}()

	loader.set([]attendance.IndexEntry{entry("a", "Alice", 0)}, nil)
	msgs <- queue.Message{Type: queue.TypeAttendanceMarked}
	msgs <- queue.Message{Type: queue.TypeRosterChanged, Body: []byte("a")}

	deadline := time.After(2 * time.Second)
	for c.Current().Len() != 1 {
		select {
		case <-deadline:
			t.Fatal("snapshot not rebuilt after roster change")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if loader.callCount() != 1 {
		t.Errorf("loader calls = %d, want 1 (non-roster messages ignored)", loader.callCount())
	}

	close(msgs)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after channel close")
	}
}
