// Package faceindex keeps an in-memory snapshot of every enrolled face
// encoding, rebuilt from the record store after roster changes.
//
// Readers call Current and work on the returned snapshot for the whole of a
// request. Rebuild constructs a new snapshot off to the side and publishes it
// with one atomic pointer store, so a reader sees either the old or the new
// generation in full and never a partially built one.
package faceindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"facemark/internal/attendance"
	"facemark/internal/metrics"
	"facemark/internal/queue"
)

// Snapshot is one immutable generation of the index. Encodings, OwnerIDs and
// Names are parallel slices of equal length; none of them may be modified
// after the snapshot is published.
type Snapshot struct {
	Encodings  [][]float32
	OwnerIDs   []string
	Names      []string
	Generation uint64
	BuiltAt    time.Time
}

// Len returns the number of encodings in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Encodings)
}

// Empty reports whether the snapshot holds no encodings.
func (s *Snapshot) Empty() bool { return s.Len() == 0 }

// Loader reads every stored encoding joined with its owner.
type Loader interface {
	LoadFaceIndex(ctx context.Context) ([]attendance.IndexEntry, error)
}

// Cache holds the current snapshot.
type Cache struct {
	loader  Loader
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]

	// mu serializes rebuilds; readers never take it.
	mu sync.Mutex
}

// New returns a cache holding an empty generation-0 snapshot.
func New(loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{loader: loader, logger: logger.With("component", "faceindex")}
	c.current.Store(&Snapshot{BuiltAt: time.Now()})
	return c
}

// Init performs the first rebuild at process start.
func (c *Cache) Init(ctx context.Context) error {
	return c.Rebuild(ctx)
}

// Current returns the latest complete snapshot.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Rebuild reloads the index from the store and swaps it in. When loading
// fails the previous snapshot stays active and the error is returned.
func (c *Cache) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	entries, err := c.loader.LoadFaceIndex(ctx)
	if err != nil {
		metrics.CacheRebuildFailures.Inc()
		prev := c.current.Load()
		c.logger.Error("face index rebuild failed, keeping previous snapshot",
			"error", err, "generation", prev.Generation, "size", prev.Len())
		return fmt.Errorf("rebuild face index: %w", err)
	}

	next := &Snapshot{
		Encodings:  make([][]float32, len(entries)),
		OwnerIDs:   make([]string, len(entries)),
		Names:      make([]string, len(entries)),
		Generation: c.current.Load().Generation + 1,
		BuiltAt:    time.Now(),
	}
	for i, e := range entries {
		next.Encodings[i] = e.Encoding
		next.OwnerIDs[i] = e.EnrolleeID
		next.Names[i] = e.Name
	}
	c.current.Store(next)

	elapsed := time.Since(start)
	metrics.CacheRebuildDuration.Observe(elapsed.Seconds())
	metrics.CacheSize.Set(float64(next.Len()))
	metrics.CacheGeneration.Set(float64(next.Generation))
	c.logger.Info("face index rebuilt", "generation", next.Generation, "size", next.Len(), "elapsed", elapsed)
	return nil
}

// Watch rebuilds on every roster.changed message until msgs is closed or ctx
// is done. Other message types are ignored.
func (c *Cache) Watch(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Type != queue.TypeRosterChanged {
				continue
			}
			c.logger.Debug("roster change received", "body", string(msg.Body))
			if err := c.Rebuild(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("rebuild after roster change failed", "error", err)
			}
		}
	}
}
