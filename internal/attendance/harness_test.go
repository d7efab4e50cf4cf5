package attendance_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"facemark/internal/attendance"
	"facemark/internal/faceclient"
	"facemark/internal/store"
)

func newTestRepo(t *testing.T) *attendance.Repository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "facemark.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := store.NewDB(context.Background(), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return attendance.NewRepository(db.Client)
}

// seedEnrollee inserts an enrollee with one face directly through the repo.
func seedEnrollee(t *testing.T, repo *attendance.Repository, externalID, name string, enc ...float32) attendance.Enrollee {
	t.Helper()
	e := attendance.Enrollee{ExternalID: externalID, Name: name}
	faces := []attendance.Face{{Encoding: enc, ImageKey: "seed/" + externalID + ".jpg"}}
	if err := repo.CreateEnrollee(context.Background(), &e, faces); err != nil {
		t.Fatalf("seed %s: %v", externalID, err)
	}
	return e
}

// fakeEncoder maps image payloads to detections; unknown payloads are unreadable.
type fakeEncoder struct {
	faces map[string][]faceclient.Detection
}

func (f fakeEncoder) DetectAndEncode(_ context.Context, image []byte) ([]faceclient.Detection, error) {
	d, ok := f.faces[string(image)]
	if !ok {
		return nil, faceclient.ErrUnreadableImage
	}
	return d, nil
}

func face(enc ...float32) []faceclient.Detection {
	return []faceclient.Detection{{Box: faceclient.Box{Top: 1, Right: 2, Bottom: 3, Left: 4}, Encoding: enc}}
}

type memImages struct {
	mu      sync.Mutex
	files   map[string][]byte
	failPut bool
	deletes int
}

func newMemImages() *memImages { return &memImages{files: map[string][]byte{}} }

func (m *memImages) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("disk full")
	}
	m.files[key] = data
	return nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.files, key)
	return nil
}

func (m *memImages) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for k := range m.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type countingRebuilder struct {
	calls int
	err   error
}

func (c *countingRebuilder) Rebuild(context.Context) error {
	c.calls++
	return c.err
}

func at(day string, clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+clock)
	if err != nil {
		panic(err)
	}
	return t
}
