// Package imagestore keeps the source photos of enrolled faces.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"facemark/internal/config"
)

// Store is the backend-neutral image storage contract.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Open builds the backend selected by cfg.ImageBackend.
func Open(ctx context.Context, cfg config.App) (Store, error) {
	switch cfg.ImageBackend {
	case "local", "":
		return NewLocal(cfg.UploadDir)
	case "minio":
		s, err := NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "cloudinary":
		c := cfg.Cloudinary
		if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
			return nil, errors.New("cloudinary credentials not configured")
		}
		return NewCloudinary(c.CloudName, c.APIKey, c.APISecret, c.Folder), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.ImageBackend)
	}
}

// Local writes images below a directory on disk.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("upload dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{root: root}, nil
}

// Path resolves key to a file path inside the root.
func (l *Local) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

// Put writes data to key, creating parent directories.
func (l *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Delete removes key; a missing file is not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
