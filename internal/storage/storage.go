package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/trailhead-tours/apiserver/config"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// MediaStore stores user photos and tour cover images under a fixed key
// layout on the configured backend.
type MediaStore struct {
	backend ObjectStorage
}

// NewMediaStore constructs a MediaStore for the provided backend.
func NewMediaStore(backend ObjectStorage) *MediaStore {
	return &MediaStore{backend: backend}
}

// FromConfig selects and constructs the configured backend. A "none"
// backend yields a nil store; callers treat that as media uploads being
// disabled.
func FromConfig(ctx context.Context, cfg config.MediaConfig) (*MediaStore, error) {
	switch cfg.Backend {
	case "minio":
		backend, err := NewMinioBackend(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return NewMediaStore(backend), nil
	case "gcs":
		backend, err := NewGCSBackend(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return NewMediaStore(backend), nil
	default:
		return nil, nil
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *MediaStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// PutUserPhoto stores a user's profile photo and returns its key.
func (s *MediaStore) PutUserPhoto(ctx context.Context, userID int, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := fmt.Sprintf("users/%d/photo%s", userID, extension(filename))
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// PutTourCover stores a tour's cover image and returns its key.
func (s *MediaStore) PutTourCover(ctx context.Context, tourID int, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := fmt.Sprintf("tours/%d/cover%s", tourID, extension(filename))
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Get opens a reader for a stored object.
func (s *MediaStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes a stored object.
func (s *MediaStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *MediaStore) Bucket() string {
	return s.backend.Bucket()
}

func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
