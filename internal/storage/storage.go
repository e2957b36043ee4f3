// Package storage implements the object-storage collaborator: a local
// filesystem store and an S3-compatible store.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
)

const fileScheme = "file://"

var (
	// ErrObjectNotFound is returned by Fetch when the reference has no object.
	ErrObjectNotFound = fmt.Errorf("object %w", domain.ErrNotFound)
	// ErrInvalidKey rejects empty keys and keys escaping the store root.
	ErrInvalidKey = fmt.Errorf("invalid object key: %w", domain.ErrValidation)
)

// ObjectStore stores, fetches and removes opaque objects by key. Store
// returns a reference that the other methods accept.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, key string) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// New builds the store selected by STORAGE_DRIVER.
func New(ctx context.Context, cfg *infra.Config) (ObjectStore, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		store, err := NewS3Store(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case infra.StorageDriverFilesystem, "":
		return NewFileStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.StorageDriver)
	}
}

var (
	_ ObjectStore = (*FileStore)(nil)
	_ ObjectStore = (*S3Store)(nil)
)

// ContentType maps a key's extension to the media type served for it.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".avif":
		return "image/avif"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
