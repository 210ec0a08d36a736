package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Read when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// FileInfo represents metadata about a stored object.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage defines the object operations used for dead-letter documents.
type Storage interface {
	// Write stores content from the reader with the given key.
	// The size parameter is the expected content size (-1 if unknown).
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key.
	// The caller is responsible for closing the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the content with the given key.
	Delete(ctx context.Context, key string) error

	// List returns all objects with keys starting with the given prefix,
	// ordered by key.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // local, s3
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

// New creates the storage backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "", "local":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, errors.New("unsupported storage driver: " + cfg.Driver)
	}
}
