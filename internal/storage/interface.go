package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Download when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ErrReadOnly is returned by backends that cannot store objects.
var ErrReadOnly = errors.New("storage backend is read-only")

// ObjectStorage is the blob store holding uploaded archives.
type ObjectStorage interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens a read stream over the object. The caller closes it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// Type selects a storage backend.
type Type string

const (
	TypeR2           Type = "r2"
	TypeS3           Type = "s3"
	TypeS3Compatible Type = "s3compatible"
	TypeHTTP         Type = "http"
	TypeLocal        Type = "local"
)

// IsS3 reports whether t is served by the S3 client.
func (t Type) IsS3() bool {
	return t == TypeR2 || t == TypeS3 || t == TypeS3Compatible
}

// Config holds the settings of every backend; each one reads its own.
type Config struct {
	Type Type

	// S3, R2 and S3-compatible
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string

	// http
	BaseURL string
	Token   string
	Timeout time.Duration

	// local
	LocalDir string
}
