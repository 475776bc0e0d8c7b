package storage

import (
	"fmt"
	"strings"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
// Parameters:
//   - cfg: storage configuration; an empty Type is detected from Endpoint.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *Config) (ObjectStorage, error) {
	if cfg.Type == "" {
		cfg.Type = DetectS3Type(cfg.Endpoint)
	}

	switch {
	case cfg.Type.IsS3():
		return NewS3Storage(cfg)
	case cfg.Type == TypeHTTP:
		return NewHTTPStorage(cfg)
	case cfg.Type == TypeLocal:
		return NewLocalStorage(cfg.LocalDir)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// DetectS3Type guesses the S3 flavour from the endpoint host.
func DetectS3Type(endpoint string) Type {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return TypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return TypeS3
	default:
		return TypeS3Compatible
	}
}
