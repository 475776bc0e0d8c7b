package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPStorage reads archives from a web server or a pre-signed URL prefix.
// It cannot store objects.
type HTTPStorage struct {
	client *resty.Client
}

// NewHTTPStorage creates a read-only backend rooted at cfg.BaseURL.
func NewHTTPStorage(cfg *Config) (*HTTPStorage, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http storage needs a base URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetTimeout(timeout)
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}
	return &HTTPStorage{client: client}, nil
}

func (h *HTTPStorage) path(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}

// Upload always fails with ErrReadOnly.
func (h *HTTPStorage) Upload(context.Context, string, io.Reader, int64, string) error {
	return ErrReadOnly
}

// Download streams the body of GET <base>/<key>. The response is not
// buffered.
func (h *HTTPStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(h.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	body := resp.RawBody()
	switch resp.StatusCode() {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status %d", key, resp.StatusCode())
	}
}

// Exists issues a HEAD request for key.
func (h *HTTPStorage) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := h.client.R().SetContext(ctx).Head(h.path(key))
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: status %d", key, resp.StatusCode())
}
