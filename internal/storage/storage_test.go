package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Upload(ctx, "bundles/a.tar.gz", strings.NewReader("payload"), 7, "application/gzip"))

	ok, err := st.Exists(ctx, "bundles/a.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := st.Download(ctx, "bundles/a.tar.gz")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	_, err = st.Download(ctx, "bundles/missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = st.Exists(ctx, "bundles/missing.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Download(ctx, "../outside.tar")
	assert.Error(t, err)
	assert.Error(t, st.Upload(ctx, "../../outside.tar", strings.NewReader("x"), 1, ""))
}

func TestHTTPStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/archives/a.zip":
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte("zipbytes"))
			}
		case "/archives/gone.zip":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	st, err := NewHTTPStorage(&Config{Type: TypeHTTP, BaseURL: srv.URL + "/archives/", Token: "s3cret"})
	require.NoError(t, err)

	rc, err := st.Download(ctx, "a.zip")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(body))

	_, err = st.Download(ctx, "gone.zip")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.Download(ctx, "broken.zip")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	ok, err := st.Exists(ctx, "a.zip")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.Exists(ctx, "gone.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, st.Upload(ctx, "x", strings.NewReader(""), 0, ""), ErrReadOnly)
}

func TestNewStorage(t *testing.T) {
	st, err := NewStorage(&Config{Type: TypeLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, st)

	st, err = NewStorage(&Config{Type: TypeHTTP, BaseURL: "http://example.invalid"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPStorage{}, st)

	_, err = NewStorage(&Config{Type: "ftp"})
	assert.Error(t, err)
}

func TestDetectS3Type(t *testing.T) {
	tests := []struct {
		endpoint string
		want     Type
	}{
		{"https://abc.r2.cloudflarestorage.com", TypeR2},
		{"s3.eu-west-1.amazonaws.com", TypeS3},
		{"minio.internal:9000", TypeS3Compatible},
		{"", TypeS3Compatible},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DetectS3Type(tc.endpoint), tc.endpoint)
	}
	assert.Equal(t, "minio.internal:9000", normalizeEndpoint("http://minio.internal:9000/some/path"))
}
