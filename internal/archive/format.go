package archive

import (
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// Format is a declared archive format.
type Format string

const (
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// ParseFormat normalises a declared format. "tgz" is accepted as tar.gz.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "tar":
		return FormatTar, nil
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	case "zip":
		return FormatZip, nil
	}
	return "", errors.New(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported archive format %q", s))
}

// FormatFromName derives the format from a file name or object key suffix.
func FormatFromName(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	}
	return "", errors.New(ErrCodeUnsupportedFormat, fmt.Sprintf("cannot infer archive format from %q", name))
}
