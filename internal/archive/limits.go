package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/agilira/go-errors"
)

// Limits bounds what an archive may expand to.
type Limits struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
	MaxEntries    int
	MaxDepth      int
}

// DefaultLimits: 100 MB per entry, 1 GB in total, 10,000 entries,
// 20 path segments.
func DefaultLimits() Limits {
	return Limits{
		MaxEntryBytes: 100 << 20,
		MaxTotalBytes: 1 << 30,
		MaxEntries:    10000,
		MaxDepth:      20,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxEntryBytes <= 0 {
		l.MaxEntryBytes = d.MaxEntryBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = d.MaxTotalBytes
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = d.MaxEntries
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	return l
}

// sanitize validates an entry name and returns it as a clean relative
// slash path. An empty result with a nil error means the entry names the
// root itself and carries nothing to extract.
func (l Limits) sanitize(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", errors.New(ErrCodePathEscape, fmt.Sprintf("entry name %q contains a NUL byte", name))
	}
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || hasDrivePrefix(slashed) {
		return "", errors.New(ErrCodePathEscape, fmt.Sprintf("entry %q has an absolute path", name))
	}

	clean := path.Clean(slashed)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.New(ErrCodePathEscape, fmt.Sprintf("entry %q escapes the extraction root", name))
	}
	if depth := strings.Count(clean, "/") + 1; depth > l.MaxDepth {
		return "", errors.New(ErrCodePathTooDeep,
			fmt.Sprintf("entry %q has %d path segments, limit is %d", name, depth, l.MaxDepth))
	}
	return clean, nil
}

func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// budget does the running size accounting for one extraction.
type budget struct {
	limits  Limits
	entries int
	total   int64
}

func (b *budget) admitEntry() error {
	b.entries++
	if b.entries > b.limits.MaxEntries {
		return errors.New(ErrCodeTooManyEntries,
			fmt.Sprintf("archive has more than %d entries", b.limits.MaxEntries))
	}
	return nil
}

// admitDeclared checks a size announced by an entry header before any of
// its bytes are written. Declared sizes are only a hint: written bytes are
// counted again by consume.
func (b *budget) admitDeclared(name string, size int64) error {
	if size > b.limits.MaxEntryBytes {
		return errors.New(ErrCodeEntryTooLarge,
			fmt.Sprintf("entry %q declares %d bytes, limit is %d", name, size, b.limits.MaxEntryBytes))
	}
	if b.total+size > b.limits.MaxTotalBytes {
		return errors.New(ErrCodeTooLarge,
			fmt.Sprintf("archive expands past %d bytes at entry %q", b.limits.MaxTotalBytes, name))
	}
	return nil
}

// consume accounts for n bytes actually written to entry name, which has
// now reached written bytes.
func (b *budget) consume(name string, n, written int64) error {
	b.total += n
	if written > b.limits.MaxEntryBytes {
		return errors.New(ErrCodeEntryTooLarge,
			fmt.Sprintf("entry %q exceeds %d bytes", name, b.limits.MaxEntryBytes))
	}
	if b.total > b.limits.MaxTotalBytes {
		return errors.New(ErrCodeTooLarge,
			fmt.Sprintf("archive expands past %d bytes at entry %q", b.limits.MaxTotalBytes, name))
	}
	return nil
}
