// Package archive unpacks untrusted tar, tar.gz and zip bundles into an
// isolated working directory.
//
// Every archive is treated as hostile. Entry count, path depth, per-entry
// and cumulative uncompressed size are bounded; links of any kind reject
// the whole archive; entry paths must stay under the extraction root.
// Sizes are checked against entry headers before writing and again against
// the bytes actually written, so a header that under-reports its size
// cannot get past the limits.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/agilira/go-errors"
)

// Entry is one extracted regular file.
type Entry struct {
	RelPath string // slash separated, relative to Root
	AbsPath string
	Size    int64
}

// Open returns a stream over the extracted content.
func (e Entry) Open() (io.ReadCloser, error) {
	return os.Open(e.AbsPath)
}

// Result lists what an archive expanded to.
type Result struct {
	Root       string
	Entries    []Entry
	TotalBytes int64
}

// Cleanup removes the extraction root.
func (r *Result) Cleanup() error {
	if r == nil || r.Root == "" {
		return nil
	}
	return os.RemoveAll(r.Root)
}

// Extractor unpacks archives under a parent working directory.
type Extractor struct {
	workDir string
	limits  Limits
}

// NewExtractor creates an extractor. An empty workDir uses os.TempDir();
// zero limit fields fall back to DefaultLimits.
func NewExtractor(workDir string, limits Limits) *Extractor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Extractor{workDir: workDir, limits: limits.withDefaults()}
}

// Limits returns the effective limits.
func (x *Extractor) Limits() Limits {
	return x.limits
}

// Extract unpacks r, declared as format, into a fresh directory. On error
// nothing is left on disk.
func (x *Extractor) Extract(ctx context.Context, r io.Reader, format Format) (*Result, error) {
	switch format {
	case FormatTar, FormatTarGz, FormatZip:
	default:
		return nil, errors.New(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported archive format %q", format))
	}

	if err := os.MkdirAll(x.workDir, 0o755); err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "create work directory")
	}
	root, err := os.MkdirTemp(x.workDir, "extract-*")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIO, "create extraction root")
	}

	src := &sourceReader{r: r}
	res := &Result{Root: root}
	w := &writer{root: root, budget: &budget{limits: x.limits}, res: res}

	switch format {
	case FormatTar:
		err = w.untar(ctx, src)
	case FormatTarGz:
		err = w.untarGzip(ctx, src)
	case FormatZip:
		err = w.unzip(ctx, src, x.workDir)
	}
	if err == nil {
		err = scanForLinks(root)
	}
	if err != nil {
		_ = os.RemoveAll(root)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if src.err != nil && Code(err) != ErrCodeSourceRead {
			return nil, errors.Wrap(src.err, ErrCodeSourceRead, "read archive stream")
		}
		return nil, err
	}

	res.TotalBytes = w.budget.total
	return res, nil
}

// sourceReader remembers the first non-EOF error from the underlying
// stream so that network failures are not mistaken for corrupt archives.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

type writer struct {
	root   string
	budget *budget
	res    *Result

	// layout records every path already claimed as a file or directory,
	// so conflicting entries fail before anything touches the disk.
	layout map[string]bool // true for directories
	// entryAt indexes res.Entries by RelPath.
	entryAt map[string]int
}

func (w *writer) target(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// claimDir records rel and its parents as directories. A path already
// extracted as a file makes the archive corrupt.
func (w *writer) claimDir(rel string) error {
	if w.layout == nil {
		w.layout = make(map[string]bool)
	}
	for p := rel; p != "." && p != ""; p = path.Dir(p) {
		isDir, seen := w.layout[p]
		if seen && !isDir {
			return errors.New(ErrCodeCorrupt, fmt.Sprintf("entry %q needs %q as a directory but it is a file", rel, p))
		}
		if seen {
			return nil
		}
		w.layout[p] = true
	}
	return nil
}

// claimFile records rel as a regular file. Repeating a file path is
// allowed and the later entry wins; reusing a directory path is not.
func (w *writer) claimFile(rel string) error {
	if w.layout == nil {
		w.layout = make(map[string]bool)
	}
	if w.layout[rel] {
		return errors.New(ErrCodeCorrupt, fmt.Sprintf("file entry %q collides with a directory", rel))
	}
	if err := w.claimDir(path.Dir(rel)); err != nil {
		return err
	}
	w.layout[rel] = false
	return nil
}

func (w *writer) mkdir(rel string) error {
	if err := w.claimDir(rel); err != nil {
		return err
	}
	if err := os.MkdirAll(w.target(rel), 0o755); err != nil {
		return errors.Wrap(err, ErrCodeIO, fmt.Sprintf("create directory %s", rel))
	}
	return nil
}

// writeFile streams src into rel, enforcing the size budget on every chunk.
func (w *writer) writeFile(ctx context.Context, rel string, src io.Reader) error {
	if err := w.claimFile(rel); err != nil {
		return err
	}
	dst := w.target(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, ErrCodeIO, fmt.Sprintf("create parent of %s", rel))
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, ErrCodeIO, fmt.Sprintf("create %s", rel))
	}

	written, copyErr := w.copy(ctx, f, src, rel)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, ErrCodeIO, fmt.Sprintf("close %s", rel))
	}

	entry := Entry{RelPath: rel, AbsPath: dst, Size: written}
	if i, ok := w.entryAt[rel]; ok {
		w.res.Entries[i] = entry
		return nil
	}
	if w.entryAt == nil {
		w.entryAt = make(map[string]int)
	}
	w.entryAt[rel] = len(w.res.Entries)
	w.res.Entries = append(w.res.Entries, entry)
	return nil
}

func (w *writer) copy(ctx context.Context, dst io.Writer, src io.Reader, rel string) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if err := w.budget.consume(rel, int64(n), written); err != nil {
				return written, err
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, errors.Wrap(err, ErrCodeIO, fmt.Sprintf("write %s", rel))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, errors.Wrap(readErr, ErrCodeCorrupt, fmt.Sprintf("read entry %s", rel))
		}
	}
}

// scanForLinks walks the extracted tree and fails on anything that is not
// a plain directory or regular file.
func scanForLinks(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrap(err, ErrCodeIO, "scan extracted tree")
		}
		mode := d.Type()
		switch {
		case mode&fs.ModeSymlink != 0:
			rel, _ := filepath.Rel(root, p)
			return errors.New(ErrCodeLinkRejected, fmt.Sprintf("link %q found after extraction", filepath.ToSlash(rel)))
		case mode.IsDir(), mode.IsRegular():
			return nil
		default:
			rel, _ := filepath.Rel(root, p)
			return errors.New(ErrCodeUnsupportedEntry, fmt.Sprintf("irregular file %q found after extraction", filepath.ToSlash(rel)))
		}
	})
}
