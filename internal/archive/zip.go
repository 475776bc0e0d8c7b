package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/agilira/go-errors"
	"github.com/klauspost/compress/zip"
)

// unzip spools the stream to disk (zip needs random access to its central
// directory), validates every member from the directory, then extracts.
func (w *writer) unzip(ctx context.Context, r io.Reader, spoolDir string) error {
	spool, err := os.CreateTemp(spoolDir, "spool-*.zip")
	if err != nil {
		return errors.Wrap(err, ErrCodeIO, "create zip spool file")
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	limit := w.budget.limits.MaxTotalBytes
	size, err := io.Copy(spool, io.LimitReader(r, limit+1))
	if err != nil {
		return errors.Wrap(err, ErrCodeSourceRead, "spool zip stream")
	}
	if size > limit {
		return errors.New(ErrCodeTooLarge, fmt.Sprintf("zip archive is larger than %d bytes", limit))
	}

	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return errors.Wrap(err, ErrCodeCorrupt, "read zip central directory")
	}

	// Inspection pass: nothing is written until every member is acceptable.
	check := &budget{limits: w.budget.limits}
	type member struct {
		file *zip.File
		rel  string
		dir  bool
	}
	members := make([]member, 0, len(zr.File))
	for _, f := range zr.File {
		if err := check.admitEntry(); err != nil {
			return err
		}
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return errors.New(ErrCodeLinkRejected, fmt.Sprintf("archive contains link %q", f.Name))
		}
		if !mode.IsDir() && !mode.IsRegular() {
			return errors.New(ErrCodeUnsupportedEntry, fmt.Sprintf("entry %q has unsupported mode %s", f.Name, mode))
		}
		rel, err := check.limits.sanitize(f.Name)
		if err != nil {
			return err
		}
		if mode.IsDir() {
			members = append(members, member{file: f, rel: rel, dir: true})
			continue
		}
		if rel == "" {
			return errors.New(ErrCodeCorrupt, fmt.Sprintf("file entry %q has no name", f.Name))
		}
		declared := int64(f.UncompressedSize64)
		if f.UncompressedSize64 > uint64(1<<62) {
			declared = 1 << 62
		}
		if err := check.admitDeclared(rel, declared); err != nil {
			return err
		}
		check.total += declared
		members = append(members, member{file: f, rel: rel})
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.budget.admitEntry(); err != nil {
			return err
		}
		if m.dir {
			if m.rel != "" {
				if err := w.mkdir(m.rel); err != nil {
					return err
				}
			}
			continue
		}
		if err := w.extractMember(ctx, m.file, m.rel); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) extractMember(ctx context.Context, f *zip.File, rel string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrap(err, ErrCodeCorrupt, fmt.Sprintf("open zip entry %s", rel))
	}
	defer rc.Close()
	return w.writeFile(ctx, rel, rc)
}
