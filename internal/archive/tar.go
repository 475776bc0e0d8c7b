package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"

	"github.com/agilira/go-errors"
	"github.com/klauspost/compress/gzip"
)

func (w *writer) untarGzip(ctx context.Context, r io.Reader) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, ErrCodeCorrupt, "open gzip stream")
	}
	defer zr.Close()
	return w.untar(ctx, zr)
}

// untar validates each header before any of its data is written. Tar has
// no central index, so inspection happens member by member as the stream
// is read.
func (w *writer) untar(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, ErrCodeCorrupt, "read tar header")
		}

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		}
		if err := w.budget.admitEntry(); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return errors.New(ErrCodeLinkRejected,
				fmt.Sprintf("archive contains link %q -> %q", hdr.Name, hdr.Linkname))
		}

		rel, err := w.budget.limits.sanitize(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if rel == "" {
				continue
			}
			if err := w.mkdir(rel); err != nil {
				return err
			}
		case tar.TypeReg:
			if rel == "" {
				return errors.New(ErrCodeCorrupt, fmt.Sprintf("regular file entry %q has no name", hdr.Name))
			}
			if err := w.budget.admitDeclared(rel, hdr.Size); err != nil {
				return err
			}
			if err := w.writeFile(ctx, rel, tr); err != nil {
				return err
			}
		default:
			return errors.New(ErrCodeUnsupportedEntry,
				fmt.Sprintf("entry %q has unsupported type %q", hdr.Name, string(hdr.Typeflag)))
		}
	}
}
