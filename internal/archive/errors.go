package archive

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes. Everything except ErrCodeSourceRead and ErrCodeIO describes
// a property of the archive itself and will not change on retry.
const (
	ErrCodeUnsupportedFormat = "ARCHIVE_UNSUPPORTED_FORMAT"
	ErrCodeCorrupt           = "ARCHIVE_CORRUPT"
	ErrCodeEntryTooLarge     = "ARCHIVE_ENTRY_TOO_LARGE"
	ErrCodeTooLarge          = "ARCHIVE_TOO_LARGE"
	ErrCodeTooManyEntries    = "ARCHIVE_TOO_MANY_ENTRIES"
	ErrCodePathTooDeep       = "ARCHIVE_PATH_TOO_DEEP"
	ErrCodePathEscape        = "ARCHIVE_PATH_ESCAPE"
	ErrCodeLinkRejected      = "ARCHIVE_LINK_REJECTED"
	ErrCodeUnsupportedEntry  = "ARCHIVE_UNSUPPORTED_ENTRY"
	ErrCodeSourceRead        = "ARCHIVE_SOURCE_READ"
	ErrCodeIO                = "ARCHIVE_IO"
)

// Code returns the archive error code carried by err, or "".
func Code(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

// IsTransient reports whether err came from reading the source stream or
// writing the working directory rather than from the archive contents.
func IsTransient(err error) bool {
	switch Code(err) {
	case ErrCodeSourceRead, ErrCodeIO:
		return true
	}
	return false
}
