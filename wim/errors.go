package wim

import "errors"

// Sentinel error kinds. Use errors.Is to test for a specific kind; use
// github.com/pkg/errors.Wrap/Wrapf (as this package does internally) to add
// context without losing the ability to match the sentinel.
var (
	// ErrInvalidHeader is returned when the archive's magic bytes do not
	// match the expected WIM image tag.
	ErrInvalidHeader = errors.New("invalid WIM header")

	// ErrUnsupported is returned for WIM versions, flags or compression
	// algorithms this package does not implement: non-default version,
	// spanned archives/resources, and unregistered compression algorithms.
	ErrUnsupported = errors.New("unsupported WIM feature")

	// ErrFileNotFound is returned when a path component, stream name, or
	// resource hash cannot be resolved.
	ErrFileNotFound = errors.New("file not found")

	// ErrNotADirectory is returned by Iterdir/Listdir on a non-directory
	// entry.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotAReparsePoint is returned by ReparsePoint on an entry whose
	// REPARSE_POINT attribute bit is not set.
	ErrNotAReparsePoint = errors.New("not a reparse point")

	// ErrMalformed is returned when a record violates a structural
	// invariant of the format: an overlong/overshort length, an odd-length
	// UTF-16 payload, or a chunk-table entry out of range.
	ErrMalformed = errors.New("malformed WIM record")
)
