package wim

import (
	"io"

	"github.com/pkg/errors"
)

// Resource describes a contiguous, possibly compressed blob somewhere in a
// WIM archive: an offset table entry, the header's inline offset-table/XML/
// integrity descriptors, or a per-image metadata blob. The long form (with
// PartNumber/RefCount/Hash) appears in resource-table entries; the short
// form is used for the header's inline resources.
type Resource struct {
	archive *Archive

	Flags          resFlag
	Offset         int64
	CompressedSize int64
	OriginalSize   int64

	PartNumber     uint16
	ReferenceCount uint32
	Hash           SHA1Hash
}

func resourceFromShortHeader(a *Archive, h shortResourceHeader) Resource {
	return Resource{
		archive:        a,
		Flags:          h.flags(),
		Offset:         int64(h.Offset),
		CompressedSize: int64(h.size()),
		OriginalSize:   int64(h.OriginalSize),
	}
}

func resourceFromTableEntry(a *Archive, e resourceTableEntry) Resource {
	r := resourceFromShortHeader(a, e.Base)
	r.PartNumber = e.PartNumber
	r.ReferenceCount = e.RefCount
	r.Hash = e.Hash
	return r
}

// IsMetadata reports whether this resource holds a per-image metadata blob.
func (r Resource) IsMetadata() bool { return r.Flags&resFlagMetadata != 0 }

// IsCompressed reports whether this resource is stored chunk-compressed.
func (r Resource) IsCompressed() bool { return r.Flags&resFlagCompressed != 0 }

// IsSpanned reports whether this resource continues in another archive
// part. Spanned resources are not supported.
func (r Resource) IsSpanned() bool { return r.Flags&resFlagSpanned != 0 }

// ReadSeekerAt is the random-access, seekable stream interface every opened
// resource satisfies. Positions are always expressed in uncompressed bytes.
type ReadSeekerAt interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Open returns a random-access stream over the resource's decompressed
// bytes. The stream's length (as reported by an io.SectionReader-style
// consumer) equals OriginalSize.
func (r Resource) Open() (ReadSeekerAt, error) {
	if r.IsSpanned() {
		return nil, errors.Wrapf(ErrUnsupported, "resource at %d is spanned", r.Offset)
	}

	if !r.IsCompressed() {
		return io.NewSectionReader(r.archive.r, r.Offset, r.CompressedSize), nil
	}

	algorithm := r.archive.compressionAlgorithm()
	decompress, ok := r.archive.decompressors[algorithm]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "compression algorithm %#x", algorithm)
	}

	return newCompressedStream(r.archive.r, r.Offset, r.CompressedSize, r.OriginalSize, r.archive.header.CompressionSize, decompress)
}

// ReadAll reads a resource's entire decompressed content into memory. It is
// a convenience wrapper used for small, one-shot resources such as the
// offset table and per-image metadata; large file streams should use Open
// and read incrementally instead.
func (r Resource) ReadAll() ([]byte, error) {
	s, err := r.Open()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, r.OriginalSize)
	if _, err := io.ReadFull(io.NewSectionReader(s, 0, r.OriginalSize), buf); err != nil {
		return nil, errors.Wrap(err, "read resource")
	}
	return buf, nil
}
