// Package wim implements a read-only parser and random-access reader for
// the Windows Imaging Format (WIM), the content-addressed archive format
// Microsoft uses to package Windows file-system images.
//
// Construct an Archive with Open, enumerate its images with Images, and
// navigate each image's directory tree starting at Image.Root.
package wim

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Archive is a parsed WIM file: its header, its resource table (indexed by
// content hash), and the ordered list of per-image metadata resources. It
// is immutable after construction and safe for concurrent use by multiple
// goroutines, provided the backing io.ReaderAt supports concurrent
// positioned reads (as *os.File does).
type Archive struct {
	r      io.ReaderAt
	header wimHeader

	resources         map[SHA1Hash]Resource
	metadataResources []Resource

	decompressors decompressorRegistry
	log           *logrus.Entry
}

// Option configures Open.
type Option func(*Archive)

// WithDecompressors overrides the default decompressor registry
// (DefaultDecompressors) with a caller-supplied one, e.g. to add XPRESS or
// LZMS support.
func WithDecompressors(d map[uint32]Decompressor) Option {
	return func(a *Archive) { a.decompressors = decompressorRegistry(d) }
}

// WithLogger attaches a logrus.Entry that Open uses to emit a
// parse-diagnostic debug line. If not supplied, logging is a no-op.
func WithLogger(log *logrus.Entry) Option {
	return func(a *Archive) { a.log = log }
}

var discardLogger = logrus.NewEntry(func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}())

// Open parses the WIM header and resource table from r and returns a ready
// Archive. r must expose at least 212 bytes (the fixed header size) and
// support positioned reads anywhere file data may live.
func Open(r io.ReaderAt, opts ...Option) (*Archive, error) {
	a := &Archive{
		r:             r,
		decompressors: DefaultDecompressors(),
		log:           discardLogger,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.readHeader(); err != nil {
		return nil, err
	}

	if err := a.readResourceTable(); err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"version":      a.header.Version,
		"flags":        a.header.Flags,
		"chunk_size":   a.header.CompressionSize,
		"image_count":  a.header.ImageCount,
		"guid":         a.GUID().String(),
		"resources":    len(a.resources),
		"images_found": len(a.metadataResources),
	}).Debug("wim: opened archive")

	return a, nil
}

func (a *Archive) readHeader() error {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(a.r, 0, headerSize), buf); err != nil {
		return errors.Wrap(err, "read header")
	}

	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &a.header); err != nil {
		return errors.Wrap(err, "decode header")
	}

	if a.header.ImageTag != wimImageTag {
		return errors.Wrapf(ErrInvalidHeader, "image tag %q", a.header.ImageTag)
	}

	if a.header.Version != versionDefault {
		return errors.Wrapf(ErrUnsupported, "WIM version %#x", a.header.Version)
	}

	if headerFlag(a.header.Flags)&headerFlagSpanned != 0 {
		return errors.Wrap(ErrUnsupported, "spanned WIM archives")
	}

	return nil
}

// compressionAlgorithm returns the header's compression algorithm flag
// (the high 16 bits of Flags), used to select a Decompressor.
func (a *Archive) compressionAlgorithm() uint32 {
	return a.header.Flags & 0xFFFF0000
}

func (a *Archive) readResourceTable() error {
	offsetTable := resourceFromShortHeader(a, a.header.OffsetTable)
	raw, err := offsetTable.ReadAll()
	if err != nil {
		return errors.Wrap(err, "read offset table")
	}

	a.resources = make(map[SHA1Hash]Resource)

	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		var entry resourceTableEntry
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return errors.Wrap(err, "decode offset table entry")
		}

		res := resourceFromTableEntry(a, entry)
		a.resources[res.Hash] = res

		if res.IsMetadata() {
			a.metadataResources = append(a.metadataResources, res)
		}
	}

	return nil
}

// Header exposes the raw WIM header's notable fields.
type Header struct {
	Version         uint32
	Flags           uint32
	CompressionSize uint32
	GUID            GUID
	PartNumber      uint16
	TotalParts      uint16
	ImageCount      uint32
	BootIndex       uint32
}

// Header returns the archive's parsed header.
func (a *Archive) Header() Header {
	return Header{
		Version:         a.header.Version,
		Flags:           a.header.Flags,
		CompressionSize: a.header.CompressionSize,
		GUID:            a.GUID(),
		PartNumber:      a.header.PartNumber,
		TotalParts:      a.header.TotalParts,
		ImageCount:      a.header.ImageCount,
		BootIndex:       a.header.BootIndex,
	}
}

// GUID returns the archive's unique identifier.
func (a *Archive) GUID() GUID {
	return guidFromWindowsArray(a.header.GUID)
}

// Resources returns all distinct resources known to the archive. Order is
// unspecified but deterministic for a given archive.
func (a *Archive) Resources() []Resource {
	out := make([]Resource, 0, len(a.resources))
	for _, r := range a.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out
}

// resourceByHash looks up a resource by the content hash of its
// decompressed bytes. This is the O(1) hash table the design notes require
// in place of a linear scan over Resources().
func (a *Archive) resourceByHash(hash SHA1Hash) (Resource, bool) {
	r, ok := a.resources[hash]
	return r, ok
}

// Images returns every image stored in the archive, in file order of their
// metadata resources.
func (a *Archive) Images() ([]*Image, error) {
	images := make([]*Image, 0, len(a.metadataResources))
	for _, res := range a.metadataResources {
		buf, err := res.ReadAll()
		if err != nil {
			return nil, errors.Wrap(err, "read image metadata")
		}

		img, err := newImage(a, buf)
		if err != nil {
			return nil, errors.Wrap(err, "parse image")
		}

		images = append(images, img)
	}

	return images, nil
}
