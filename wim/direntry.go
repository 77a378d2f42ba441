package wim

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// StreamEntry names one byte stream attached to a directory entry: either
// the default (unnamed) data stream, or an alternate data stream.
type StreamEntry struct {
	Name string
	Hash SHA1Hash
}

// DirectoryEntry is one file or directory record from an image's metadata
// stream. Names, streams and "extra" bytes are parsed eagerly; stream
// content is only opened on demand via Open.
type DirectoryEntry struct {
	image *Image

	Length          int64
	attributes      uint32
	SecurityID      uint32
	SubdirOffset    int64
	CreationTime    Filetime
	LastAccessTime  Filetime
	LastWriteTime   Filetime
	DefaultHash     SHA1Hash
	ReparseTag      ReparseTag
	ReparseReserved uint32
	HardLinkGroupID int64

	Name      string
	ShortName string
	Extra     []byte

	// streams preserves on-disk order; byName indexes it for Open/Size.
	streams []StreamEntry
	byName  map[string]SHA1Hash
}

// Attributes returns the entry's raw NTFS FILE_ATTRIBUTE_* bitmask.
func (e *DirectoryEntry) Attributes() FileAttribute {
	return FileAttribute(e.attributes)
}

// Streams returns the entry's streams in on-disk order (the default stream,
// named "", is always present).
func (e *DirectoryEntry) Streams() []StreamEntry {
	return e.streams
}

// readDirectoryEntry parses one directory entry starting at r's current
// position within img's metadata buffer.
func readDirectoryEntry(img *Image, r *bytes.Reader) (*DirectoryEntry, error) {
	start := int64(len(img.metadata)) - int64(r.Len())

	var fixed direntryFixed
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return nil, errors.Wrap(err, "read directory entry")
	}

	e := &DirectoryEntry{
		image:          img,
		Length:         int64(fixed.Length),
		attributes:     fixed.Attributes,
		SecurityID:     fixed.SecurityID,
		SubdirOffset:   int64(fixed.SubdirOffset),
		CreationTime:   fixed.CreationTime,
		LastAccessTime: fixed.LastAccessTime,
		LastWriteTime:  fixed.LastWriteTime,
		DefaultHash:    fixed.Hash,
	}

	// ReparseHardLink is a union: for a reparse point its low/high 32 bits
	// are the reparse tag and reparse-reserved value; otherwise it is the
	// hard-link group ID.
	if FileAttribute(fixed.Attributes)&FileAttributeReparsePoint != 0 {
		e.ReparseTag = ReparseTag(uint32(fixed.ReparseHardLink))
		e.ReparseReserved = uint32(fixed.ReparseHardLink >> 32)
	} else {
		e.HardLinkGroupID = int64(fixed.ReparseHardLink)
	}

	var err error
	if e.Name, err = readUTF16Name(r, int(fixed.FileNameLength)); err != nil {
		return nil, errors.Wrap(err, "file name")
	}
	if e.ShortName, err = readUTF16Name(r, int(fixed.ShortNameLength)); err != nil {
		return nil, errors.Wrap(err, "short name")
	}

	end := int64(len(img.metadata)) - int64(r.Len())

	extraLen := e.Length - (align8(end) - start)
	if extraLen <= 0 {
		extraLen = e.Length - (end - start)
	}
	if extraLen > 0 {
		buf := make([]byte, extraLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrap(err, "extra bytes")
		}
		e.Extra = buf
	}

	e.byName = make(map[string]SHA1Hash)
	if fixed.StreamCount > 0 {
		for i := uint16(0); i < fixed.StreamCount; i++ {
			if err := alignReaderTo8(r, img); err != nil {
				return nil, errors.Wrap(err, "align stream entry")
			}

			se, err := readStreamEntry(r)
			if err != nil {
				return nil, errors.Wrap(err, "stream entry")
			}
			e.streams = append(e.streams, se)
			e.byName[se.Name] = se.Hash
		}
	} else {
		se := StreamEntry{Name: "", Hash: fixed.Hash}
		e.streams = append(e.streams, se)
		e.byName[""] = se.Hash
	}

	return e, nil
}

func align8(n int64) int64 {
	return (n + 7) &^ 7
}

// alignReaderTo8 advances r to the next 8-byte boundary relative to the
// start of img's metadata buffer.
func alignReaderTo8(r *bytes.Reader, img *Image) error {
	pos := int64(len(img.metadata)) - int64(r.Len())
	if rem := pos % 8; rem != 0 {
		if _, err := r.Seek(8-rem, io.SeekCurrent); err != nil {
			return err
		}
	}
	return nil
}

func readUTF16Name(r *bytes.Reader, byteLen int) (string, error) {
	if byteLen == 0 {
		return "", nil
	}
	if byteLen%2 != 0 {
		return "", errors.Wrapf(ErrMalformed, "odd-length UTF-16 name (%d bytes)", byteLen)
	}

	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	// Skip the 2-byte NUL terminator that follows every name field.
	if _, err := r.Seek(2, io.SeekCurrent); err != nil {
		return "", err
	}

	units := make([]uint16, byteLen/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

func readStreamEntry(r *bytes.Reader) (StreamEntry, error) {
	var fixed streamentryFixed
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return StreamEntry{}, err
	}

	name, err := readUTF16Name(r, int(fixed.StreamNameLength))
	if err != nil {
		return StreamEntry{}, err
	}
	nameConsumed := int64(0)
	if fixed.StreamNameLength > 0 {
		nameConsumed = int64(fixed.StreamNameLength) + 2
	}

	if remaining := int64(fixed.Length) - streamentryFixedSize - nameConsumed; remaining > 0 {
		if _, err := io.CopyN(io.Discard, r, remaining); err != nil {
			return StreamEntry{}, err
		}
	}

	return StreamEntry{Name: name, Hash: fixed.Hash}, nil
}

// IsDir reports whether the entry is a directory. A reparse-point
// directory is reported as a file, since its payload is reparse data
// rather than children.
func (e *DirectoryEntry) IsDir() bool {
	want := uint32(FileAttributeDirectory)
	mask := uint32(FileAttributeDirectory | FileAttributeReparsePoint)
	return e.attributes&mask == want
}

// IsFile reports the negation of IsDir.
func (e *DirectoryEntry) IsFile() bool {
	return !e.IsDir()
}

// IsReparsePoint reports whether the REPARSE_POINT attribute bit is set.
func (e *DirectoryEntry) IsReparsePoint() bool {
	return e.attributes&uint32(FileAttributeReparsePoint) != 0
}

// IsSymlink reports whether this is a symlink reparse point.
func (e *DirectoryEntry) IsSymlink() bool {
	return e.IsReparsePoint() && e.ReparseTag == ReparseTagSymlink
}

// IsMountPoint reports whether this is a mount-point reparse point.
func (e *DirectoryEntry) IsMountPoint() bool {
	return e.IsReparsePoint() && e.ReparseTag == ReparseTagMountPoint
}

// ReparsePoint parses and returns the entry's reparse point data, read from
// its default data stream.
func (e *DirectoryEntry) ReparsePoint() (*ReparsePoint, error) {
	if !e.IsReparsePoint() {
		return nil, errors.Wrapf(ErrNotAReparsePoint, "%s", e.Name)
	}

	stream, err := e.Open("")
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(io.NewSectionReader(stream, 0, sizeOf(stream)))
	if err != nil {
		return nil, errors.Wrap(err, "read reparse buffer")
	}

	return parseReparsePoint(e.ReparseTag, buf)
}

func sizeOf(s ReadSeekerAt) int64 {
	if sz, ok := s.(interface{ Size() int64 }); ok {
		return sz.Size()
	}
	n, _ := s.Seek(0, io.SeekEnd)
	return n
}

// Size returns the length, in bytes, of the named stream's decompressed
// content ("" selects the default stream).
func (e *DirectoryEntry) Size(name string) (int64, error) {
	s, err := e.Open(name)
	if err != nil {
		return 0, err
	}
	return sizeOf(s), nil
}

// Open returns a random-access stream over the named stream's decompressed
// content ("" selects the default stream).
func (e *DirectoryEntry) Open(name string) (ReadSeekerAt, error) {
	hash, ok := e.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "stream %q on %s", name, e.Name)
	}

	res, ok := e.image.archive.resourceByHash(hash)
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "resource for stream %q on %s", name, e.Name)
	}

	return res.Open()
}

// Iterdir iterates the directory's children in on-disk order. It fails with
// ErrNotADirectory if e is not a directory.
func (e *DirectoryEntry) Iterdir() ([]*DirectoryEntry, error) {
	if !e.IsDir() {
		return nil, errors.Wrapf(ErrNotADirectory, "%s", e.Name)
	}

	r := bytes.NewReader(e.image.metadata)
	if _, err := r.Seek(e.SubdirOffset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek to subdirectory")
	}

	var entries []*DirectoryEntry
	for {
		pos := int64(len(e.image.metadata)) - int64(r.Len())
		if pos+8 > int64(len(e.image.metadata)) {
			break
		}

		lengthBuf := e.image.metadata[pos : pos+8]
		length := binary.LittleEndian.Uint64(lengthBuf)
		if length <= 8 {
			break
		}

		child, err := readDirectoryEntry(e.image, r)
		if err != nil {
			return nil, errors.Wrapf(err, "child of %s", e.Name)
		}
		entries = append(entries, child)

		if err := alignReaderTo8(r, e.image); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// Listdir materializes Iterdir into a name-keyed map.
func (e *DirectoryEntry) Listdir() (map[string]*DirectoryEntry, error) {
	children, err := e.Iterdir()
	if err != nil {
		return nil, err
	}

	out := make(map[string]*DirectoryEntry, len(children))
	for _, c := range children {
		out[c.Name] = c
	}
	return out, nil
}
