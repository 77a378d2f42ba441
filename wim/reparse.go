package wim

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ReparsePoint parses a MOUNT_POINT or SYMLINK reparse data buffer: a fixed
// header of name offsets/lengths into a trailing UTF-16 name buffer, plus
// (for symlinks only) an absolute/relative flag.
type ReparsePoint struct {
	tag ReparseTag

	hasHeader bool
	fixed     reparseBufferFixed
	flags     SymlinkFlag
	names     []byte
}

// parseReparsePoint parses buf, the default stream of a reparse point
// directory entry, according to tag. Unrecognized tags are parsed with only
// the raw buffer retained: SubstituteName and PrintName return "" for them,
// matching the fact that the fixed name-offset header is tag-specific.
func parseReparsePoint(tag ReparseTag, buf []byte) (*ReparsePoint, error) {
	rp := &ReparsePoint{tag: tag}

	switch tag {
	case ReparseTagMountPoint:
		r := bytes.NewReader(buf)
		if err := binary.Read(r, binary.LittleEndian, &rp.fixed); err != nil {
			return nil, errors.Wrap(err, "mount point reparse buffer")
		}
		rp.hasHeader = true
		rp.names = buf[reparseBufferFixedSize:]

	case ReparseTagSymlink:
		r := bytes.NewReader(buf)
		if err := binary.Read(r, binary.LittleEndian, &rp.fixed); err != nil {
			return nil, errors.Wrap(err, "symlink reparse buffer")
		}
		if err := binary.Read(r, binary.LittleEndian, &rp.flags); err != nil {
			return nil, errors.Wrap(err, "symlink reparse flags")
		}
		rp.hasHeader = true
		rp.names = buf[reparseBufferFixedSize+4:]

	default:
		rp.names = buf
	}

	return rp, nil
}

const reparseBufferFixedSize = 8

func (rp *ReparsePoint) nameAt(offset, length uint16) string {
	if int(offset)+int(length) > len(rp.names) {
		return ""
	}
	raw := rp.names[offset : offset+length]

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
	}
	return string(utf16.Decode(units))
}

// SubstituteName returns the reparse point's substitute (resolved) name, or
// "" if the tag carries no parsed header.
func (rp *ReparsePoint) SubstituteName() string {
	if !rp.hasHeader {
		return ""
	}
	return rp.nameAt(rp.fixed.SubstituteNameOffset, rp.fixed.SubstituteNameLength)
}

// PrintName returns the reparse point's display name, or "" if the tag
// carries no parsed header.
func (rp *ReparsePoint) PrintName() string {
	if !rp.hasHeader {
		return ""
	}
	return rp.nameAt(rp.fixed.PrintNameOffset, rp.fixed.PrintNameLength)
}

// Absolute reports whether a symlink reparse point is absolute. Non-symlink
// reparse points (mount points are always absolute volume references) report
// true.
func (rp *ReparsePoint) Absolute() bool {
	if rp.tag != ReparseTagSymlink {
		return true
	}
	return rp.flags == SymlinkFlagAbsolute
}

// Relative reports whether a symlink reparse point is relative. Non-symlink
// reparse points report false.
func (rp *ReparsePoint) Relative() bool {
	if rp.tag != ReparseTagSymlink {
		return false
	}
	return rp.flags == SymlinkFlagRelative
}
