package wim

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// SecurityBlock holds the per-image table of NT security descriptors. It is
// the leading structure of every image's decompressed metadata stream:
// a header giving the number and length of each descriptor, followed by
// the descriptor bytes themselves, padded to an 8-byte boundary.
type SecurityBlock struct {
	Descriptors [][]byte

	// size is the number of metadata-stream bytes the security block
	// occupies, including its 8-byte alignment padding. The directory
	// tree begins at this offset (realigned to 8 bytes by the caller, per
	// spec — alignment is already accounted for here).
	size int64
}

// readSecurityBlock parses a SecurityBlock starting at the reader's current
// position and returns it, with the number of bytes consumed (including
// trailing alignment padding) recorded in its size field.
func readSecurityBlock(r io.Reader) (SecurityBlock, error) {
	var hdr securityBlockHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return SecurityBlock{}, errors.Wrap(err, "read security block header")
	}

	consumed := int64(securityBlockHeaderSize)

	lengths := make([]uint32, hdr.NumEntries)
	if hdr.NumEntries > 0 {
		if err := binary.Read(r, binary.LittleEndian, lengths); err != nil {
			return SecurityBlock{}, errors.Wrap(err, "read security descriptor lengths")
		}
		consumed += int64(hdr.NumEntries) * 4
	}

	descriptors := make([][]byte, 0, hdr.NumEntries)
	for _, length := range lengths {
		if length == 0 {
			continue
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return SecurityBlock{}, errors.Wrap(err, "read security descriptor")
		}
		consumed += int64(length)
		descriptors = append(descriptors, buf)
	}

	aligned := (int64(hdr.TotalLength) + 7) &^ 7
	if aligned < consumed {
		return SecurityBlock{}, errors.Wrap(ErrMalformed, "security descriptor table too small")
	}
	if aligned > consumed {
		if _, err := io.CopyN(io.Discard, r, aligned-consumed); err != nil {
			return SecurityBlock{}, errors.Wrap(err, "discard security block padding")
		}
		consumed = aligned
	}

	return SecurityBlock{Descriptors: descriptors, size: consumed}, nil
}
