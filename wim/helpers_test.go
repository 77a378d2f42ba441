package wim

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

// fixture is a minimal, entirely synthetic, uncompressed WIM archive built
// in memory: one image whose root directory holds a subdirectory ("docs"),
// a file ("file.txt") carrying one alternate data stream ("ads1"), and a
// symlink reparse point ("link"). The pack contains no real WIM sample
// data, so tests exercise the format against fixtures constructed directly
// from the binary layout this package itself defines.
type fixture struct {
	raw         []byte
	fileContent []byte
	adsContent  []byte
	linkTarget  string
	printName   string
}

type streamSpec struct {
	name string
	hash SHA1Hash
}

type dentrySpec struct {
	name       string
	dir        bool
	reparse    bool
	reparseTag ReparseTag
	streams    []streamSpec
}

func buildFixture(t *testing.T) fixture {
	t.Helper()

	fileContent := []byte("hello from file.txt\n")
	adsContent := []byte("alternate stream content\n")
	linkTarget := `C:\target`
	printName := "target"

	fileHash := SHA1Hash(sha1.Sum(fileContent))
	adsHash := SHA1Hash(sha1.Sum(adsContent))
	linkHash := SHA1Hash(sha1.Sum([]byte(linkTarget)))
	metaHash := SHA1Hash(sha1.Sum([]byte("metadata")))

	linkBuf := buildSymlinkReparseBuffer(t, linkTarget, printName)

	metaBytes := buildMetadata(t, []dentrySpec{
		{name: "docs", dir: true},
		{
			name: "file.txt",
			streams: []streamSpec{
				{name: "", hash: fileHash},
				{name: "ads1", hash: adsHash},
			},
		},
		{
			name:       "link",
			reparse:    true,
			reparseTag: ReparseTagSymlink,
			streams:    []streamSpec{{name: "", hash: linkHash}},
		},
	})

	const headerStart = headerSize
	offMeta := int64(headerStart)
	offFile := offMeta + int64(len(metaBytes))
	offAds := offFile + int64(len(fileContent))
	offLink := offAds + int64(len(adsContent))
	offTable := offLink + int64(len(linkBuf))

	table := buildResourceTable(t, []resourceTableEntry{
		tableEntry(offMeta, int64(len(metaBytes)), resFlagMetadata, metaHash),
		tableEntry(offFile, int64(len(fileContent)), 0, fileHash),
		tableEntry(offAds, int64(len(adsContent)), 0, adsHash),
		tableEntry(offLink, int64(len(linkBuf)), 0, linkHash),
	})

	hdr := wimHeader{
		ImageTag:        wimImageTag,
		HeaderSize:      headerSize,
		Version:         versionDefault,
		ImageCount:      1,
		OffsetTable:     shortHeader(offTable, int64(len(table)), 0),
	}

	var out bytes.Buffer
	mustWrite(t, &out, hdr)
	out.Write(metaBytes)
	out.Write(fileContent)
	out.Write(adsContent)
	out.Write(linkBuf)
	out.Write(table)

	return fixture{
		raw:         out.Bytes(),
		fileContent: fileContent,
		adsContent:  adsContent,
		linkTarget:  linkTarget,
		printName:   printName,
	}
}

// buildMetadata writes a security block (empty), the root directory entry,
// and the given sibling list as the root's children.
func buildMetadata(t *testing.T, children []dentrySpec) []byte {
	t.Helper()

	var buf bytes.Buffer
	mustWrite(t, &buf, securityBlockHeader{TotalLength: 8, NumEntries: 0})

	emptyFixed := encode(t, direntryFixed{})
	childOffset := align8(int64(buf.Len()) + int64(len(emptyFixed)))

	root := direntryFixed{
		Attributes:   uint32(FileAttributeDirectory),
		SubdirOffset: uint64(childOffset),
		Length:       uint64(len(emptyFixed)),
	}
	buf.Write(encode(t, root))
	padTo8(&buf)

	if int64(buf.Len()) != childOffset {
		t.Fatalf("root padding landed at %d, want %d", buf.Len(), childOffset)
	}

	var subdirPatches []int // byte offsets of each directory entry's SubdirOffset field
	for _, spec := range children {
		start := buf.Len()
		writeDentry(t, &buf, spec)
		if spec.dir {
			subdirPatches = append(subdirPatches, start+16) // Length+Attributes+SecurityID
		}
		padTo8(&buf)
	}

	var zero [8]byte
	buf.Write(zero[:]) // sibling-list terminator

	// Every directory child gets its own (empty) subdirectory: a lone
	// terminator placed after the sibling list, patched back into the
	// entry's SubdirOffset field now that its offset is known.
	out := buf.Bytes()
	for _, patchOffset := range subdirPatches {
		emptyChildOffset := int64(len(out))
		out = append(out, zero[:]...)
		binary.LittleEndian.PutUint64(out[patchOffset:patchOffset+8], uint64(emptyChildOffset))
	}

	return out
}

func writeDentry(t *testing.T, w *bytes.Buffer, spec dentrySpec) {
	t.Helper()

	nameBytes := utf16Bytes(spec.name)

	fixed := direntryFixed{
		Attributes:     attributesFor(spec),
		FileNameLength: uint16(len(nameBytes)),
		StreamCount:    uint16(len(spec.streams)),
	}
	if spec.reparse {
		fixed.ReparseHardLink = uint64(uint32(spec.reparseTag))
	}
	if len(spec.streams) == 1 {
		fixed.Hash = spec.streams[0].hash
	}

	nameField := append(append([]byte{}, nameBytes...), 0, 0) // 2-byte NUL terminator
	fixed.Length = uint64(len(encode(t, fixed)) + len(nameField))

	w.Write(encode(t, fixed))
	w.Write(nameField)

	for _, s := range spec.streams {
		writeStreamEntry(t, w, s)
	}
}

func attributesFor(spec dentrySpec) uint32 {
	var a uint32
	if spec.dir {
		a |= uint32(FileAttributeDirectory)
	}
	if spec.reparse {
		a |= uint32(FileAttributeReparsePoint)
	}
	return a
}

func writeStreamEntry(t *testing.T, w *bytes.Buffer, s streamSpec) {
	t.Helper()
	padTo8(w)

	nameBytes := utf16Bytes(s.name)

	fixed := streamentryFixed{Hash: s.hash, StreamNameLength: uint16(len(nameBytes))}
	extra := 0
	if len(nameBytes) > 0 {
		extra = len(nameBytes) + 2
	}
	fixed.Length = uint64(streamentryFixedSize + extra)

	w.Write(encode(t, fixed))
	if len(nameBytes) > 0 {
		w.Write(nameBytes)
		w.Write([]byte{0, 0})
	}
}

func buildSymlinkReparseBuffer(t *testing.T, substitute, print string) []byte {
	t.Helper()

	subUTF16 := utf16Bytes(substitute)
	printUTF16 := utf16Bytes(print)
	names := append(append([]byte{}, subUTF16...), printUTF16...)

	fixed := reparseBufferFixed{
		SubstituteNameOffset: 0,
		SubstituteNameLength: uint16(len(subUTF16)),
		PrintNameOffset:      uint16(len(subUTF16)),
		PrintNameLength:      uint16(len(printUTF16)),
	}

	var buf bytes.Buffer
	buf.Write(encode(t, fixed))
	mustWrite(t, &buf, uint32(SymlinkFlagAbsolute))
	buf.Write(names)
	return buf.Bytes()
}

func buildResourceTable(t *testing.T, entries []resourceTableEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		mustWrite(t, &buf, e)
	}
	return buf.Bytes()
}

func tableEntry(offset, size int64, flags resFlag, hash SHA1Hash) resourceTableEntry {
	return resourceTableEntry{
		Base:       shortHeader(offset, size, flags),
		PartNumber: 0,
		RefCount:   1,
		Hash:       hash,
	}
}

func shortHeader(offset, size int64, flags resFlag) shortResourceHeader {
	return shortResourceHeader{
		FlagsAndSize: uint64(size)&0x00ffffffffffffff | uint64(flags)<<56,
		Offset:       uint64(offset),
		OriginalSize: uint64(size),
	}
}

func utf16Bytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	mustWrite(t, &buf, v)
	return buf.Bytes()
}

func mustWrite(t *testing.T, w *bytes.Buffer, v any) {
	t.Helper()
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		t.Fatalf("encode %T: %v", v, err)
	}
}

func padTo8(w *bytes.Buffer) {
	if rem := w.Len() % 8; rem != 0 {
		w.Write(make([]byte, 8-rem))
	}
}
