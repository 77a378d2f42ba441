// Package lzx implements the WIM variant of the LZX compression algorithm
// used to decompress individual chunks of a WIM resource. It decodes a
// single 32KB-or-smaller block in one shot and has no notion of archive
// layout; callers (wim.CompressedStream) are responsible for locating and
// concatenating chunk boundaries.
package lzx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	mainCodeCount = 496
	mainCodeSplit = 256
	lenCodeCount  = 249

	maxBlockSize = 32768
	windowSize   = 32768

	maxTreePathLen = 16

	e8FileSize  = 12000000
	maxE8Offset = 0x3fffffff

	blockVerbatim      = 1
	blockAlignedOffset = 2
	blockUncompressed  = 3
)

var footerBits = [...]byte{
	0, 0, 0, 0, 1, 1, 2, 2,
	3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10,
	11, 11, 12, 12, 13, 13, 14,
}

var basePosition = [...]uint16{
	0, 1, 2, 3, 4, 6, 8, 12,
	16, 24, 32, 48, 64, 96, 128, 192,
	256, 384, 512, 768, 1024, 1536, 2048, 3072,
	4096, 6144, 8192, 12288, 16384, 24576, 32768,
}

var errCorrupt = errors.New("lzx: corrupt stream")

// byteReader is what the bit reader needs from its source; a *bufio.Reader
// wraps anything that isn't already one.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// bitReader pulls a WIM LZX stream apart 16 bits at a time, most significant
// bit first, matching the bit order the MS-PATENT LZX description uses.
type bitReader struct {
	r         byteReader
	err       error
	unaligned bool
	nbits     byte
	bits      uint32
}

func (f *bitReader) feed() bool {
	if f.err != nil {
		return true
	}
	b0, err := f.r.ReadByte()
	var b1 byte
	if err == nil {
		b1, err = f.r.ReadByte()
	}
	if err != nil {
		if err == io.EOF {
			return false
		}
		f.err = err
	}
	f.bits |= (uint32(b1)<<8 | uint32(b0)) << (16 - f.nbits)
	f.nbits += 16
	return true
}

func (f *bitReader) getBits(n byte) uint16 {
	if f.nbits < n {
		if !f.feed() {
			f.err = io.ErrUnexpectedEOF
		}
	}
	c := uint16(f.bits >> (32 - n))
	f.bits <<= n
	f.nbits -= n
	return c
}

type huffman struct {
	lens    []byte
	table   []uint16
	maxbits byte
}

// buildTable builds a canonical Huffman decoding table from per-symbol code
// lengths. See https://en.wikipedia.org/wiki/Canonical_Huffman_code.
func buildTable(codelens []byte) *huffman {
	var count [maxTreePathLen + 1]uint
	var max byte
	for _, cl := range codelens {
		count[cl]++
		if max < cl {
			max = cl
		}
	}

	if max == 0 {
		return &huffman{}
	}

	var first [maxTreePathLen + 1]uint
	code := uint(0)
	for i := byte(1); i <= max; i++ {
		code <<= 1
		first[i] = code
		code += count[i]
	}

	if code != 1<<max {
		return nil
	}

	table := make([]uint16, 1<<max)
	for i, cl := range codelens {
		if cl == 0 {
			continue
		}
		code := first[cl]
		extendedCode := code << (max - cl)
		for j := uint(0); j < 1<<(max-cl); j++ {
			table[extendedCode+j] = uint16(i)
		}
		first[cl]++
	}

	return &huffman{lens: codelens, table: table, maxbits: max}
}

func (f *bitReader) getCode(h *huffman) uint16 {
	if h.maxbits == 0 {
		f.err = errCorrupt
		return 0
	}
	if f.nbits < maxTreePathLen {
		f.feed()
	}
	c := h.table[f.bits>>(32-h.maxbits)]
	n := h.lens[c]
	if f.nbits < n {
		f.err = io.ErrUnexpectedEOF
		return 0
	}
	f.bits <<= n
	f.nbits -= n
	return c
}

func mod17(b byte) byte {
	for b >= 17 {
		b -= 17
	}
	return b
}

type decoder struct {
	bitReader
	lru    [3]uint16
	window [windowSize]byte

	mainlens [mainCodeCount]byte
	lenlens  [lenCodeCount]byte
}

// readTree decodes path lengths into lens, which must hold the previous
// block's tree (zeroed for the first block): lengths are deltas encoded via
// a small pre-tree.
func (d *decoder) readTree(lens []byte) error {
	var pretreeLen [20]byte
	for i := range pretreeLen {
		pretreeLen[i] = byte(d.getBits(4))
	}
	if d.err != nil {
		return d.err
	}
	h := buildTable(pretreeLen[:])

	for i := 0; i < len(lens); {
		c := byte(d.getCode(h))
		if d.err != nil {
			return d.err
		}
		switch {
		case c <= 16:
			lens[i] = mod17(lens[i] + 17 - c)
			i++
		case c == 17:
			zeroes := int(d.getBits(4)) + 4
			if i+zeroes > len(lens) {
				return errCorrupt
			}
			for j := 0; j < zeroes; j++ {
				lens[i+j] = 0
			}
			i += zeroes
		case c == 18:
			zeroes := int(d.getBits(5)) + 20
			if i+zeroes > len(lens) {
				return errCorrupt
			}
			for j := 0; j < zeroes; j++ {
				lens[i+j] = 0
			}
			i += zeroes
		case c == 19:
			same := int(d.getBits(1)) + 4
			if i+same > len(lens) {
				return errCorrupt
			}
			c = byte(d.getCode(h))
			if c > 16 {
				return errCorrupt
			}
			l := mod17(lens[i] + 17 - c)
			for j := 0; j < same; j++ {
				lens[i+j] = l
			}
			i += same
		default:
			return errCorrupt
		}
	}

	return d.err
}

func (d *decoder) readBlockHeader() (byte, uint16, error) {
	if d.unaligned {
		if _, err := d.r.ReadByte(); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, 0, err
		}
		d.unaligned = false
	}

	blockType := d.getBits(3)
	full := d.getBits(1)
	var blockSize uint16
	if full != 0 {
		blockSize = maxBlockSize
	} else {
		blockSize = d.getBits(16)
		if blockSize > maxBlockSize {
			return 0, 0, errCorrupt
		}
	}
	if d.err != nil {
		return 0, 0, d.err
	}

	switch blockType {
	case blockVerbatim, blockAlignedOffset:
		// caller reads the Huffman trees next

	case blockUncompressed:
		n := d.nbits
		if n == 0 {
			n = 16
		}
		d.getBits(n)
		if d.err != nil {
			return 0, 0, d.err
		}

		var lru [12]byte
		if _, err := io.ReadFull(d.r, lru[:]); err != nil {
			return 0, 0, err
		}
		d.lru[0] = uint16(binary.LittleEndian.Uint32(lru[0:4]))
		d.lru[1] = uint16(binary.LittleEndian.Uint32(lru[4:8]))
		d.lru[2] = uint16(binary.LittleEndian.Uint32(lru[8:12]))

	default:
		return 0, 0, errCorrupt
	}

	return byte(blockType), blockSize, nil
}

func (d *decoder) readTrees(readAligned bool) (main, length, aligned *huffman, err error) {
	if readAligned {
		var alignedLen [8]byte
		for i := range alignedLen {
			alignedLen[i] = byte(d.getBits(3))
		}
		aligned = buildTable(alignedLen[:])
		if aligned == nil {
			return nil, nil, nil, errCorrupt
		}
	}

	if err = d.readTree(d.mainlens[:mainCodeSplit]); err != nil {
		return
	}
	if err = d.readTree(d.mainlens[mainCodeSplit:]); err != nil {
		return
	}
	main = buildTable(d.mainlens[:])
	if main == nil {
		return nil, nil, nil, errCorrupt
	}

	if err = d.readTree(d.lenlens[:]); err != nil {
		return
	}
	length = buildTable(d.lenlens[:])
	if length == nil {
		return nil, nil, nil, errCorrupt
	}

	err = d.err
	return
}

func (d *decoder) readCompressedBlock(start, end uint16, hmain, hlength, haligned *huffman) (int, error) {
	for i := start; i < end; {
		main := d.getCode(hmain)
		if d.err != nil {
			return int(i - start), d.err
		}
		if main < 256 {
			d.window[i] = byte(main)
			i++
			continue
		}

		lenheader := (main - 256) % 8
		slot := (main - 256) / 8

		var matchlen uint16
		if lenheader == 7 {
			matchlen = d.getCode(hlength) + 7
		} else {
			matchlen = lenheader
		}
		matchlen += 2

		var matchoffset uint16
		if slot < 3 {
			matchoffset = d.lru[slot]
			d.lru[slot] = d.lru[0]
			d.lru[0] = matchoffset
		} else {
			offsetbits := footerBits[slot]
			var verbatimbits, alignedbits uint16
			if offsetbits > 0 {
				if haligned != nil && offsetbits >= 3 {
					verbatimbits = d.getBits(offsetbits-3) * 8
					alignedbits = d.getCode(haligned)
				} else {
					verbatimbits = d.getBits(offsetbits)
				}
			}
			matchoffset = basePosition[slot] + verbatimbits + alignedbits - 2
			d.lru[2] = d.lru[1]
			d.lru[1] = d.lru[0]
			d.lru[0] = matchoffset
		}

		if matchoffset > i || matchlen > end-i {
			return int(i - start), errCorrupt
		}

		for j := uint16(0); j < matchlen; j++ {
			d.window[i+j] = d.window[i+j-matchoffset]
		}
		i += matchlen
	}
	return int(end - start), nil
}

func (d *decoder) readBlock(start uint16) (int, error) {
	blockType, size, err := d.readBlockHeader()
	if err != nil {
		return 0, err
	}

	if blockType == blockUncompressed {
		if size%2 == 1 {
			d.unaligned = true
		}
		return io.ReadFull(d.r, d.window[start:start+size])
	}

	hmain, hlength, haligned, err := d.readTrees(blockType == blockAlignedOffset)
	if err != nil {
		return 0, err
	}

	return d.readCompressedBlock(start, start+size, hmain, hlength, haligned)
}

// decodeE8 reverses the x86 CALL-instruction (0xE8) address translation WIM
// applies before compressing executable chunks.
func decodeE8(b []byte) {
	if len(b) < 10 {
		return
	}
	for i := 0; i < len(b)-10; i++ {
		if b[i] != 0xe8 {
			continue
		}
		currentPtr := int32(i)
		abs := int32(binary.LittleEndian.Uint32(b[i+1 : i+5]))
		if abs >= -currentPtr && abs < e8FileSize {
			var rel int32
			if abs >= 0 {
				rel = abs - currentPtr
			} else {
				rel = abs + e8FileSize
			}
			binary.LittleEndian.PutUint32(b[i+1:i+5], uint32(rel))
		}
		i += 4
	}
}

// Decompress decodes a single LZX-compressed chunk, returning exactly
// wantSize bytes. wantSize must not exceed the 32KB window size, which
// bounds every chunk in a WIM resource.
func Decompress(src []byte, wantSize int) ([]byte, error) {
	if wantSize > windowSize {
		return nil, errors.Errorf("lzx: chunk size %d exceeds window size %d", wantSize, windowSize)
	}

	d := &decoder{lru: [3]uint16{1, 1, 1}}
	d.bitReader.r = bufio.NewReader(bytes.NewReader(src))

	n := 0
	for n < wantSize {
		k, err := d.readBlock(uint16(n))
		if err != nil {
			return nil, errors.Wrap(err, "lzx: decode block")
		}
		n += k
	}

	out := make([]byte, wantSize)
	copy(out, d.window[:wantSize])
	decodeE8(out)
	return out, nil
}
