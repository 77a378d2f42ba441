package wim

import (
	"encoding/binary"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Decompressor decompresses one independently-compressed chunk. src holds
// the compressed chunk bytes; the implementation must return exactly
// wantSize decompressed bytes (the uncompressed size the caller expects for
// that chunk, derived from the chunk table). Decompressors are pure,
// stateless byte-in/byte-out transforms: the specific algorithm (XPRESS,
// LZX, LZMS) is an external collaborator, not part of this package.
type Decompressor func(src []byte, wantSize int) ([]byte, error)

// decompressorRegistry maps a header compression-algorithm flag (the high
// 16 bits of wimHeader.Flags) to the Decompressor that handles it.
type decompressorRegistry map[uint32]Decompressor

// DefaultChunkSize is the uncompressed chunk size WIM archives use when the
// header's CompressionSize field is absent or zero.
const DefaultChunkSize = 32 * 1024

// chunkCacheSize is the capacity, in decompressed chunks, of each
// CompressedStream's LRU cache, per spec.
const chunkCacheSize = 32

// CompressedStream provides random-access, decompressed reads over a
// chunked-compressed resource. Chunk 0 begins immediately after the chunk
// table; every other chunk's compressed start offset is read from the
// table, relative to the end of the table. Decompressed chunks are cached
// in a bounded LRU (capacity 32) keyed by compressed chunk start offset, so
// repeated or overlapping reads of the same chunk do not redecompress it.
type CompressedStream struct {
	r              io.ReaderAt
	resourceOffset int64
	compressedSize int64
	originalSize   int64
	chunkSize      int64
	decompress     Decompressor

	// offsets[i] is the compressed start offset of chunk i, relative to
	// the end of the chunk table. offsets[0] is always 0.
	offsets []int64

	cache  *lru.Cache[int64, []byte]
	cursor int64
}

// newCompressedStream parses the chunk table at the start of the resource
// and returns a stream ready for random-access reads.
func newCompressedStream(r io.ReaderAt, resourceOffset, compressedSize, originalSize int64, chunkSize uint32, decompress Decompressor) (*CompressedStream, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	totalChunks := 0
	if originalSize > 0 {
		totalChunks = int(ceilDiv(originalSize, int64(chunkSize)))
	}

	offsets := make([]int64, totalChunks)
	if totalChunks > 1 {
		n := totalChunks - 1
		entryWidth := 4
		if originalSize > 0xFFFFFFFF {
			entryWidth = 8
		}
		tableBuf := make([]byte, n*entryWidth)
		if _, err := io.ReadFull(io.NewSectionReader(r, resourceOffset, int64(len(tableBuf))), tableBuf); err != nil {
			return nil, errors.Wrap(err, "read chunk table")
		}
		for i := 0; i < n; i++ {
			if entryWidth == 4 {
				offsets[i+1] = int64(binary.LittleEndian.Uint32(tableBuf[i*4 : i*4+4]))
			} else {
				offsets[i+1] = int64(binary.LittleEndian.Uint64(tableBuf[i*8 : i*8+8]))
			}
		}
	}

	cache, err := lru.New[int64, []byte](chunkCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create chunk cache")
	}

	return &CompressedStream{
		r:              r,
		resourceOffset: resourceOffset,
		compressedSize: compressedSize,
		originalSize:   originalSize,
		chunkSize:      int64(chunkSize),
		decompress:     decompress,
		offsets:        offsets,
		cache:          cache,
	}, nil
}

func (c *CompressedStream) tableLen() int64 {
	n := len(c.offsets) - 1
	if n <= 0 {
		return 0
	}
	entryWidth := int64(4)
	if c.originalSize > 0xFFFFFFFF {
		entryWidth = 8
	}
	return int64(n) * entryWidth
}

// chunkPhysicalRange returns the absolute [start, end) byte range of chunk
// idx's compressed data within the backing reader.
func (c *CompressedStream) chunkPhysicalRange(idx int) (start, end int64) {
	tableLen := c.tableLen()
	start = c.resourceOffset + tableLen + c.offsets[idx]
	if idx == len(c.offsets)-1 {
		end = c.resourceOffset + c.compressedSize
	} else {
		end = c.resourceOffset + tableLen + c.offsets[idx+1]
	}
	return start, end
}

// chunkUncompressedSize returns the number of uncompressed bytes chunk idx
// expands to.
func (c *CompressedStream) chunkUncompressedSize(idx int) int64 {
	if idx == len(c.offsets)-1 {
		return c.originalSize - int64(idx)*c.chunkSize
	}
	return c.chunkSize
}

// readChunk returns the decompressed bytes of chunk idx, serving from the
// LRU cache when possible.
func (c *CompressedStream) readChunk(idx int) ([]byte, error) {
	start, end := c.chunkPhysicalRange(idx)
	if buf, ok := c.cache.Get(start); ok {
		return buf, nil
	}

	if end < start {
		return nil, errors.Wrapf(ErrMalformed, "chunk %d has negative length", idx)
	}

	compressed := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(c.r, start, end-start), compressed); err != nil {
		return nil, errors.Wrapf(err, "read chunk %d", idx)
	}

	wantSize := int(c.chunkUncompressedSize(idx))
	decompressed, err := c.decompress(compressed, wantSize)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress chunk %d", idx)
	}

	if len(decompressed) != wantSize {
		return nil, errors.Wrapf(ErrMalformed, "chunk %d decompressed to %d bytes, want %d", idx, len(decompressed), wantSize)
	}

	c.cache.Add(start, decompressed)
	return decompressed, nil
}

// ReadAt implements io.ReaderAt over the uncompressed image of the
// resource, per the read algorithm in the chunked-decompression spec: it
// walks the chunks overlapping [off, off+len(p)), fetching each via the LRU
// cache, and copies the requested slice out of each.
func (c *CompressedStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("wim: negative ReadAt offset")
	}
	if off >= c.originalSize {
		return 0, io.EOF
	}

	total := 0
	length := int64(len(p))
	if off+length > c.originalSize {
		length = c.originalSize - off
	}

	chunkIdx := int(off / c.chunkSize)
	intra := off % c.chunkSize

	for length > 0 && chunkIdx < len(c.offsets) {
		buf, err := c.readChunk(chunkIdx)
		if err != nil {
			return total, err
		}

		uncompressedRemaining := int64(len(buf)) - intra
		take := uncompressedRemaining
		if take > length {
			take = length
		}

		n := copy(p[total:int64(total)+take], buf[intra:intra+take])
		total += n
		length -= take
		chunkIdx++
		intra = 0
	}

	var err error
	if int64(total) < int64(len(p)) {
		err = io.EOF
	}
	return total, err
}

// Read implements io.Reader using an internal cursor.
func (c *CompressedStream) Read(p []byte) (int, error) {
	n, err := c.ReadAt(p, c.cursor)
	c.cursor += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (c *CompressedStream) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = c.cursor + offset
	case io.SeekEnd:
		newOffset = c.originalSize + offset
	default:
		return 0, errors.New("wim: invalid whence")
	}
	if newOffset < 0 {
		return 0, errors.New("wim: negative seek position")
	}
	c.cursor = newOffset
	return newOffset, nil
}

// Size returns the logical (uncompressed) length of the stream.
func (c *CompressedStream) Size() int64 {
	return c.originalSize
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
