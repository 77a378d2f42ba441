package wim

import "github.com/fox-it/dissect.archive/internal/lzx"

// DefaultDecompressors returns the registry Open uses unless overridden with
// WithDecompressors. LZX is the only algorithm with a known-good, grounded
// implementation available; compressed resources in XPRESS and LZMS archives
// fail to open with ErrUnsupported unless a caller supplies their own
// Decompressor for them.
func DefaultDecompressors() map[uint32]Decompressor {
	return map[uint32]Decompressor{
		uint32(compressionFlagLZX): func(src []byte, wantSize int) ([]byte, error) {
			return lzx.Decompress(src, wantSize)
		},
	}
}
