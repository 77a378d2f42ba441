package wim

import "encoding/hex"

// SHA1Hash is the content-addressing key used throughout a WIM archive:
// every resource is identified by the SHA-1 hash of its decompressed bytes,
// and every stream entry references a resource by this hash. Per spec, the
// hash is used purely as a lookup key; this package never recomputes or
// verifies it.
type SHA1Hash [20]byte

func (h SHA1Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash, which never designates a
// real resource.
func (h SHA1Hash) IsZero() bool {
	return h == SHA1Hash{}
}
