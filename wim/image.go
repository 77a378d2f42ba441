package wim

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// Image represents one logical root of a file-system image stored in a WIM
// archive. It owns the decompressed bytes of its metadata resource for as
// long as any of its DirectoryEntry values are reachable: every
// DirectoryEntry is parsed lazily, on demand, directly out of this buffer.
type Image struct {
	archive  *Archive
	metadata []byte

	Security SecurityBlock
	Root     *DirectoryEntry
}

// newImage parses the SecurityBlock and the root DirectoryEntry out of a
// fully decompressed image metadata buffer.
func newImage(a *Archive, metadata []byte) (*Image, error) {
	r := bytes.NewReader(metadata)

	sec, err := readSecurityBlock(r)
	if err != nil {
		return nil, errors.Wrap(err, "security block")
	}

	// Advance to the next 8-byte boundary before the root directory entry.
	// readSecurityBlock already consumes its own padding up to the 8-aligned
	// TotalLength (and fails if that is smaller than the bytes it read), so
	// for any block it accepts this realignment moves nothing.
	pos, _ := r.Seek(0, 1)
	if rem := pos % 8; rem != 0 {
		if _, err := r.Seek(8-rem, 1); err != nil {
			return nil, errors.Wrap(err, "align to root directory entry")
		}
	}

	img := &Image{archive: a, metadata: metadata, Security: sec}

	root, err := readDirectoryEntry(img, r)
	if err != nil {
		return nil, errors.Wrap(err, "root directory entry")
	}
	img.Root = root

	return img, nil
}

// Get resolves a "/"- or "\"-separated path to a DirectoryEntry, starting
// from root (or the image root if root is nil). "/" is rewritten to "\"
// first since "/" is illegal in NTFS names, making the rewrite safe.
func (img *Image) Get(path string, root *DirectoryEntry) (*DirectoryEntry, error) {
	entry := root
	if entry == nil {
		entry = img.Root
	}

	for _, part := range splitPath(path) {
		children, err := entry.Listdir()
		if err != nil {
			return nil, err
		}
		next, ok := children[part]
		if !ok {
			return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
		}
		entry = next
	}

	return entry, nil
}

// splitPath rewrites "/" to "\" (illegal in NTFS names, so the rewrite is
// safe) and splits into non-empty path components.
func splitPath(path string) []string {
	normalized := strings.ReplaceAll(path, "/", `\`)

	var parts []string
	for _, part := range strings.Split(normalized, `\`) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
