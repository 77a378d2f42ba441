package wim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenValidatesHeader(t *testing.T) {
	fx := buildFixture(t)

	a, err := Open(bytes.NewReader(fx.raw))
	require.NoError(t, err)
	require.Equal(t, versionDefault, a.Header().Version)
	require.EqualValues(t, 1, a.Header().ImageCount)
}

func TestOpenRejectsBadTag(t *testing.T) {
	fx := buildFixture(t)
	raw := append([]byte{}, fx.raw...)
	copy(raw[:8], "NOTAWIM\x00")

	_, err := Open(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrInvalidHeader)
}

func TestOpenRejectsWrongVersion(t *testing.T) {
	fx := buildFixture(t)
	raw := append([]byte{}, fx.raw...)
	// Version is the 4 bytes right after the 8-byte tag and 4-byte header size.
	raw[12] = 0xff

	_, err := Open(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestArchiveResourcesAndImages(t *testing.T) {
	fx := buildFixture(t)

	a, err := Open(bytes.NewReader(fx.raw))
	require.NoError(t, err)

	require.Len(t, a.Resources(), 4)

	images, err := a.Images()
	require.NoError(t, err)
	require.Len(t, images, 1)
}
