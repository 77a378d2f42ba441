package wim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymlinkReparsePoint(t *testing.T) {
	fx := buildFixture(t)

	a, err := Open(bytes.NewReader(fx.raw))
	require.NoError(t, err)

	images, err := a.Images()
	require.NoError(t, err)

	link, err := images[0].Get("link", nil)
	require.NoError(t, err)
	require.True(t, link.IsSymlink())
	require.False(t, link.IsMountPoint())

	rp, err := link.ReparsePoint()
	require.NoError(t, err)
	require.Equal(t, fx.linkTarget, rp.SubstituteName())
	require.Equal(t, fx.printName, rp.PrintName())
	require.True(t, rp.Absolute())
	require.False(t, rp.Relative())
}

func TestReparsePointOnNonReparseEntryFails(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	entry, err := img.Get("docs", nil)
	require.NoError(t, err)

	_, err = entry.ReparsePoint()
	require.ErrorIs(t, err, ErrNotAReparsePoint)
}
