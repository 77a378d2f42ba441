package wim

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func openFixtureImage(t *testing.T) (*Archive, *Image, fixture) {
	t.Helper()
	fx := buildFixture(t)

	a, err := Open(bytes.NewReader(fx.raw))
	require.NoError(t, err)

	images, err := a.Images()
	require.NoError(t, err)
	require.Len(t, images, 1)

	return a, images[0], fx
}

func TestRootListdir(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	children, err := img.Root.Listdir()
	require.NoError(t, err)
	require.Contains(t, children, "docs")
	require.Contains(t, children, "file.txt")
	require.Contains(t, children, "link")

	require.True(t, children["docs"].IsDir())
	require.True(t, children["file.txt"].IsFile())
	require.True(t, children["link"].IsReparsePoint())
}

func TestGetResolvesEitherSeparator(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	byBackslash, err := img.Get(`\file.txt`, nil)
	require.NoError(t, err)

	byForwardSlash, err := img.Get(`/file.txt`, nil)
	require.NoError(t, err)

	require.Equal(t, byBackslash.Name, byForwardSlash.Name)
}

func TestGetMissingPathFails(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	_, err := img.Get("nope.txt", nil)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileDefaultStreamContent(t *testing.T) {
	_, img, fx := openFixtureImage(t)

	entry, err := img.Get("file.txt", nil)
	require.NoError(t, err)

	stream, err := entry.Open("")
	require.NoError(t, err)

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, fx.fileContent, got)

	size, err := entry.Size("")
	require.NoError(t, err)
	require.EqualValues(t, len(fx.fileContent), size)
}

func TestFileAlternateDataStream(t *testing.T) {
	_, img, fx := openFixtureImage(t)

	entry, err := img.Get("file.txt", nil)
	require.NoError(t, err)

	stream, err := entry.Open("ads1")
	require.NoError(t, err)

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, fx.adsContent, got)
}

func TestOpenUnknownStreamFails(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	entry, err := img.Get("file.txt", nil)
	require.NoError(t, err)

	_, err = entry.Open("does-not-exist")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestIterdirOnFileFails(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	entry, err := img.Get("file.txt", nil)
	require.NoError(t, err)

	_, err = entry.Iterdir()
	require.ErrorIs(t, err, ErrNotADirectory)
}

func TestEmptyDirectoryHasNoChildren(t *testing.T) {
	_, img, _ := openFixtureImage(t)

	docs, err := img.Get("docs", nil)
	require.NoError(t, err)

	children, err := docs.Listdir()
	require.NoError(t, err)
	require.Empty(t, children)
}
