package util

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.png", "frame-2.png", "b.PNG", "a.png"} {
		writePNG(t, filepath.Join(dir, name))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

	files, err := ImageFiles(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	assert.Equal(t, []string{"frame-2.png", "frame-10.png", "a.png", "b.PNG"}, names)
	assert.Equal(t, 2, files[0].Frame)
	assert.Equal(t, -1, files[2].Frame)

	img, err := files[0].Open()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
}

func TestImageFilesSingle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame-7.png")
	writePNG(t, path)

	files, err := ImageFiles(path)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 7, files[0].Frame)

	txt := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(txt, nil, 0o600))
	_, err = ImageFiles(txt)
	assert.Error(t, err)

	_, err = ImageFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
