package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallConfig = `
backbone:
  family: squeezenet
  levels: [4, 5]
head:
  anchors: [2, 2, 2]
  channels: 8
  classes: 3
labels: ""
input:
  height: 64
  width: 64
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSearch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, search([]string{"-n", "2", "mobilenetv2"}, &buf))
	assert.Equal(t, "mobilenetv2_w1\nmobilenetv2_wd2\n", buf.String())

	buf.Reset()
	require.NoError(t, search([]string{"resnet18"}, &buf))
	assert.Equal(t, "resnet18: resnet\n", buf.String())

	assert.Error(t, search([]string{"zzzzzz"}, &buf))
	assert.Error(t, search(nil, &buf))
}

func TestDescribe(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "small.yaml", smallConfig)
	var buf bytes.Buffer
	require.NoError(t, describe(context.Background(), []string{"-config", cfg}, &buf))
	assert.Contains(t, buf.String(), "priors: 42")

	assert.Error(t, describe(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "none.yaml")}, &buf))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "small.yaml", smallConfig)

	imgs := filepath.Join(dir, "images")
	require.NoError(t, os.Mkdir(imgs, 0o700))
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	img.Set(3, 3, color.NRGBA{G: 200, A: 255})
	f, err := os.Create(filepath.Join(imgs, "frame-1.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", cfg, "-image", imgs, "-repeat", "2", "-threshold", "0.99"}, &buf))
	out := buf.String()
	assert.Contains(t, out, "frame-1.png (40x30)")
	assert.Contains(t, out, "detect: mean=")
	assert.Contains(t, out, "count=2")

	assert.Error(t, run(context.Background(), []string{"-config", cfg}, &buf))
}
