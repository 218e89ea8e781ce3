package models

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssdlite/config"
	"github.com/nvr-ai/go-ssdlite/models/model"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Backbone.Family = model.FamilySqueezeNet
	cfg.Backbone.Levels = []model.Level{4, 5}
	cfg.Head.Anchors = []int{2, 2, 2}
	cfg.Head.Channels = 8
	cfg.Head.Classes = 3
	cfg.Labels = ""
	cfg.Input.Height, cfg.Input.Width = 64, 64
	return cfg
}

func gradient(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 2), B: 90, A: 255})
		}
	}
	return img
}

func TestDetectorRun(t *testing.T) {
	d, err := NewDetector(context.Background(), smallConfig())
	require.NoError(t, err)
	defer d.Close()

	total := 2*4*4 + 2*2*2 + 2*1*1
	assert.Equal(t, total, d.PriorCount())
	assert.Equal(t, total, d.Head().PriorCount(64, 64))

	x := tensor.New(tensor.WithShape(3, 64, 64), tensor.WithBacking(make([]float32, 3*64*64)))
	loc, cls, err := d.Run(x)
	require.NoError(t, err)
	assert.True(t, tensor.Shape{1, total, 4}.Eq(loc.Shape()), "loc %v", loc.Shape())
	assert.True(t, tensor.Shape{1, total, 3}.Eq(cls.Shape()), "cls %v", cls.Shape())
	assert.Len(t, loc.Data().([]float32), total*4)
	assert.True(t, tensor.Shape{3, 64, 64}.Eq(x.Shape()), "input must keep its shape")

	// The machine is reusable.
	_, _, err = d.Run(x)
	require.NoError(t, err)

	_, _, err = d.Run(tensor.New(tensor.WithShape(1, 3, 32, 32), tensor.WithBacking(make([]float32, 3*32*32))))
	assert.Error(t, err)
	_, _, err = d.Run(tensor.New(tensor.WithShape(1, 3, 64, 64), tensor.WithBacking(make([]float64, 3*64*64))))
	assert.Error(t, err)
}

func TestDetectorDetect(t *testing.T) {
	d, err := NewDetector(context.Background(), smallConfig())
	require.NoError(t, err)
	defer d.Close()

	d.Decode.ScoreThreshold = 0
	d.Decode.TopK = 10
	dets, err := d.Detect(gradient(80, 48))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(dets), 10)
	for i, r := range dets {
		assert.NotZero(t, r.Class)
		assert.GreaterOrEqual(t, r.Box.X1, float32(0))
		assert.LessOrEqual(t, r.Box.X2, float32(80))
		assert.LessOrEqual(t, r.Box.Y2, float32(48))
		if i > 0 {
			assert.GreaterOrEqual(t, dets[i-1].Score, r.Score)
		}
	}
}

func TestDetectorFloat64(t *testing.T) {
	cfg := smallConfig()
	cfg.Backbone.Precision = model.PrecisionFP64
	d, err := NewDetector(context.Background(), cfg)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Detect(gradient(64, 64))
	require.NoError(t, err)
}

func TestNewDetectorErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"levels", func(c *config.Config) { c.Backbone.Levels = []model.Level{3, 4} }},
		{"pretrained gn", func(c *config.Config) { c.Backbone.Pretrained = true; c.Backbone.Norm = "gn" }},
		{"anchors", func(c *config.Config) { c.Head.Anchors = []int{1, 1, 1, 1, 1, 1, 1} }},
		{"input", func(c *config.Config) { c.Input.Width = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			d, err := NewDetector(context.Background(), cfg)
			assert.Nil(t, d)
			assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)
		})
	}
}

func TestDescribe(t *testing.T) {
	d, err := NewDetector(context.Background(), smallConfig())
	require.NoError(t, err)
	defer d.Close()

	var buf bytes.Buffer
	d.Describe(&buf)
	out := buf.String()
	assert.Contains(t, out, "backbone squeezenet")
	assert.Contains(t, out, "* layer4")
	assert.Contains(t, out, "  layer3")
	assert.Contains(t, out, "C6: 1x1 x 2 anchors")
	assert.Contains(t, out, "priors: 42")
}
