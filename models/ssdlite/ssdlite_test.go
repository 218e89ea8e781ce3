package ssdlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssdlite/models/backbone"
	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/nn"
)

func newBackbone(t *testing.T, g *G.ExprGraph, family model.Family, levels ...model.Level) *backbone.Backbone {
	t.Helper()
	cfg := backbone.Config{Family: family, Levels: levels}
	if family == model.FamilyShuffleNetV2 {
		cfg.Mult = 0.5
	}
	b, err := backbone.New(g, cfg)
	require.NoError(t, err)
	return b
}

func TestBranchesWithoutLevel3(t *testing.T) {
	b := newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 4, 5)
	h, err := New(b, Config{Anchors: []int{6, 6, 6, 6, 4}})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 6, 6, 6, 6, 4}, h.NumAnchors())
	assert.Equal(t, 5, h.NumBranches())
	assert.Equal(t, 21, h.Classes())

	grids := h.Grids(320, 320)
	require.Len(t, grids, 5)
	assert.Equal(t, model.Level(4), grids[0].Level)
	assert.Equal(t, Grid{Level: 8, Anchors: 4, Height: 1, Width: 1}, grids[4])
}

func TestBranchesWithLevel3(t *testing.T) {
	b := newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 3, 4, 5)
	h, err := New(b, Config{})
	require.NoError(t, err)

	assert.Equal(t, []int{6, 6, 6, 6, 4}, h.NumAnchors())
	assert.Equal(t, 5, h.NumBranches())
	assert.Equal(t, 6*40*40+6*20*20+6*10*10+6*5*5+4*3*3, h.PriorCount(320, 320))
}

func TestForwardAnchorTotals(t *testing.T) {
	tests := []struct {
		name    string
		levels  []model.Level
		anchors []int
		want    int
	}{
		{"with level 3", []model.Level{3, 4, 5}, []int{6, 6, 6, 6}, 6*40*40 + 6*20*20 + 6*10*10 + 6*5*5},
		{"without level 3", []model.Level{4, 5}, []int{6, 6, 6}, 6*20*20 + 6*10*10 + 6*5*5},
		{"unpadded last scale", []model.Level{4, 5}, []int{6, 6, 6, 6, 4}, 6*20*20 + 6*10*10 + 6*5*5 + 6*3*3 + 4*1*1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := G.NewGraph()
			b := newBackbone(t, g, model.FamilyShuffleNetV2, tt.levels...)
			h, err := New(b, Config{Anchors: tt.anchors, Classes: 21})
			require.NoError(t, err)

			x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(2, 3, 320, 320), G.WithName("x"))
			loc, cls, err := h.Forward(x)
			require.NoError(t, err)

			assert.Equal(t, tt.want, h.PriorCount(320, 320))
			assert.True(t, tensor.Shape{2, tt.want, 4}.Eq(loc.Shape()), "loc %v", loc.Shape())
			assert.True(t, tensor.Shape{2, tt.want, 21}.Eq(cls.Shape()), "cls %v", cls.Shape())
		})
	}
}

func TestDroppingLevel3RemovesItsContribution(t *testing.T) {
	with, err := New(newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 3, 4, 5), Config{Anchors: []int{6, 6, 6, 6}})
	require.NoError(t, err)
	without, err := New(newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 4, 5), Config{Anchors: []int{6, 6, 6}})
	require.NoError(t, err)

	assert.Equal(t, 6*40*40, with.PriorCount(320, 320)-without.PriorCount(320, 320))
}

func TestPadLast(t *testing.T) {
	b := newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 4, 5)
	h, err := New(b, Config{Anchors: []int{6, 6, 6, 6, 4}, PadLast: true})
	require.NoError(t, err)
	grids := h.Grids(320, 320)
	assert.Equal(t, 2, grids[len(grids)-1].Height)
}

func TestConfigurationErrors(t *testing.T) {
	b345 := newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 3, 4, 5)
	b45 := newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 4, 5)

	tests := []struct {
		name string
		b    *backbone.Backbone
		cfg  Config
	}{
		{"levels 3,4", newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 3, 4), Config{}},
		{"levels 2-5", newBackbone(t, G.NewGraph(), model.FamilyShuffleNetV2, 2, 3, 4, 5), Config{}},
		{"zero anchors", b345, Config{Anchors: []int{6, 0, 6}}},
		{"too many scales", b345, Config{Anchors: []int{6, 6, 6, 6, 6, 6, 6}}},
		{"too many scales without level 3", b45, Config{Anchors: []int{6, 6, 6, 6, 6, 6}}},
		{"too few scales", b45, Config{Anchors: []int{6}}},
		{"negative classes", b345, Config{Classes: -1}},
		{"odd channels", b345, Config{Channels: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(tt.b, tt.cfg)
			assert.Nil(t, h)
			assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)
		})
	}
}

func TestFlattenOrder(t *testing.T) {
	g := G.NewGraph()
	// 2 anchors x 3 values over a 1x2 grid; value = channel*2 + column.
	p := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, 6, 1, 2), G.WithName("p"))
	out, err := flatten(p, 2, 3)
	require.NoError(t, err)

	data := make([]float32, 12)
	for c := 0; c < 6; c++ {
		for x := 0; x < 2; x++ {
			data[c*2+x] = float32(c*2 + x)
		}
	}
	require.NoError(t, G.Let(p, tensor.New(tensor.WithShape(1, 6, 1, 2), tensor.WithBacking(data))))
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	assert.Equal(t, []float32{
		0, 2, 4, // x=0, anchor 0
		6, 8, 10, // x=0, anchor 1
		1, 3, 5, // x=1, anchor 0
		7, 9, 11, // x=1, anchor 1
	}, out.Value().Data())
}

func TestForwardRun(t *testing.T) {
	g := G.NewGraph()
	b := newBackbone(t, g, model.FamilySqueezeNet, 4, 5)
	h, err := New(b, Config{Anchors: []int{2, 2, 2}, Classes: 3, Channels: 8})
	require.NoError(t, err)

	x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, 3, 64, 64), G.WithName("x"))
	loc, cls, err := h.Forward(x)
	require.NoError(t, err)

	in := make([]float32, 3*64*64)
	for i := range in {
		in[i] = float32(i%17) / 17
	}
	require.NoError(t, G.Let(x, tensor.New(tensor.WithShape(1, 3, 64, 64), tensor.WithBacking(in))))
	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	total := h.PriorCount(64, 64)
	assert.Equal(t, 2*4*4+2*2*2+2*1*1, total)
	locT, err := nn.Materialize(loc.Value())
	require.NoError(t, err)
	clsT, err := nn.Materialize(cls.Value())
	require.NoError(t, err)
	assert.Len(t, locT.Data().([]float32), total*BoxSize)
	assert.Len(t, clsT.Data().([]float32), total*3)
}

func TestPriorCountMatchesGraph(t *testing.T) {
	configs := []backbone.Config{
		{Family: model.FamilyShuffleNetV2, Mult: 0.5},
		{Family: model.FamilySNet, Version: 49},
		{Family: model.FamilyMobileNetV2, Mult: 0.25},
		{Family: model.FamilyMobileNetV3, Mult: 0.5},
		{Family: model.FamilySqueezeNet},
		{Family: model.FamilyDarknet},
		{Family: model.FamilyResNet, Name: "resnet18_wd4"},
	}
	sizes := [][2]int{{300, 300}, {301, 229}}
	for _, cfg := range configs {
		for _, hw := range sizes {
			cfg := cfg
			cfg.Levels = []model.Level{3, 4, 5}
			t.Run(fmt.Sprintf("%s_%dx%d", cfg.Family, hw[0], hw[1]), func(t *testing.T) {
				g := G.NewGraph()
				b, err := backbone.New(g, cfg)
				require.NoError(t, err)
				h, err := New(b, Config{Anchors: []int{4, 6, 6, 6, 4}, Channels: 16, Classes: 3})
				require.NoError(t, err)

				x := G.NewTensor(g, b.Dtype(), 4, G.WithShape(1, 3, hw[0], hw[1]), G.WithName("x"))
				loc, _, err := h.Forward(x)
				require.NoError(t, err)
				assert.Equal(t, loc.Shape()[1], h.PriorCount(hw[0], hw[1]))
			})
		}
	}
}

func TestSqueezeNetGrids(t *testing.T) {
	b := newBackbone(t, G.NewGraph(), model.FamilySqueezeNet, 3, 4, 5)
	h, err := New(b, Config{Anchors: []int{6, 6, 6, 6}})
	require.NoError(t, err)

	var got []int
	for _, g := range h.Grids(300, 300) {
		got = append(got, g.Height)
	}
	assert.Equal(t, []int{37, 18, 9, 5}, got)
}
