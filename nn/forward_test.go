package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// run binds input to x, executes the graph and returns y's backing data.
func run(t *testing.T, s *Scope, x *G.Node, input []float32, y *G.Node) []float32 {
	t.Helper()
	require.NoError(t, G.Let(x, tensor.New(tensor.WithShape(x.Shape()...), tensor.WithBacking(input))))
	vm := G.NewTapeMachine(s.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	v, err := Materialize(y.Value())
	require.NoError(t, err)
	data, ok := v.Data().([]float32)
	require.True(t, ok)
	return data
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConv2dShapes(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConvConfig
		want tensor.Shape
	}{
		{"3x3 stride 2", ConvConfig{In: 4, Out: 8, Kernel: 3, Stride: 2, Padding: 1}, tensor.Shape{1, 8, 4, 4}},
		{"1x1", ConvConfig{In: 4, Out: 6, Kernel: 1}, tensor.Shape{1, 6, 8, 8}},
		{"depthwise", ConvConfig{In: 4, Out: 4, Kernel: 3, Padding: 1, Groups: 4}, tensor.Shape{1, 4, 8, 8}},
		{"grouped", ConvConfig{In: 4, Out: 8, Kernel: 3, Padding: 1, Groups: 2}, tensor.Shape{1, 8, 8, 8}},
		{"unpadded stride 2", ConvConfig{In: 4, Out: 4, Kernel: 3, Stride: 2, Groups: 4}, tensor.Shape{1, 4, 3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScope(NormBN)
			x := s.Input("x", 1, 4, 8, 8)
			y, err := NewConv2d(s.Sub("conv"), tt.cfg).Forward(x)
			require.NoError(t, err)
			assert.Equal(t, tt.want, y.Shape())
		})
	}
}

func TestConv2dRejectsWrongChannels(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 3, 8, 8)
	_, err := Conv1x1(s.Sub("conv"), 4, 8, NormNone, ActNone).Forward(x)
	assert.ErrorContains(t, err, "want 4 channels, got 3")
}

func TestDepthwiseKeepsChannelsApart(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 2, 4, 4)
	conv := NewConv2d(s.Sub("dw"), ConvConfig{In: 2, Out: 2, Kernel: 3, Padding: 1, Groups: 2})
	y, err := conv.Forward(x)
	require.NoError(t, err)

	w, _ := s.Params().Get("dw.weight")
	require.NoError(t, G.Let(w, tensor.New(tensor.WithShape(2, 1, 3, 3), tensor.WithBacking(fill(18, 1)))))

	input := append(fill(16, 1), fill(16, 2)...)
	out := run(t, s, x, input, y)

	// Interior pixels see the full 3x3 window, corners see 2x2.
	assert.InDelta(t, 9, out[0*16+1*4+1], 1e-5)
	assert.InDelta(t, 18, out[1*16+1*4+1], 1e-5)
	assert.InDelta(t, 4, out[0*16+0], 1e-5)
	assert.InDelta(t, 8, out[1*16+0], 1e-5)
}

func TestBatchNormDefaultsToIdentity(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 2, 2, 2)
	y, err := NewBatchNorm(s.Sub("bn"), 2).Forward(x)
	require.NoError(t, err)

	input := []float32{1, 2, 3, 4, -1, -2, -3, -4}
	out := run(t, s, x, input, y)
	for i := range input {
		assert.InDelta(t, input[i], out[i], 1e-3)
	}
}

func TestGroupNormNormalizesEachGroup(t *testing.T) {
	s := newTestScope(NormGN)
	x := s.Input("x", 1, 4, 2, 2)
	gn := NewGroupNorm(s.Sub("gn"), 4, 2)
	y, err := gn.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4, 2, 2}, y.Shape())

	input := []float32{
		1, 2, 3, 4, 5, 6, 7, 8,
		10, 30, 50, 70, 90, 110, 130, 150,
	}
	out := run(t, s, x, input, y)

	for g := 0; g < 2; g++ {
		group := out[g*8 : (g+1)*8]
		var mean, sq float64
		for _, v := range group {
			mean += float64(v)
		}
		mean /= 8
		for _, v := range group {
			sq += (float64(v) - mean) * (float64(v) - mean)
		}
		assert.InDelta(t, 0, mean, 1e-4, "group %d mean", g)
		assert.InDelta(t, 1, math.Sqrt(sq/8), 1e-3, "group %d std", g)
	}
}

func TestChannelShuffle(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 4, 1, 1)
	y, err := ChannelShuffle(x, 2)
	require.NoError(t, err)
	out := run(t, s, x, []float32{0, 1, 2, 3}, y)
	assert.Equal(t, []float32{0, 2, 1, 3}, out)
}

func TestActivations(t *testing.T) {
	input := []float32{-4, -1, 2, 8}
	tests := []struct {
		kind Activation
		want []float32
	}{
		{ReLU, []float32{0, 0, 2, 8}},
		{ReLU6, []float32{0, 0, 2, 6}},
		{HSigmoid, []float32{0, 2.0 / 6, 5.0 / 6, 1}},
		{HSwish, []float32{0, -2.0 / 6, 10.0 / 6, 8}},
		{LeakyReLU, []float32{-0.4, -0.1, 2, 8}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			s := newTestScope(NormBN)
			x := s.Input("x", 1, 1, 1, 4)
			y, err := NewAct(s, tt.kind).Forward(x)
			require.NoError(t, err)
			out := run(t, s, x, input, y)
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], out[i], 1e-5, "index %d", i)
			}
		})
	}
}

func TestUnknownActivation(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 1, 1, 4)
	_, err := NewAct(s, "gelu").Forward(x)
	assert.ErrorContains(t, err, "unknown activation")
}

func TestSqueezeExciteKeepsShape(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 16, 4, 4)
	y, err := NewSqueezeExcite(s.Sub("se"), 16, 4).Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 16, 4, 4}, y.Shape())
}

func TestShuffleUnitShapes(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 24, 8, 8)
	down, err := NewShuffleUnit(s.Sub("u1"), 24, 48, 3, true).Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 48, 4, 4}, down.Shape())

	same, err := NewShuffleUnit(s.Sub("u2"), 48, 48, 3, false).Forward(down)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 48, 4, 4}, same.Shape())
}

func TestSpatialSize(t *testing.T) {
	assert.Equal(t, 150, SpatialSize(300, 3, 2, 1))
	assert.Equal(t, 1, SpatialSize(3, 3, 2, 0))
	assert.Equal(t, 2, SpatialSize(3, 3, 2, 1))
}

func TestCeilMaxPool(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 1, 6, 6)
	pool := CeilMaxPool{Kernel: 3, Stride: 2}
	y, err := pool.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, y.Shape())

	input := make([]float32, 36)
	for i := range input {
		input[i] = float32(i)
	}
	out := run(t, s, x, input, y)
	// Windows start at 0, 2 and 4; the last one is cut by the edge.
	assert.Equal(t, []float32{14, 16, 17, 26, 28, 29, 32, 34, 35}, out)
}

func TestCeilSpatialSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{150, 75}, {75, 37}, {37, 18}, {18, 9}, {32, 16}, {4, 2}, {3, 1}, {2, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilSpatialSize(tt.in, 3, 2), "in=%d", tt.in)
		assert.Equal(t, tt.want, CeilMaxPool{Kernel: 3, Stride: 2}.OutSize(tt.in), "in=%d", tt.in)
	}
}

func TestOutSizeFollowsGraph(t *testing.T) {
	s := newTestScope(NormBN)
	x := s.Input("x", 1, 4, 37, 37)
	body := Seq(
		Conv1x1(s.Sub("res.body.conv1"), 8, 8, NormBN, ReLU),
		Conv3x3(s.Sub("res.body.conv2"), 8, 8, 2, NormBN, ActNone),
	)
	shortcut := NewConv2d(s.Sub("res.identity_conv"), ConvConfig{In: 8, Out: 8, Kernel: 1, Stride: 2})
	m := Seq(
		Conv3x3(s.Sub("conv"), 4, 8, 2, NormBN, ReLU),
		CeilMaxPool{Kernel: 3, Stride: 2},
		NewResidualUnit(s.Sub("res"), body, shortcut, ReLU),
		NewShuffleUnit(s.Sub("unit"), 8, 16, 3, true),
		NewFire(s.Sub("fire"), 16, 4, 8, 8),
	)
	y, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, y.Shape()[2], OutSize(m, 37))
	assert.Equal(t, 3, OutSize(m, 37))
	assert.Equal(t, 1, OutSize(Seq(m, GlobalAvgPool{}), 37))
}
