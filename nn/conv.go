package nn

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ConvConfig describes a Conv2d unit: convolution, optional normalization and
// optional activation, in that order.
type ConvConfig struct {
	In, Out int
	Kernel  int
	Stride  int // 0 means 1
	Padding int
	Groups  int // 0 means 1; In means depthwise
	Norm    Norm
	Act     Activation
	// Bias adds a per-channel bias. Units without normalization usually want one.
	Bias bool
}

// Conv2d is a square-kernel 2D convolution followed by optional norm and activation.
type Conv2d struct {
	name string
	cfg  ConvConfig

	weight *G.Node
	bias   *G.Node
	norm   Module
	act    *Act
}

// NewConv2d registers the parameters of a convolution unit under s.
//
// The weight is named "weight" with shape (Out, In/Groups, K, K). A normalization layer
// lives under "<s>.norm" and the bias (when requested) under "bias".
//
// Arguments:
//   - s: The scope the unit is registered under.
//   - cfg: The unit description.
//
// Returns:
//   - *Conv2d: The unit. It panics if In or Out are not divisible by Groups, which is a
//     construction bug in the calling architecture table.
func NewConv2d(s *Scope, cfg ConvConfig) *Conv2d {
	if cfg.Stride <= 0 {
		cfg.Stride = 1
	}
	if cfg.Groups <= 0 {
		cfg.Groups = 1
	}
	if cfg.In%cfg.Groups != 0 || cfg.Out%cfg.Groups != 0 {
		panic(fmt.Sprintf("nn: %s: channels %d->%d not divisible into %d groups",
			layerName(s), cfg.In, cfg.Out, cfg.Groups))
	}

	c := &Conv2d{
		name:   layerName(s),
		cfg:    cfg,
		weight: s.Param("weight", G.GlorotN(1.0), cfg.Out, cfg.In/cfg.Groups, cfg.Kernel, cfg.Kernel),
	}
	if cfg.Bias {
		c.bias = s.Param("bias", G.Zeroes(), 1, cfg.Out, 1, 1)
	}
	if cfg.Norm != NormNone {
		c.norm = NewNorm(s.Sub("norm"), cfg.Norm, cfg.Out)
	}
	if cfg.Act != ActNone {
		c.act = NewAct(s, cfg.Act)
	}
	return c
}

// Conv1x1 is a pointwise convolution unit.
func Conv1x1(s *Scope, in, out int, norm Norm, act Activation) *Conv2d {
	return NewConv2d(s, ConvConfig{In: in, Out: out, Kernel: 1, Norm: norm, Act: act, Bias: norm == NormNone})
}

// Conv3x3 is a padded 3x3 convolution unit.
func Conv3x3(s *Scope, in, out, stride int, norm Norm, act Activation) *Conv2d {
	return NewConv2d(s, ConvConfig{In: in, Out: out, Kernel: 3, Stride: stride, Padding: 1, Norm: norm, Act: act, Bias: norm == NormNone})
}

// Depthwise is a per-channel KxK convolution unit.
func Depthwise(s *Scope, channels, kernel, stride int, norm Norm, act Activation) *Conv2d {
	return NewConv2d(s, ConvConfig{
		In: channels, Out: channels, Kernel: kernel, Stride: stride, Padding: kernel / 2,
		Groups: channels, Norm: norm, Act: act, Bias: norm == NormNone,
	})
}

// Config returns the unit description.
func (c *Conv2d) Config() ConvConfig { return c.cfg }

// Name returns the scope path of the unit.
func (c *Conv2d) Name() string { return c.name }

// InChannels returns the expected input channel count.
func (c *Conv2d) InChannels() int { return c.cfg.In }

// OutChannels implements ChannelReporter.
func (c *Conv2d) OutChannels() int { return c.cfg.Out }

// OutSize implements Resizer.
func (c *Conv2d) OutSize(n int) int {
	return SpatialSize(n, c.cfg.Kernel, c.cfg.Stride, c.cfg.Padding)
}

// Forward implements Module.
func (c *Conv2d) Forward(x *G.Node) (*G.Node, error) {
	if err := checkChannels(c.name, x, c.cfg.In); err != nil {
		return nil, err
	}
	y, err := c.convolve(x)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: conv", c.name)
	}
	if c.bias != nil {
		if y, err = G.BroadcastAdd(y, c.bias, nil, channelAxes); err != nil {
			return nil, errors.Wrapf(err, "%s: bias", c.name)
		}
	}
	if c.norm != nil {
		if y, err = c.norm.Forward(y); err != nil {
			return nil, err
		}
	}
	if c.act != nil {
		if y, err = c.act.Forward(y); err != nil {
			return nil, errors.Wrapf(err, "%s", c.name)
		}
	}
	return y, nil
}

func (c *Conv2d) convolve(x *G.Node) (*G.Node, error) {
	kernel := tensor.Shape{c.cfg.Kernel, c.cfg.Kernel}
	pad := []int{c.cfg.Padding, c.cfg.Padding}
	stride := []int{c.cfg.Stride, c.cfg.Stride}
	dilation := []int{1, 1}

	if c.cfg.Groups == 1 {
		return G.Conv2d(x, c.weight, kernel, pad, stride, dilation)
	}

	// gorgonia has no grouped convolution; run one convolution per group and stitch
	// the results back together along the channel axis. A depthwise unit therefore
	// costs two nodes per channel, and graph build time grows with network width.
	inPer := c.cfg.In / c.cfg.Groups
	outPer := c.cfg.Out / c.cfg.Groups
	outs := make([]*G.Node, 0, c.cfg.Groups)
	for i := 0; i < c.cfg.Groups; i++ {
		xi, err := Narrow(x, 1, i*inPer, (i+1)*inPer)
		if err != nil {
			return nil, err
		}
		wi, err := Narrow(c.weight, 0, i*outPer, (i+1)*outPer)
		if err != nil {
			return nil, err
		}
		yi, err := G.Conv2d(xi, wi, kernel, pad, stride, dilation)
		if err != nil {
			return nil, errors.Wrapf(err, "group %d", i)
		}
		outs = append(outs, yi)
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return G.Concat(1, outs...)
}

// Narrow selects [from, to) along axis, keeping the axis even when it has length 1.
func Narrow(x *G.Node, axis, from, to int) (*G.Node, error) {
	slices := make([]tensor.Slice, axis+1)
	slices[axis] = G.S(from, to, 1)
	out, err := G.Slice(x, slices...)
	if err != nil {
		return nil, err
	}
	want := x.Shape().Clone()
	want[axis] = to - from
	if !out.Shape().Eq(want) {
		return G.Reshape(out, want)
	}
	return out, nil
}

// Materialize returns a contiguous copy of a computed value, resolving views such as
// the ones Narrow produces.
func Materialize(v G.Value) (*tensor.Dense, error) {
	t, ok := v.(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("want a tensor value, got %T", v)
	}
	if view, ok := t.(tensor.View); ok && view.IsMaterializable() {
		t = view.Materialize()
	}
	d, ok := t.Clone().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("want a dense tensor, got %T", t)
	}
	return d, nil
}

// MaxPool is a square max pooling layer.
type MaxPool struct {
	Kernel, Stride, Padding int
}

// Forward implements Module.
func (p MaxPool) Forward(x *G.Node) (*G.Node, error) {
	y, err := G.MaxPool2D(x, tensor.Shape{p.Kernel, p.Kernel},
		[]int{p.Padding, p.Padding}, []int{p.Stride, p.Stride})
	if err != nil {
		return nil, errors.Wrapf(err, "maxpool k%d s%d", p.Kernel, p.Stride)
	}
	return y, nil
}

// OutSize implements Resizer.
func (p MaxPool) OutSize(n int) int { return SpatialSize(n, p.Kernel, p.Stride, p.Padding) }

// CeilMaxPool is an unpadded max pooling layer that keeps the trailing partial
// window, like ceil-mode pooling. The partial window is completed with zeros on the
// bottom and right edges, so inputs must be non-negative.
type CeilMaxPool struct {
	Kernel, Stride int
}

// Forward implements Module.
func (p CeilMaxPool) Forward(x *G.Node) (*G.Node, error) {
	if x.Dims() != 4 {
		return nil, errors.Errorf("ceil maxpool: want NCHW input, got shape %v", x.Shape())
	}
	shp := x.Shape()
	y, err := ZeroPad(x, 0, p.overhang(shp[2]), 0, p.overhang(shp[3]))
	if err != nil {
		return nil, errors.Wrapf(err, "ceil maxpool k%d s%d", p.Kernel, p.Stride)
	}
	return MaxPool{Kernel: p.Kernel, Stride: p.Stride}.Forward(y)
}

// OutSize implements Resizer.
func (p CeilMaxPool) OutSize(n int) int { return CeilSpatialSize(n, p.Kernel, p.Stride) }

// overhang is how far the last window reaches past an input of size n.
func (p CeilMaxPool) overhang(n int) int {
	return (p.OutSize(n)-1)*p.Stride + p.Kernel - n
}

// ZeroPad pads the spatial axes of an NCHW node with zeros.
func ZeroPad(x *G.Node, top, bottom, left, right int) (*G.Node, error) {
	y, err := padAxis(x, 2, top, bottom)
	if err != nil {
		return nil, err
	}
	return padAxis(y, 3, left, right)
}

func padAxis(x *G.Node, axis, before, after int) (*G.Node, error) {
	parts := make([]*G.Node, 0, 3)
	if before > 0 {
		parts = append(parts, zeros(x, axis, before))
	}
	parts = append(parts, x)
	if after > 0 {
		parts = append(parts, zeros(x, axis, after))
	}
	if len(parts) == 1 {
		return x, nil
	}
	return G.Concat(axis, parts...)
}

// zeros is a zero-filled node shaped like x except for n entries along axis.
func zeros(x *G.Node, axis, n int) *G.Node {
	shp := x.Shape().Clone()
	shp[axis] = n
	return G.NewTensor(x.Graph(), x.Dtype(), shp.Dims(),
		G.WithShape(shp...),
		G.WithName(fmt.Sprintf("zeros%v", []int(shp))),
		G.WithInit(G.Zeroes()))
}

// GlobalAvgPool averages each channel down to 1x1, keeping NCHW rank.
type GlobalAvgPool struct{}

// Forward implements Module.
func (GlobalAvgPool) Forward(x *G.Node) (*G.Node, error) {
	shp := x.Shape()
	m, err := G.Mean(x, 2, 3)
	if err != nil {
		return nil, errors.Wrap(err, "global avg pool")
	}
	return G.Reshape(m, []int{shp[0], shp[1], 1, 1})
}

// OutSize implements Resizer.
func (GlobalAvgPool) OutSize(int) int { return 1 }

// SpatialSize returns the output size of a convolution or pooling window.
func SpatialSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// CeilSpatialSize returns the output size of an unpadded window that keeps the
// trailing partial window. Inputs smaller than the window give one output.
func CeilSpatialSize(in, kernel, stride int) int {
	if in <= kernel {
		return 1
	}
	return (in-kernel+stride-1)/stride + 1
}
