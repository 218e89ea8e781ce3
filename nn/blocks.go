package nn

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// SqueezeExcite rescales channels by a gate computed from their global average.
type SqueezeExcite struct {
	name   string
	pool   GlobalAvgPool
	reduce *Conv2d
	expand *Conv2d
}

// NewSqueezeExcite builds an SE block reducing channels by ratio (MobileNetV3 uses 4).
func NewSqueezeExcite(s *Scope, channels, ratio int) *SqueezeExcite {
	mid := MakeDivisible(float64(channels)/float64(ratio), 8)
	return &SqueezeExcite{
		name:   layerName(s),
		reduce: Conv1x1(s.Sub("conv1"), channels, mid, NormNone, ReLU),
		expand: Conv1x1(s.Sub("conv2"), mid, channels, NormNone, HSigmoid),
	}
}

// Children implements Container.
func (se *SqueezeExcite) Children() []Module { return []Module{se.reduce, se.expand} }

// OutChannels implements ChannelReporter; the gate does not change the channel count.
func (se *SqueezeExcite) OutChannels() int { return se.expand.OutChannels() }

// OutSize implements Resizer; the gate is broadcast back over the input.
func (se *SqueezeExcite) OutSize(n int) int { return n }

// Forward implements Module.
func (se *SqueezeExcite) Forward(x *G.Node) (*G.Node, error) {
	w, err := se.pool.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, se.name)
	}
	if w, err = se.reduce.Forward(w); err != nil {
		return nil, err
	}
	if w, err = se.expand.Forward(w); err != nil {
		return nil, err
	}
	y, err := G.BroadcastHadamardProd(x, w, nil, []byte{2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: gate", se.name)
	}
	return y, nil
}

// InvertedResidual is the MobileNetV2/V3 block: 1x1 expansion, KxK depthwise, optional
// squeeze-excite and a linear 1x1 projection, with an identity shortcut when the
// block keeps both resolution and width.
type InvertedResidual struct {
	Expand    *Conv2d // nil when the expansion ratio is 1
	Depthwise *Conv2d
	SE        *SqueezeExcite
	Project   *Conv2d

	residual bool
}

// InvertedResidualConfig describes one block.
type InvertedResidualConfig struct {
	In, Mid, Out int
	Kernel       int
	Stride       int
	SE           bool
	Act          Activation
	// KeepExpand builds the expansion conv even when Mid == In.
	KeepExpand bool
}

// NewInvertedResidual builds a block under s with children conv1 (expand), conv2
// (depthwise), se and conv3 (project).
func NewInvertedResidual(s *Scope, cfg InvertedResidualConfig) *InvertedResidual {
	norm := s.Norm()
	b := &InvertedResidual{residual: cfg.Stride == 1 && cfg.In == cfg.Out}
	if cfg.Mid != cfg.In || cfg.KeepExpand {
		b.Expand = Conv1x1(s.Sub("conv1"), cfg.In, cfg.Mid, norm, cfg.Act)
	}
	b.Depthwise = Depthwise(s.Sub("conv2"), cfg.Mid, cfg.Kernel, cfg.Stride, norm, cfg.Act)
	if cfg.SE {
		b.SE = NewSqueezeExcite(s.Sub("se"), cfg.Mid, 4)
	}
	b.Project = Conv1x1(s.Sub("conv3"), cfg.Mid, cfg.Out, norm, ActNone)
	return b
}

// Residual reports whether the block adds its input to its output.
func (b *InvertedResidual) Residual() bool { return b.residual }

// Children implements Container.
func (b *InvertedResidual) Children() []Module {
	return Seq(b.Expand, b.Depthwise, b.SE, b.Project).Children()
}

// OutChannels implements ChannelReporter.
func (b *InvertedResidual) OutChannels() int { return b.Project.OutChannels() }

// Split returns the expansion conv and the remaining depthwise/projection tail as two
// modules. Only non-residual blocks can be split; stage boundaries of the MobileNet
// backbones fall on the wide expansion output of strided blocks.
func (b *InvertedResidual) Split() (head, tail Module, ok bool) {
	if b.residual || b.Expand == nil {
		return nil, nil, false
	}
	return b.Expand, Seq(b.Depthwise, b.SE, b.Project), true
}

// Forward implements Module.
func (b *InvertedResidual) Forward(x *G.Node) (*G.Node, error) {
	y, err := Seq(b.Expand, b.Depthwise, b.SE, b.Project).Forward(x)
	if err != nil {
		return nil, err
	}
	if !b.residual {
		return y, nil
	}
	return G.Add(x, y)
}

// ShuffleUnit is a ShuffleNetV2 unit. Downsampling units run two branches on the full
// input; the others split channels in half and transform only the second half.
type ShuffleUnit struct {
	name       string
	downsample bool
	in, out    int
	branch1    *Sequential
	branch2    *Sequential
}

// NewShuffleUnit builds a unit under s. kernel is the depthwise kernel (3 for
// ShuffleNetV2, 5 for SNet).
func NewShuffleUnit(s *Scope, in, out, kernel int, downsample bool) *ShuffleUnit {
	norm := s.Norm()
	mid := out / 2
	u := &ShuffleUnit{name: layerName(s), downsample: downsample, in: in, out: out}

	branchIn := in
	stride := 1
	if downsample {
		stride = 2
		u.branch1 = Seq(
			Depthwise(s.Sub("dw_conv4"), in, kernel, 2, norm, ActNone),
			Conv1x1(s.Sub("expand_conv5"), in, mid, norm, ReLU),
		)
	} else {
		branchIn = in / 2
	}
	u.branch2 = Seq(
		Conv1x1(s.Sub("compress_conv1"), branchIn, mid, norm, ReLU),
		Depthwise(s.Sub("dw_conv2"), mid, kernel, stride, norm, ActNone),
		Conv1x1(s.Sub("expand_conv3"), mid, mid, norm, ReLU),
	)
	return u
}

// Children implements Container.
func (u *ShuffleUnit) Children() []Module {
	return Seq(u.branch1, u.branch2).Children()
}

// OutChannels implements ChannelReporter; both halves are concatenated.
func (u *ShuffleUnit) OutChannels() int { return u.out }

// OutSize implements Resizer. Both branches resample alike.
func (u *ShuffleUnit) OutSize(n int) int { return u.branch2.OutSize(n) }

// Forward implements Module.
func (u *ShuffleUnit) Forward(x *G.Node) (*G.Node, error) {
	var left, right *G.Node
	var err error
	if u.downsample {
		if left, err = u.branch1.Forward(x); err != nil {
			return nil, err
		}
		if right, err = u.branch2.Forward(x); err != nil {
			return nil, err
		}
	} else {
		half := u.in / 2
		if left, err = Narrow(x, 1, 0, half); err != nil {
			return nil, errors.Wrapf(err, "%s: split", u.name)
		}
		x2, err := Narrow(x, 1, half, u.in)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: split", u.name)
		}
		if right, err = u.branch2.Forward(x2); err != nil {
			return nil, err
		}
	}
	y, err := G.Concat(1, left, right)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: concat", u.name)
	}
	return ChannelShuffle(y, 2)
}

// ChannelShuffle interleaves channels across groups:
// (N, g*c, H, W) -> (N, g, c, H, W) -> (N, c, g, H, W) -> (N, g*c, H, W).
func ChannelShuffle(x *G.Node, groups int) (*G.Node, error) {
	shp := x.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	y, err := G.Reshape(x, []int{n, groups, c / groups, h, w})
	if err != nil {
		return nil, errors.Wrap(err, "channel shuffle")
	}
	if y, err = G.Transpose(y, 0, 2, 1, 3, 4); err != nil {
		return nil, errors.Wrap(err, "channel shuffle")
	}
	return G.Reshape(y, []int{n, c, h, w})
}

// Fire is the SqueezeNet module: a 1x1 squeeze followed by parallel 1x1 and 3x3
// expansions whose outputs are concatenated.
type Fire struct {
	name    string
	squeeze *Conv2d
	expand1 *Conv2d
	expand3 *Conv2d
}

// NewFire builds a Fire module under s.
func NewFire(s *Scope, in, squeeze, expand1, expand3 int) *Fire {
	norm := s.Norm()
	return &Fire{
		name:    layerName(s),
		squeeze: Conv1x1(s.Sub("squeeze"), in, squeeze, norm, ReLU),
		expand1: Conv1x1(s.Sub("expand1x1"), squeeze, expand1, norm, ReLU),
		expand3: Conv3x3(s.Sub("expand3x3"), squeeze, expand3, 1, norm, ReLU),
	}
}

// Children implements Container.
func (f *Fire) Children() []Module { return []Module{f.squeeze, f.expand1, f.expand3} }

// OutChannels implements ChannelReporter.
func (f *Fire) OutChannels() int { return f.expand1.OutChannels() + f.expand3.OutChannels() }

// OutSize implements Resizer.
func (f *Fire) OutSize(n int) int { return f.squeeze.OutSize(n) }

// Forward implements Module.
func (f *Fire) Forward(x *G.Node) (*G.Node, error) {
	sq, err := f.squeeze.Forward(x)
	if err != nil {
		return nil, err
	}
	a, err := f.expand1.Forward(sq)
	if err != nil {
		return nil, err
	}
	b, err := f.expand3.Forward(sq)
	if err != nil {
		return nil, err
	}
	y, err := G.Concat(1, a, b)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: concat", f.name)
	}
	return y, nil
}

// ResidualUnit computes act(body(x) + shortcut(x)). The shortcut is the identity
// unless a projection conv is supplied. It does not report its own channel count;
// introspection walks into the body.
type ResidualUnit struct {
	name     string
	body     *Sequential
	shortcut *Conv2d
	act      *Act
}

// NewResidualUnit wraps body with a shortcut. shortcut and act may be nil/ActNone.
func NewResidualUnit(s *Scope, body *Sequential, shortcut *Conv2d, act Activation) *ResidualUnit {
	u := &ResidualUnit{name: layerName(s), body: body, shortcut: shortcut}
	if act != ActNone {
		u.act = NewAct(s, act)
	}
	return u
}

// Children implements Container. The body comes last so that a backwards walk finds
// its final convolution before the shortcut projection.
func (u *ResidualUnit) Children() []Module {
	if u.shortcut == nil {
		return []Module{u.body}
	}
	return []Module{u.shortcut, u.body}
}

// OutSize implements Resizer. The shortcut matches the body.
func (u *ResidualUnit) OutSize(n int) int { return u.body.OutSize(n) }

// Forward implements Module.
func (u *ResidualUnit) Forward(x *G.Node) (*G.Node, error) {
	y, err := u.body.Forward(x)
	if err != nil {
		return nil, err
	}
	identity := x
	if u.shortcut != nil {
		if identity, err = u.shortcut.Forward(x); err != nil {
			return nil, err
		}
	}
	if y, err = G.Add(y, identity); err != nil {
		return nil, errors.Wrapf(err, "%s: add", u.name)
	}
	if u.act != nil {
		return u.act.Forward(y)
	}
	return y, nil
}

// NormAct is a standalone normalization + activation pair, used as the pre-activation
// of PreResNet units and as their trailing post activation.
type NormAct struct {
	norm Module
	act  *Act
}

// NewNormAct builds a NormAct over channels using the scope's default norm.
func NewNormAct(s *Scope, channels int, act Activation) *NormAct {
	return &NormAct{
		norm: NewNorm(s.Sub("bn"), s.Norm(), channels),
		act:  NewAct(s, act),
	}
}

// Forward implements Module.
func (na *NormAct) Forward(x *G.Node) (*G.Node, error) {
	y, err := na.norm.Forward(x)
	if err != nil {
		return nil, err
	}
	return na.act.Forward(y)
}

// MakeDivisible rounds v to the nearest multiple of divisor without dropping more
// than 10% below v.
func MakeDivisible(v float64, divisor int) int {
	d := float64(divisor)
	n := int(v+d/2) / divisor * divisor
	if n < divisor {
		n = divisor
	}
	if float64(n) < 0.9*v {
		n += divisor
	}
	return n
}
