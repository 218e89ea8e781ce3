package nn

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Norm selects a normalization layer.
type Norm string

const (
	// NormNone disables normalization.
	NormNone Norm = ""
	// NormBN is batch normalization with running statistics.
	NormBN Norm = "bn"
	// NormGN is group normalization.
	NormGN Norm = "gn"
)

// ParseNorm validates a normalization layer name.
func ParseNorm(s string) (Norm, error) {
	switch Norm(s) {
	case NormNone, NormBN:
		return NormBN, nil
	case NormGN:
		return NormGN, nil
	}
	return NormNone, fmt.Errorf("unknown norm layer %q (want bn or gn)", s)
}

// DefaultGroups is the group count GroupNorm aims for.
const DefaultGroups = 32

const normEpsilon = 1e-5

// NewNorm builds the normalization layer kind over channels.
func NewNorm(s *Scope, kind Norm, channels int) Module {
	switch kind {
	case NormGN:
		return NewGroupNorm(s, channels, groupsFor(channels))
	case NormBN:
		return NewBatchNorm(s, channels)
	}
	return nil
}

// groupsFor picks the largest divisor of channels that does not exceed DefaultGroups.
func groupsFor(channels int) int {
	for g := DefaultGroups; g > 1; g-- {
		if channels%g == 0 {
			return g
		}
	}
	return 1
}

// BatchNorm normalizes each channel with its running mean and variance, then applies
// a learned scale and shift. Statistics are parameters so that pretrained archives
// restore them together with the affine terms.
type BatchNorm struct {
	name     string
	channels int

	weight, bias, mean, variance *G.Node
	eps                          *G.Node
}

// NewBatchNorm registers weight, bias, running_mean and running_var under s.
func NewBatchNorm(s *Scope, channels int) *BatchNorm {
	return &BatchNorm{
		name:     layerName(s),
		channels: channels,
		weight:   s.Param("weight", G.Ones(), 1, channels, 1, 1),
		bias:     s.Param("bias", G.Zeroes(), 1, channels, 1, 1),
		mean:     s.Param("running_mean", G.Zeroes(), 1, channels, 1, 1),
		variance: s.Param("running_var", G.Ones(), 1, channels, 1, 1),
		eps:      s.Scalar(normEpsilon),
	}
}

// Forward implements Module.
func (b *BatchNorm) Forward(x *G.Node) (*G.Node, error) {
	if err := checkChannels(b.name, x, b.channels); err != nil {
		return nil, err
	}
	std, err := G.Sqrt(G.Must(G.Add(b.variance, b.eps)))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: std", b.name)
	}
	y, err := G.BroadcastSub(x, b.mean, nil, channelAxes)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: center", b.name)
	}
	if y, err = G.BroadcastHadamardDiv(y, std, nil, channelAxes); err != nil {
		return nil, errors.Wrapf(err, "%s: scale", b.name)
	}
	return affine(b.name, y, b.weight, b.bias)
}

// GroupNorm normalizes over groups of channels per sample.
type GroupNorm struct {
	name     string
	channels int
	groups   int

	weight, bias *G.Node
	eps          *G.Node
}

// NewGroupNorm registers weight and bias under s. channels must be divisible by groups.
func NewGroupNorm(s *Scope, channels, groups int) *GroupNorm {
	if groups <= 0 || channels%groups != 0 {
		panic(fmt.Sprintf("nn: %s: %d channels not divisible into %d groups", layerName(s), channels, groups))
	}
	return &GroupNorm{
		name:     layerName(s),
		channels: channels,
		groups:   groups,
		weight:   s.Param("weight", G.Ones(), 1, channels, 1, 1),
		bias:     s.Param("bias", G.Zeroes(), 1, channels, 1, 1),
		eps:      s.Scalar(normEpsilon),
	}
}

// Groups returns the number of channel groups.
func (gn *GroupNorm) Groups() int { return gn.groups }

// Forward implements Module.
func (gn *GroupNorm) Forward(x *G.Node) (*G.Node, error) {
	if err := checkChannels(gn.name, x, gn.channels); err != nil {
		return nil, err
	}
	shp := x.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	span := c / gn.groups * h * w

	grouped, err := G.Reshape(x, []int{n, gn.groups, span})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: group", gn.name)
	}
	mean, err := groupMean(grouped, n, gn.groups)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: mean", gn.name)
	}
	centered, err := G.BroadcastSub(grouped, mean, nil, []byte{2})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: center", gn.name)
	}
	sq, err := G.Square(centered)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: square", gn.name)
	}
	variance, err := groupMean(sq, n, gn.groups)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: variance", gn.name)
	}
	std, err := G.Sqrt(G.Must(G.Add(variance, gn.eps)))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: std", gn.name)
	}
	normed, err := G.BroadcastHadamardDiv(centered, std, nil, []byte{2})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: scale", gn.name)
	}
	y, err := G.Reshape(normed, []int{n, c, h, w})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: ungroup", gn.name)
	}
	return affine(gn.name, y, gn.weight, gn.bias)
}

// groupMean reduces (n, groups, span) to (n, groups, 1).
func groupMean(x *G.Node, n, groups int) (*G.Node, error) {
	m, err := G.Mean(x, 2)
	if err != nil {
		return nil, err
	}
	return G.Reshape(m, []int{n, groups, 1})
}

// channelAxes broadcasts a (1, C, 1, 1) parameter over (N, C, H, W).
var channelAxes = []byte{0, 2, 3}

func affine(name string, x, weight, bias *G.Node) (*G.Node, error) {
	y, err := G.BroadcastHadamardProd(x, weight, nil, channelAxes)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: weight", name)
	}
	if y, err = G.BroadcastAdd(y, bias, nil, channelAxes); err != nil {
		return nil, errors.Wrapf(err, "%s: bias", name)
	}
	return y, nil
}

func checkChannels(name string, x *G.Node, want int) error {
	shp := x.Shape()
	if shp.Dims() != 4 {
		return errors.Errorf("%s: want NCHW input, got shape %v", name, shp)
	}
	if shp[1] != want {
		return errors.Errorf("%s: want %d channels, got %d", name, want, shp[1])
	}
	return nil
}
