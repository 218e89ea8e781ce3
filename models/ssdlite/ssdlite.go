// Package ssdlite - SSDLite detection head over a multi-scale backbone.
//
// The head attaches a depthwise-separable prediction branch to levels 3 (when the
// backbone exposes it), 4 and 5, and to up to three extra DownBlocks chained after
// level 5. Predictions of all branches are flattened finest scale first and split into
// box offsets and class scores.
package ssdlite

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-ssdlite/models/backbone"
	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/nn"
)

// BoxSize is the number of location offsets per anchor.
const BoxSize = 4

// Config describes the head. Zero values take the defaults.
type Config struct {
	// Anchors holds the anchor count per scale, finest first. Default 6, 6, 6, 6, 4.
	Anchors []int `json:"anchors,omitempty" yaml:"anchors,omitempty"`
	// Classes is the number of classes, background included. Default 21.
	Classes int `json:"classes,omitempty" yaml:"classes,omitempty"`
	// Channels is the width of the extra DownBlocks (2x for the first one). Default 256.
	Channels int `json:"channels,omitempty" yaml:"channels,omitempty"`
	// PadLast pads the sixth scale's strided conv instead of running it unpadded.
	PadLast bool `json:"pad_last,omitempty" yaml:"pad_last,omitempty"`
}

// DefaultConfig returns the head defaults.
func DefaultConfig() Config {
	return Config{Anchors: []int{6, 6, 6, 6, 4}, Classes: 21, Channels: 256}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Anchors) == 0 {
		c.Anchors = d.Anchors
	}
	if c.Classes == 0 {
		c.Classes = d.Classes
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	c.Anchors = append([]int(nil), c.Anchors...)
	return c
}

// branch predicts A*(4+C) values per position of one scale.
type branch struct {
	level   model.Level
	anchors int
	mod     *nn.Sequential
}

// SSDLite is the detection head together with the backbone it reads.
type SSDLite struct {
	backbone *backbone.Backbone
	cfg      Config
	// slots[i] is the anchor count of level i+3; slots[0] is zero without level 3.
	slots    []int
	withC3   bool
	branches []branch
	extras   []*DownBlock
	scope    *nn.Scope
}

// New builds the head on the graph of b.
//
// Arguments:
//   - b: A backbone exposing levels (4, 5) or (3, 4, 5).
//   - cfg: The head description; zero fields take the defaults.
//
// Returns:
//   - *SSDLite: The head, or nil on error.
//   - error: ErrConfiguration when the levels or anchor counts do not fit the head.
func New(b *backbone.Backbone, cfg Config) (*SSDLite, error) {
	cfg = cfg.withDefaults()
	levels := b.Levels()
	channels := b.OutChannels()

	var withC3 bool
	switch {
	case equalLevels(levels, 3, 4, 5):
		withC3 = true
	case equalLevels(levels, 4, 5):
	default:
		return nil, model.Configurationf("ssdlite needs backbone levels (4, 5) or (3, 4, 5), got %v", levels)
	}
	if cfg.Classes < 1 {
		return nil, model.Configurationf("ssdlite needs at least one class, got %d", cfg.Classes)
	}
	if cfg.Channels < 2 || cfg.Channels%2 != 0 {
		return nil, model.Configurationf("ssdlite head channels must be even and >= 2, got %d", cfg.Channels)
	}
	for _, a := range cfg.Anchors {
		if a <= 0 {
			return nil, model.Configurationf("anchor counts must be positive, got %v", cfg.Anchors)
		}
	}
	slots := cfg.Anchors
	if !withC3 {
		slots = append([]int{0}, slots...)
	}
	if len(slots) < 3 || len(slots) > 6 {
		return nil, model.Configurationf("ssdlite supports 3 to 6 scales from level 3, got %d anchor slots", len(slots))
	}

	h := &SSDLite{
		backbone: b,
		cfg:      cfg,
		slots:    slots,
		withC3:   withC3,
		scope:    nn.NewScope(b.Graph(), b.Dtype(), nn.NormGN).Sub("head"),
	}
	out := BoxSize + cfg.Classes
	c5 := channels[len(channels)-1]

	if withC3 {
		h.addBranch(3, channels[0], out)
	}
	h.addBranch(4, channels[len(channels)-2], out)
	h.addBranch(5, c5, out)

	in := c5
	widths := []int{2 * cfg.Channels, cfg.Channels, cfg.Channels}
	for i := 3; i < len(slots); i++ {
		level := model.Level(i + 3)
		padding := 1
		if i == 5 && !cfg.PadLast {
			padding = 0
		}
		down := NewDownBlock(h.scope.Subf("layer%d", level), in, widths[i-3], padding)
		h.extras = append(h.extras, down)
		in = down.OutChannels()
		h.addBranch(level, in, out)
	}

	logf("built head over %s: slots=%v classes=%d branches=%d", b.Name(), slots, cfg.Classes, len(h.branches))
	return h, nil
}

func (h *SSDLite) addBranch(level model.Level, in, out int) {
	anchors := h.slots[level-3]
	h.branches = append(h.branches, branch{
		level:   level,
		anchors: anchors,
		mod:     depthwiseSeparable(h.scope.Subf("pred%d", level), in, anchors*out, 1, 1),
	})
}

// depthwiseSeparable is a grouped-normalized depthwise 3x3 followed by a biased 1x1
// projection without normalization or activation.
func depthwiseSeparable(s *nn.Scope, in, out, stride, padding int) *nn.Sequential {
	return nn.Seq(
		nn.NewConv2d(s.Sub("conv1"), nn.ConvConfig{
			In: in, Out: in, Kernel: 3, Stride: stride, Padding: padding, Groups: in, Norm: nn.NormGN,
		}),
		nn.Conv1x1(s.Sub("conv2"), in, out, nn.NormNone, nn.ActNone),
	)
}

// Forward runs the backbone and every branch.
//
// Arguments:
//   - x: An NCHW image batch.
//
// Returns:
//   - loc: (N, T, 4) box offsets.
//   - cls: (N, T, Classes) class scores. T sums anchors x positions over all scales,
//     ordered finest scale first, then row, column and anchor.
//   - err: Wrapped graph errors.
func (h *SSDLite) Forward(x *G.Node) (loc, cls *G.Node, err error) {
	feats, err := h.backbone.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	byLevel := make(map[model.Level]*G.Node, len(feats)+len(h.extras))
	for i, l := range h.backbone.Levels() {
		byLevel[l] = feats[i]
	}
	c := byLevel[5]
	for i, down := range h.extras {
		if c, err = down.Forward(c); err != nil {
			return nil, nil, err
		}
		byLevel[model.Level(6+i)] = c
	}

	width := BoxSize + h.cfg.Classes
	flat := make([]*G.Node, 0, len(h.branches))
	for _, br := range h.branches {
		p, err := br.mod.Forward(byLevel[br.level])
		if err != nil {
			return nil, nil, err
		}
		if p, err = flatten(p, br.anchors, width); err != nil {
			return nil, nil, errors.Wrapf(err, "pred%d", br.level)
		}
		flat = append(flat, p)
	}

	all := flat[0]
	if len(flat) > 1 {
		if all, err = G.Concat(1, flat...); err != nil {
			return nil, nil, errors.Wrap(err, "concat predictions")
		}
	}
	if loc, err = nn.Narrow(all, 2, 0, BoxSize); err != nil {
		return nil, nil, errors.Wrap(err, "split loc")
	}
	if cls, err = nn.Narrow(all, 2, BoxSize, width); err != nil {
		return nil, nil, errors.Wrap(err, "split cls")
	}
	return loc, cls, nil
}

// flatten turns (N, A*W, H, W') into (N, H*W'*A, W) ordered by row, column, anchor.
func flatten(p *G.Node, anchors, width int) (*G.Node, error) {
	shp := p.Shape()
	n, h, w := shp[0], shp[2], shp[3]
	t, err := G.Transpose(p, 0, 2, 3, 1)
	if err != nil {
		return nil, err
	}
	return G.Reshape(t, []int{n, h * w * anchors, width})
}

// PriorCount returns the number of anchors predicted for an h x w input.
func (h *SSDLite) PriorCount(height, width int) int {
	total := 0
	for _, g := range h.Grids(height, width) {
		total += g.Anchors * g.Height * g.Width
	}
	return total
}

// Grid is the prediction grid of one scale.
type Grid struct {
	Level         model.Level
	Anchors       int
	Height, Width int
}

// Grids returns the prediction grid of every branch for an h x w input, finest first.
// Backbone levels follow the geometry of their stages; the extra scales follow their
// DownBlock padding.
func (h *SSDLite) Grids(height, width int) []Grid {
	grids := make([]Grid, 0, len(h.branches))
	var h5, w5 int
	for _, br := range h.branches {
		g := Grid{Level: br.level, Anchors: br.anchors}
		switch {
		case br.level <= 5:
			g.Height, g.Width = h.backbone.FeatureSize(br.level, height, width)
			if br.level == 5 {
				h5, w5 = g.Height, g.Width
			}
		default:
			down := h.extras[br.level-6]
			h5 = nn.SpatialSize(h5, 3, 2, down.Padding())
			w5 = nn.SpatialSize(w5, 3, 2, down.Padding())
			g.Height, g.Width = h5, w5
		}
		grids = append(grids, g)
	}
	return grids
}

// NumAnchors returns the anchor count per slot from level 3, with a zero first slot
// when the backbone does not expose level 3.
func (h *SSDLite) NumAnchors() []int { return append([]int(nil), h.slots...) }

// NumBranches returns the number of prediction branches.
func (h *SSDLite) NumBranches() int { return len(h.branches) }

// Classes returns the number of classes.
func (h *SSDLite) Classes() int { return h.cfg.Classes }

// Backbone returns the backbone the head reads.
func (h *SSDLite) Backbone() *backbone.Backbone { return h.backbone }

// Params returns the parameters of the head, excluding the backbone.
func (h *SSDLite) Params() *nn.Params { return h.scope.Params() }

func equalLevels(got []model.Level, want ...model.Level) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
