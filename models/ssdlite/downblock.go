package ssdlite

import (
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-ssdlite/nn"
)

// DownBlock halves the resolution of a feature map: a 1x1 squeeze to out/2, a strided
// depthwise-separable 3x3 to out, then GroupNorm and ReLU.
type DownBlock struct {
	padding int
	out     int
	body    *nn.Sequential
}

// NewDownBlock builds a block under s. out must be even.
func NewDownBlock(s *nn.Scope, in, out, padding int) *DownBlock {
	mid := out / 2
	return &DownBlock{
		padding: padding,
		out:     out,
		body: nn.Seq(
			nn.Conv1x1(s.Sub("conv1"), in, mid, nn.NormGN, nn.ReLU),
			depthwiseSeparable(s.Sub("conv2"), mid, out, 2, padding),
			nn.NewNorm(s.Sub("gn2"), nn.NormGN, out),
			nn.NewAct(s, nn.ReLU),
		),
	}
}

// Padding returns the padding of the strided conv.
func (d *DownBlock) Padding() int { return d.padding }

// OutChannels implements nn.ChannelReporter.
func (d *DownBlock) OutChannels() int { return d.out }

// Children implements nn.Container.
func (d *DownBlock) Children() []nn.Module { return d.body.Children() }

// Forward implements nn.Module.
func (d *DownBlock) Forward(x *G.Node) (*G.Node, error) { return d.body.Forward(x) }
