package backbone

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssdlite/nn"
)

// MobileNetV2 output widths per stage; the first unit of stages 2-5 has stride 2.
var mobileNetV2Stages = [][]int{
	{16},
	{24, 24},
	{32, 32, 32},
	{64, 64, 64, 64, 96, 96, 96},
	{160, 160, 160, 320},
}

// MobileNetV2 stages close on the expansion conv of the strided block that opens the
// next stage, where the feature map is widest.
var mobileNetV2Cuts = []cut{{at: 1, expand: true}, {at: 3, expand: true}, {at: 6, expand: true}, {at: 13, expand: true}}

func buildMobileNetV2(s *nn.Scope, mult float64) ([]nn.Module, error) {
	width := func(c int) int { return int(float64(c) * mult) }
	norm := s.Norm()

	in := width(32)
	finalWidth := 1280
	if mult > 1 {
		finalWidth = width(1280)
	}
	init := nn.Conv3x3(s.Sub("init_block"), InputChannels, in, 2, norm, nn.ReLU6)

	var blocks []*nn.InvertedResidual
	for i, stage := range mobileNetV2Stages {
		sc := s.Subf("stage%d", i+1)
		for j, c := range stage {
			out := width(c)
			cfg := nn.InvertedResidualConfig{
				In: in, Mid: in * 6, Out: out,
				Kernel: 3, Stride: 1, Act: nn.ReLU6, KeepExpand: true,
			}
			if i == 0 {
				cfg.Mid = in
			}
			if i > 0 && j == 0 {
				cfg.Stride = 2
			}
			blocks = append(blocks, nn.NewInvertedResidual(sc.Subf("unit%d", j+1), cfg))
			in = out
		}
	}
	final := nn.Conv1x1(s.Sub("final_block"), in, finalWidth, norm, nn.ReLU6)
	return partitionBlocks(init, blocks, mobileNetV2Cuts, final)
}

// mbv3Block is one row of the MobileNetV3-large table.
type mbv3Block struct {
	kernel, exp, out int
	se               bool
	act              nn.Activation
	stride           int
}

var mobileNetV3Large = []mbv3Block{
	{3, 16, 16, false, nn.ReLU, 1},
	{3, 64, 24, false, nn.ReLU, 2},
	{3, 72, 24, false, nn.ReLU, 1},
	{5, 72, 40, true, nn.ReLU, 2},
	{5, 120, 40, true, nn.ReLU, 1},
	{5, 120, 40, true, nn.ReLU, 1},
	{3, 240, 80, false, nn.HSwish, 2},
	{3, 200, 80, false, nn.HSwish, 1},
	{3, 184, 80, false, nn.HSwish, 1},
	{3, 184, 80, false, nn.HSwish, 1},
	{3, 480, 112, true, nn.HSwish, 1},
	{3, 672, 112, true, nn.HSwish, 1},
	{5, 672, 160, true, nn.HSwish, 2},
	{5, 960, 160, true, nn.HSwish, 1},
	{5, 960, 160, true, nn.HSwish, 1},
}

// Blocks 2 and 4 start stages on their own; blocks 7 and 13 contribute their expansion
// to the stage before.
var mobileNetV3Cuts = []cut{{at: 1}, {at: 3}, {at: 6, expand: true}, {at: 12, expand: true}}

func buildMobileNetV3(s *nn.Scope, mult float64) ([]nn.Module, error) {
	width := func(c int) int { return nn.MakeDivisible(float64(c)*mult, 8) }
	norm := s.Norm()

	in := width(16)
	init := nn.Conv3x3(s.Sub("init_block"), InputChannels, in, 2, norm, nn.HSwish)

	blocks := make([]*nn.InvertedResidual, len(mobileNetV3Large))
	for i, row := range mobileNetV3Large {
		out := width(row.out)
		blocks[i] = nn.NewInvertedResidual(s.Subf("unit%d", i+1), nn.InvertedResidualConfig{
			In: in, Mid: width(row.exp), Out: out,
			Kernel: row.kernel, Stride: row.stride, SE: row.se, Act: row.act,
		})
		in = out
	}
	final := nn.Conv1x1(s.Sub("final_block"), in, width(960), norm, nn.HSwish)
	return partitionBlocks(init, blocks, mobileNetV3Cuts, final)
}

// cut closes a stage before blocks[at]. With expand set, the expansion conv of
// blocks[at] ends the stage and the rest of the block opens the next one.
type cut struct {
	at     int
	expand bool
}

func partitionBlocks(prefix nn.Module, blocks []*nn.InvertedResidual, cuts []cut, suffix nn.Module) ([]nn.Module, error) {
	stages := make([]nn.Module, 0, len(cuts)+1)
	cur := nn.Seq(prefix)
	next := 0
	for _, c := range cuts {
		for ; next < c.at; next++ {
			cur.Append(blocks[next])
		}
		var tail nn.Module
		if c.expand {
			head, rest, ok := blocks[c.at].Split()
			if !ok {
				return nil, errors.Errorf("block %d cannot be split at its expansion", c.at+1)
			}
			cur.Append(head)
			tail = rest
			next = c.at + 1
		}
		stages = append(stages, cur)
		cur = nn.Seq(tail)
	}
	for ; next < len(blocks); next++ {
		cur.Append(blocks[next])
	}
	cur.Append(suffix)
	return append(stages, cur), nil
}
