package backbone

import (
	"github.com/nvr-ai/go-ssdlite/nn"
)

var (
	darknetWidths = []int{64, 128, 256, 512, 1024}
	darknetUnits  = []int{1, 2, 8, 8, 4}
)

// buildDarknet builds Darknet-53. The init conv joins stage1 in the first partition;
// every stage opens with a strided 3x3 conv followed by residual 1x1/3x3 pairs.
func buildDarknet(s *nn.Scope) []nn.Module {
	norm := s.Norm()
	in := 32
	init := nn.Conv3x3(s.Sub("init_block"), InputChannels, in, 1, norm, nn.LeakyReLU)

	stages := make([]nn.Module, len(darknetWidths))
	for i, width := range darknetWidths {
		sc := s.Subf("stage%d", i+1)
		seq := nn.Seq(nn.Conv3x3(sc.Sub("unit1"), in, width, 2, norm, nn.LeakyReLU))
		for j := 0; j < darknetUnits[i]; j++ {
			u := sc.Subf("unit%d", j+2)
			body := nn.Seq(
				nn.Conv1x1(u.Sub("body.conv1"), width, width/2, norm, nn.LeakyReLU),
				nn.Conv3x3(u.Sub("body.conv2"), width/2, width, 1, norm, nn.LeakyReLU),
			)
			seq.Append(nn.NewResidualUnit(u, body, nil, nn.ActNone))
		}
		stages[i] = seq
		in = width
	}
	stages[0] = nn.Seq(init, stages[0])
	return stages
}
