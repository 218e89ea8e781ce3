package backbone

import (
	"github.com/nvr-ai/go-ssdlite/nn"
)

type shuffleWidths struct {
	stages []int
	final  int
}

var shuffleNetV2Widths = map[float64]shuffleWidths{
	0.5: {stages: []int{48, 96, 192}, final: 1024},
	1.0: {stages: []int{116, 232, 464}, final: 1024},
	1.5: {stages: []int{176, 352, 704}, final: 1024},
	2.0: {stages: []int{244, 488, 976}, final: 2048},
}

// Units per stage, shared by ShuffleNetV2 and SNet.
var shuffleRepeats = []int{4, 8, 4}

// snetChannels lists conv1, the three stages and, for SNet49, conv5.
var snetChannels = map[int][]int{
	49:  {24, 60, 120, 240, 512},
	146: {24, 132, 264, 528},
	535: {48, 248, 496, 992},
}

// buildShuffleNetV2 partitions ShuffleNetV2 into init conv | max pool | stage1 |
// stage2 | stage3 + final conv.
func buildShuffleNetV2(s *nn.Scope, mult float64) []nn.Module {
	w := shuffleNetV2Widths[mult]
	norm := s.Norm()
	const initWidth = 24

	conv := nn.Conv3x3(s.Sub("init_block.conv"), InputChannels, initWidth, 2, norm, nn.ReLU)
	stages := shuffleStages(s, initWidth, w.stages, 3)
	final := nn.Conv1x1(s.Sub("final_block"), w.stages[2], w.final, norm, nn.ReLU)

	return []nn.Module{
		conv,
		nn.MaxPool{Kernel: 3, Stride: 2, Padding: 1},
		stages[0],
		stages[1],
		nn.Seq(stages[2], final),
	}
}

// buildSNet partitions SNet like ShuffleNetV2 with 5x5 depthwise kernels; only SNet49
// ends with a 1x1 conv5.
func buildSNet(s *nn.Scope, version int) []nn.Module {
	ch := snetChannels[version]
	norm := s.Norm()

	conv := nn.Conv3x3(s.Sub("conv1"), InputChannels, ch[0], 2, norm, nn.ReLU)
	stages := shuffleStages(s, ch[0], ch[1:4], 5)
	last := nn.Seq(stages[2])
	if len(ch) == 5 {
		last.Append(nn.Conv1x1(s.Sub("conv5"), ch[3], ch[4], norm, nn.ReLU))
	}

	return []nn.Module{
		conv,
		nn.MaxPool{Kernel: 3, Stride: 2, Padding: 1},
		stages[0],
		stages[1],
		last,
	}
}

// shuffleStages builds one Sequential per width; the first unit of each downsamples.
func shuffleStages(s *nn.Scope, in int, widths []int, kernel int) []*nn.Sequential {
	out := make([]*nn.Sequential, len(widths))
	for i, width := range widths {
		stage := s.Subf("stage%d", i+1)
		seq := nn.Seq()
		for j := 0; j < shuffleRepeats[i]; j++ {
			seq.Append(nn.NewShuffleUnit(stage.Subf("unit%d", j+1), in, width, kernel, j == 0))
			in = width
		}
		out[i] = seq
	}
	return out
}
