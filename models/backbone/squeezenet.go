package backbone

import (
	"github.com/nvr-ai/go-ssdlite/nn"
)

// squeezePool is the ceil-mode 3x3/2 pooling of SqueezeNet. Its inputs are post-ReLU,
// so the zeros completing the last window never win the max.
var squeezePool = nn.CeilMaxPool{Kernel: 3, Stride: 2}

// buildSqueezeNet partitions SqueezeNet 1.1 into conv | pool+fire2,3 | pool+fire4,5 |
// pool+fire6-9, plus pool+fire(512,64,256,256) under extra when fifth is set. The
// network has no normalization layers and the fifth stage is never pretrained.
func buildSqueezeNet(s, extra *nn.Scope, fifth bool) []nn.Module {
	s = s.WithNorm(nn.NormNone)
	conv := nn.NewConv2d(s.Sub("init_block.conv"), nn.ConvConfig{
		In: InputChannels, Out: 64, Kernel: 3, Stride: 2, Padding: 1, Act: nn.ReLU, Bias: true,
	})

	fires := []struct{ in, squeeze, expand int }{
		{64, 16, 64}, {128, 16, 64},
		{128, 32, 128}, {256, 32, 128},
		{256, 48, 192}, {384, 48, 192}, {384, 64, 256}, {512, 64, 256},
	}
	fire := func(sc *nn.Scope, i int) *nn.Fire {
		f := fires[i]
		return nn.NewFire(sc.Subf("unit%d", i+1), f.in, f.squeeze, f.expand, f.expand)
	}

	stage1, stage2, stage3 := s.Sub("stage1"), s.Sub("stage2"), s.Sub("stage3")
	stages := []nn.Module{
		conv,
		nn.Seq(squeezePool, fire(stage1, 0), fire(stage1, 1)),
		nn.Seq(squeezePool, fire(stage2, 2), fire(stage2, 3)),
		nn.Seq(squeezePool, fire(stage3, 4), fire(stage3, 5), fire(stage3, 6), fire(stage3, 7)),
	}
	if fifth {
		e := extra.WithNorm(nn.NormNone).Sub("stage5")
		stages = append(stages, nn.Seq(squeezePool, nn.NewFire(e.Sub("unit1"), 512, 64, 256, 256)))
	}
	return stages
}
