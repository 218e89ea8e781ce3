package backbone

import (
	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/zoo"
	"github.com/nvr-ai/go-ssdlite/nn"
)

// Units per stage by depth. Depths of 50 and above use bottleneck units.
var resnetLayers = map[int][]int{
	10:  {1, 1, 1, 1},
	12:  {2, 1, 1, 1},
	14:  {2, 2, 1, 1},
	16:  {2, 2, 2, 1},
	18:  {2, 2, 2, 2},
	26:  {3, 3, 3, 3},
	34:  {3, 4, 6, 3},
	50:  {3, 4, 6, 3},
	101: {3, 4, 23, 3},
	152: {3, 8, 36, 3},
}

var resnetWidths = []int{64, 128, 256, 512}

// buildResNet partitions a ResNet-family network into init conv | pool+stage1 |
// stage2 | stage3 | stage4 (+post activation for pre-activation networks).
//
// Width-reduced variants scale every unit except the last one of stage4, which keeps
// the full width.
func buildResNet(s *nn.Scope, e zoo.Entry) ([]nn.Module, error) {
	layers, ok := resnetLayers[e.Depth]
	if !ok {
		return nil, model.Configurationf("%s: unsupported depth %d", e.Name, e.Depth)
	}
	bottleneck := e.Depth >= 50
	norm := s.Norm()
	scale := func(c int) int { return int(float64(c) * e.Mult) }

	in := scale(64)
	init := nn.NewConv2d(s.Sub("init_block.conv"), nn.ConvConfig{
		In: InputChannels, Out: in, Kernel: 7, Stride: 2, Padding: 3, Norm: norm, Act: nn.ReLU,
	})

	stages := make([]*nn.Sequential, len(resnetWidths))
	for i, w := range resnetWidths {
		if bottleneck {
			w *= 4
		}
		sc := s.Subf("stage%d", i+1)
		seq := nn.Seq()
		for j := 0; j < layers[i]; j++ {
			out := w
			if i != len(resnetWidths)-1 || j != layers[i]-1 {
				out = scale(w)
			}
			stride := 1
			if i > 0 && j == 0 {
				stride = 2
			}
			u := sc.Subf("unit%d", j+1)
			if e.PreAct {
				seq.Append(preResUnit(u, in, out, stride, bottleneck))
			} else {
				seq.Append(resUnit(u, in, out, stride, bottleneck))
			}
			in = out
		}
		stages[i] = seq
	}

	last := nn.Seq(stages[3])
	if e.PreAct {
		last.Append(nn.NewNormAct(s.Sub("post_activ"), in, nn.ReLU))
	}
	return []nn.Module{
		init,
		nn.Seq(nn.MaxPool{Kernel: 3, Stride: 2, Padding: 1}, stages[0]),
		stages[1],
		stages[2],
		last,
	}, nil
}

// resUnit is a post-activation residual unit: relu(body(x) + shortcut(x)).
func resUnit(s *nn.Scope, in, out, stride int, bottleneck bool) nn.Module {
	norm := s.Norm()
	b := s.Sub("body")
	var body *nn.Sequential
	if bottleneck {
		mid := out / 4
		body = nn.Seq(
			nn.Conv1x1(b.Sub("conv1"), in, mid, norm, nn.ReLU),
			nn.Conv3x3(b.Sub("conv2"), mid, mid, stride, norm, nn.ReLU),
			nn.Conv1x1(b.Sub("conv3"), mid, out, norm, nn.ActNone),
		)
	} else {
		body = nn.Seq(
			nn.Conv3x3(b.Sub("conv1"), in, out, stride, norm, nn.ReLU),
			nn.Conv3x3(b.Sub("conv2"), out, out, 1, norm, nn.ActNone),
		)
	}
	var shortcut *nn.Conv2d
	if in != out || stride != 1 {
		shortcut = nn.NewConv2d(s.Sub("identity_conv"), nn.ConvConfig{
			In: in, Out: out, Kernel: 1, Stride: stride, Norm: norm,
		})
	}
	return nn.NewResidualUnit(s, body, shortcut, nn.ReLU)
}

// preResUnit is a pre-activation residual unit. A projection shortcut reads the
// pre-activated input; the identity shortcut reads the raw input.
func preResUnit(s *nn.Scope, in, out, stride int, bottleneck bool) nn.Module {
	b := s.Sub("body")
	conv := func(name string, cin, cout, k, stride int) *nn.Conv2d {
		return nn.NewConv2d(b.Sub(name+".conv"), nn.ConvConfig{
			In: cin, Out: cout, Kernel: k, Stride: stride, Padding: k / 2,
		})
	}
	pre := nn.NewNormAct(b.Sub("conv1"), in, nn.ReLU)

	rest := nn.Seq()
	if bottleneck {
		mid := out / 4
		rest.Append(
			conv("conv1", in, mid, 1, 1),
			nn.NewNormAct(b.Sub("conv2"), mid, nn.ReLU),
			conv("conv2", mid, mid, 3, stride),
			nn.NewNormAct(b.Sub("conv3"), mid, nn.ReLU),
			conv("conv3", mid, out, 1, 1),
		)
	} else {
		rest.Append(
			conv("conv1", in, out, 3, stride),
			nn.NewNormAct(b.Sub("conv2"), out, nn.ReLU),
			conv("conv2", out, out, 3, 1),
		)
	}

	if in == out && stride == 1 {
		return nn.NewResidualUnit(s, nn.Seq(pre, rest), nil, nn.ActNone)
	}
	shortcut := nn.NewConv2d(s.Sub("identity_conv"), nn.ConvConfig{In: in, Out: out, Kernel: 1, Stride: stride})
	return nn.Seq(pre, nn.NewResidualUnit(s, rest, shortcut, nn.ActNone))
}
