// Package backbone - Multi-scale feature extractors partitioned into five stages.
//
// Every family is built on an nn.Scope, then cut into stages by structural position:
// stage k ends where the feature map reaches stride 2^k. The partition is computed once
// at construction and never changes; Forward snapshots the outputs of the requested
// levels.
package backbone

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/zoo"
	"github.com/nvr-ai/go-ssdlite/nn"
)

// InputChannels is the channel count of the images a backbone consumes.
const InputChannels = 3

// weightsPrefix scopes the parameters covered by a pretrained weight archive.
const weightsPrefix = "backbone.features."

// Config describes a backbone to build.
type Config struct {
	// Family selects the architecture.
	Family model.Family `json:"family" yaml:"family"`
	// Mult is the width multiplier. Zero means 1.0 for families sized by multiplier.
	Mult float64 `json:"mult,omitempty" yaml:"mult,omitempty"`
	// Version selects the SNet variant (49, 146 or 535). Zero means 49.
	Version int `json:"version,omitempty" yaml:"version,omitempty"`
	// Name is the registry name of a ResNet-family network (resnet18, preresnet50, ...).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Levels are the feature levels to expose, strictly increasing. Empty means 3, 4, 5.
	Levels []model.Level `json:"levels,omitempty" yaml:"levels,omitempty"`
	// Pretrained loads registry weights into the network.
	Pretrained bool `json:"pretrained" yaml:"pretrained"`
	// Norm is the normalization layer: "bn" (default) or "gn". Pretrained weights
	// require "bn".
	Norm nn.Norm `json:"norm,omitempty" yaml:"norm,omitempty"`
	// Precision selects the graph element type.
	Precision model.Precision `json:"precision,omitempty" yaml:"precision,omitempty"`
	// Weights locates pretrained weight archives.
	Weights zoo.Store `json:"weights" yaml:"weights"`
}

// Stage is one partition of a backbone. It is immutable once built.
type Stage struct {
	level model.Level
	in    int
	out   int
	mod   nn.Module
}

// Level returns the level at the output of the stage.
func (s Stage) Level() model.Level { return s.level }

// Name returns the stage name ("layer1" .. "layer5").
func (s Stage) Name() string { return "layer" + strconv.Itoa(int(s.level)) }

// InChannels returns the channel count the stage consumes.
func (s Stage) InChannels() int { return s.in }

// OutChannels returns the channel count the stage produces.
func (s Stage) OutChannels() int { return s.out }

// OutSize returns the spatial size the stage produces from an input of size n.
func (s Stage) OutSize(n int) int { return nn.OutSize(s.mod, n) }

// Forward applies the stage.
func (s Stage) Forward(x *G.Node) (*G.Node, error) {
	y, err := s.mod.Forward(x)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.Name())
	}
	return y, nil
}

// Backbone is a partitioned feature extractor exposing a subset of its levels.
type Backbone struct {
	family model.Family
	name   string
	cap    Capability
	levels []model.Level
	stages []Stage
	scope  *nn.Scope
}

// New builds a backbone on g.
//
// Arguments:
//   - g: The graph the backbone is built on.
//   - cfg: The backbone description.
//
// Returns:
//   - *Backbone: The backbone, or nil on error.
//   - error: ErrConfiguration for invalid requests, ErrNotFound for unknown registry names.
func New(g *G.ExprGraph, cfg Config) (*Backbone, error) {
	return NewContext(context.Background(), g, cfg)
}

// NewContext is New with a context bounding the pretrained weight download.
func NewContext(ctx context.Context, g *G.ExprGraph, cfg Config) (*Backbone, error) {
	family, err := model.ParseFamily(string(cfg.Family))
	if err != nil {
		return nil, err
	}
	c, err := Capabilities(family)
	if err != nil {
		return nil, err
	}
	levels, err := validateLevels(family, c, cfg.Levels)
	if err != nil {
		return nil, err
	}
	norm, err := nn.ParseNorm(string(cfg.Norm))
	if err != nil {
		return nil, model.Configurationf("%v", err)
	}
	if cfg.Pretrained {
		if !c.Pretrained {
			return nil, model.Configurationf("no pretrained weights are available for %s", family)
		}
		if norm != nn.NormBN {
			return nil, model.Configurationf("norm %q can only be used when pretrained is false", norm)
		}
	}
	dt, err := cfg.Precision.Dtype()
	if err != nil {
		return nil, err
	}

	b := &Backbone{family: family, cap: c, levels: levels}
	if err := b.resolve(cfg); err != nil {
		return nil, err
	}

	// Pretrained weights are fetched and checked against a build on a private graph,
	// so a bad archive leaves g untouched.
	var weights zoo.Archive
	if cfg.Pretrained {
		path, err := cfg.Weights.Fetch(ctx, b.name)
		if err != nil {
			return nil, err
		}
		if weights, err = zoo.ReadArchive(path); err != nil {
			return nil, err
		}
		dry := nn.NewScope(G.NewGraph(), dt, norm).Sub("backbone")
		if _, err := b.build(dry, cfg); err != nil {
			return nil, err
		}
		if err := weights.Check(dry.Params(), weightsPrefix); err != nil {
			return nil, err
		}
	}

	b.scope = nn.NewScope(g, dt, norm).Sub("backbone")
	mods, err := b.build(b.scope, cfg)
	if err != nil {
		return nil, err
	}
	b.partition(mods)
	if cfg.Pretrained {
		if err := weights.Bind(b.scope.Params(), weightsPrefix); err != nil {
			return nil, err
		}
	}
	logf("built %s (%s) levels=%v channels=%v params=%d",
		family, b.name, levels, b.OutChannels(), b.scope.Params().Size())
	return b, nil
}

// resolve validates the variant options and sets the registry name. It adds nothing
// to any graph.
func (b *Backbone) resolve(cfg Config) error {
	mult := cfg.mult()
	if len(b.cap.Mults) > 0 && !b.cap.supportsMult(mult) {
		return model.Configurationf("%s does not support width multiplier %v (supported: %v)", b.family, mult, b.cap.Mults)
	}

	switch b.family {
	case model.FamilyShuffleNetV2:
		b.name = shuffleNetV2Names[mult]
	case model.FamilyMobileNetV2:
		b.name = mobileNetV2Names[mult]
	case model.FamilyMobileNetV3:
		b.name = "mobilenetv3_large"
	case model.FamilySqueezeNet:
		b.name = "squeezenet_v1_1"
	case model.FamilyDarknet:
		b.name = "darknet53"
	case model.FamilySNet:
		version := cfg.snetVersion()
		if _, ok := snetChannels[version]; !ok {
			return model.Configurationf("snet version must be one of %v, got %d", snetVersions, version)
		}
		b.name = "snet" + strconv.Itoa(version)
	case model.FamilyResNet:
		if cfg.Name == "" {
			return model.Configurationf("resnet family requires a registry name")
		}
		e, err := zoo.Lookup(cfg.Name)
		if err != nil {
			return err
		}
		if e.Family != model.FamilyResNet {
			return model.Configurationf("%s is a %s network, not a resnet", e.Name, e.Family)
		}
		b.name = e.Name
		b.cap.HasPostActivation = e.PreAct
	default:
		return model.Configurationf("unknown architecture family %q", b.family)
	}
	return nil
}

// build constructs the stage modules of the resolved variant under s.
func (b *Backbone) build(s *nn.Scope, cfg Config) ([]nn.Module, error) {
	features := s.Sub("features")
	mult := cfg.mult()

	switch b.family {
	case model.FamilyShuffleNetV2:
		return buildShuffleNetV2(features, mult), nil
	case model.FamilyMobileNetV2:
		return buildMobileNetV2(features, mult)
	case model.FamilyMobileNetV3:
		return buildMobileNetV3(features, mult)
	case model.FamilySqueezeNet:
		return buildSqueezeNet(features, s.Sub("extra"), model.Contains(b.levels, 5)), nil
	case model.FamilyDarknet:
		return buildDarknet(features), nil
	case model.FamilySNet:
		return buildSNet(features, cfg.snetVersion()), nil
	case model.FamilyResNet:
		e, err := zoo.Lookup(b.name)
		if err != nil {
			return nil, err
		}
		return buildResNet(features, e)
	}
	return nil, model.Configurationf("unknown architecture family %q", b.family)
}

func (cfg Config) mult() float64 {
	if cfg.Mult == 0 {
		return 1.0
	}
	return cfg.Mult
}

func (cfg Config) snetVersion() int {
	if cfg.Version == 0 {
		return 49
	}
	return cfg.Version
}

// partition wraps the stage modules and resolves their channel counts. A stage
// without a channel-changing layer passes its input width through.
func (b *Backbone) partition(mods []nn.Module) {
	b.stages = make([]Stage, len(mods))
	in := InputChannels
	for i, m := range mods {
		out, ok := nn.OutChannels(m)
		if !ok {
			out = in
		}
		b.stages[i] = Stage{level: model.Level(i + 1), in: in, out: out, mod: m}
		in = out
	}
}

// Forward runs the stages in order and returns the outputs of the requested levels,
// finest first.
//
// Arguments:
//   - x: An NCHW batch with InputChannels channels.
//
// Returns:
//   - []*G.Node: One feature map per level in Levels().
//   - error: Wrapped graph errors.
func (b *Backbone) Forward(x *G.Node) ([]*G.Node, error) {
	if x.Dims() != 4 {
		return nil, errors.Errorf("backbone: want NCHW input, got shape %v", x.Shape())
	}
	outs := make([]*G.Node, 0, len(b.levels))
	var err error
	for _, s := range b.stages {
		if x, err = s.Forward(x); err != nil {
			return nil, errors.Wrapf(err, "%s", b.family)
		}
		if model.Contains(b.levels, s.level) {
			outs = append(outs, x)
		}
	}
	return outs, nil
}

// Family returns the architecture family.
func (b *Backbone) Family() model.Family { return b.family }

// Name returns the registry name of the network the backbone was built as.
func (b *Backbone) Name() string { return b.name }

// Capability returns the resolved capability descriptor.
func (b *Backbone) Capability() Capability {
	c := b.cap
	c.Mults = append([]float64(nil), c.Mults...)
	return c
}

// Levels returns the exposed levels.
func (b *Backbone) Levels() []model.Level {
	return append([]model.Level(nil), b.levels...)
}

// OutChannels returns the channel counts of the exposed levels, aligned to Levels().
func (b *Backbone) OutChannels() []int {
	out := make([]int, len(b.levels))
	for i, l := range b.levels {
		out[i] = b.stages[l-1].out
	}
	return out
}

// FeatureSize returns the height and width of the level l feature map for an
// h x w input.
func (b *Backbone) FeatureSize(l model.Level, height, width int) (int, int) {
	for _, s := range b.stages[:int(l)] {
		height, width = s.OutSize(height), s.OutSize(width)
	}
	return height, width
}

// StageChannels returns the output channel count of every built stage.
func (b *Backbone) StageChannels() []int {
	out := make([]int, len(b.stages))
	for i, s := range b.stages {
		out[i] = s.out
	}
	return out
}

// Stages returns the built stages in order.
func (b *Backbone) Stages() []Stage {
	return append([]Stage(nil), b.stages...)
}

// Params returns the parameters of the backbone.
func (b *Backbone) Params() *nn.Params { return b.scope.Params() }

// Graph returns the graph the backbone is built on.
func (b *Backbone) Graph() *G.ExprGraph { return b.scope.Graph() }

// Dtype returns the element type of the backbone.
func (b *Backbone) Dtype() tensor.Dtype { return b.scope.Dtype() }

// Norm returns the normalization layer the backbone was built with.
func (b *Backbone) Norm() nn.Norm { return b.scope.Norm() }
