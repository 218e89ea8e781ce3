package backbone

import (
	"github.com/nvr-ai/go-ssdlite/models/model"
)

// Capability describes what a family can be built with.
type Capability struct {
	// StageCount is the number of stages always built.
	StageCount int
	// OptionalFifth marks families whose fifth stage is only built when level 5 is
	// requested (SqueezeNet).
	OptionalFifth bool
	// HasPostActivation marks networks ending with a standalone norm + activation after
	// the last stage. For the ResNet family it is resolved per registry entry.
	HasPostActivation bool
	// Pretrained reports whether registry weights exist for the family.
	Pretrained bool
	// Mults are the supported width multipliers. Empty means the family is sized by
	// version or registry name instead.
	Mults []float64
}

var capabilities = map[model.Family]Capability{
	model.FamilyShuffleNetV2: {StageCount: 5, Pretrained: true, Mults: []float64{0.5, 1.0, 1.5, 2.0}},
	model.FamilyMobileNetV2:  {StageCount: 5, Pretrained: true, Mults: []float64{0.25, 0.5, 0.75, 1.0}},
	model.FamilyMobileNetV3:  {StageCount: 5, Mults: []float64{0.5, 0.75, 1.0, 1.25}},
	model.FamilySqueezeNet:   {StageCount: 4, OptionalFifth: true, Pretrained: true, Mults: []float64{1.0}},
	model.FamilyDarknet:      {StageCount: 5, Pretrained: true, Mults: []float64{1.0}},
	model.FamilySNet:         {StageCount: 5},
	model.FamilyResNet:       {StageCount: 5, Pretrained: true},
}

// registry names of the pretrained networks selected by width multiplier.
var (
	shuffleNetV2Names = map[float64]string{
		0.5: "shufflenetv2_wd2",
		1.0: "shufflenetv2_w1",
		1.5: "shufflenetv2_w3d2",
		2.0: "shufflenetv2_w2",
	}
	mobileNetV2Names = map[float64]string{
		0.25: "mobilenetv2_wd4",
		0.5:  "mobilenetv2_wd2",
		0.75: "mobilenetv2_w3d4",
		1.0:  "mobilenetv2_w1",
	}
)

// SNet versions.
var snetVersions = []int{49, 146, 535}

// Capabilities returns the capability descriptor of a family.
func Capabilities(f model.Family) (Capability, error) {
	c, ok := capabilities[f]
	if !ok {
		return Capability{}, model.Configurationf("unknown architecture family %q", f)
	}
	c.Mults = append([]float64(nil), c.Mults...)
	return c, nil
}

// maxLevel is the coarsest level the family can expose.
func (c Capability) maxLevel() model.Level {
	if c.OptionalFifth {
		return model.Level(c.StageCount + 1)
	}
	return model.Level(c.StageCount)
}

func (c Capability) supportsMult(m float64) bool {
	for _, v := range c.Mults {
		if v == m {
			return true
		}
	}
	return false
}

// validateLevels returns the requested levels, or the default ones when none are
// requested, after checking they are in range, strictly increasing and within the
// family's stage span.
func validateLevels(f model.Family, c Capability, levels []model.Level) ([]model.Level, error) {
	if len(levels) == 0 {
		return append([]model.Level(nil), model.DefaultLevels...), nil
	}
	for i, l := range levels {
		if l < model.MinLevel || l > model.MaxLevel {
			return nil, model.Configurationf("feature level %d out of range [%d, %d]", l, model.MinLevel, model.MaxLevel)
		}
		if l > c.maxLevel() {
			return nil, model.Configurationf("%s defines no stage for level %d", f, l)
		}
		if i > 0 && l <= levels[i-1] {
			return nil, model.Configurationf("feature levels %v must be strictly increasing", levels)
		}
	}
	return append([]model.Level(nil), levels...), nil
}
