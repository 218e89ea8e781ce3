// Package model - Architecture identifiers and shared construction types.
package model

import (
	"fmt"
	"strings"
)

// Family is an architecture family a backbone can be built from.
type Family string

const (
	// FamilyShuffleNetV2 is ShuffleNet V2 (width multipliers 0.5, 1.0, 1.5, 2.0).
	FamilyShuffleNetV2 Family = "shufflenetv2"
	// FamilyMobileNetV2 is MobileNet V2 (width multipliers 0.25, 0.5, 0.75, 1.0).
	FamilyMobileNetV2 Family = "mobilenetv2"
	// FamilyMobileNetV3 is MobileNet V3 large.
	FamilyMobileNetV3 Family = "mobilenetv3"
	// FamilySqueezeNet is SqueezeNet 1.1.
	FamilySqueezeNet Family = "squeezenet"
	// FamilyDarknet is Darknet-53.
	FamilyDarknet Family = "darknet"
	// FamilySNet is the ThunderNet SNet backbone (versions 49, 146, 535).
	FamilySNet Family = "snet"
	// FamilyResNet is the generic ResNet family resolved by registry name
	// (resnet18, preresnet50, resnet18_wd4, ...).
	FamilyResNet Family = "resnet"
)

// Families lists every supported family.
var Families = []Family{
	FamilyShuffleNetV2,
	FamilyMobileNetV2,
	FamilyMobileNetV3,
	FamilySqueezeNet,
	FamilyDarknet,
	FamilySNet,
	FamilyResNet,
}

// ParseFamily resolves a family name case-insensitively.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", Configurationf("unknown architecture family %q", s)
}

// Level is a feature level: level k is the output of stage k, at stride 2^k.
type Level int

const (
	// MinLevel is the finest level a backbone can expose.
	MinLevel Level = 2
	// MaxLevel is the coarsest level a backbone can expose.
	MaxLevel Level = 5
)

// DefaultLevels are the levels exposed when none are requested.
var DefaultLevels = []Level{3, 4, 5}

// Stride returns the spatial stride of the level relative to the input.
func (l Level) Stride() int { return 1 << uint(l) }

// String implements fmt.Stringer.
func (l Level) String() string { return fmt.Sprintf("C%d", int(l)) }

// Contains reports whether levels includes l.
func Contains(levels []Level, l Level) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}
