// Package zoo - Registry of pretrained architectures and their weight archives.
//
// The registry is a fixed table built at init and never modified afterwards. Weights
// are stored as .npz archives (a zip of one .npy file per parameter) named after the
// registry entry.
package zoo

import (
	"sort"
	"strconv"

	"github.com/nvr-ai/go-ssdlite/models/model"
)

// Entry describes one pretrained network.
type Entry struct {
	// Name is the registry key, e.g. "shufflenetv2_w1".
	Name string `json:"name" yaml:"name"`
	// Family is the architecture family the network is built with.
	Family model.Family `json:"family" yaml:"family"`
	// Mult is the width multiplier.
	Mult float64 `json:"mult" yaml:"mult"`
	// Depth is the layer count of ResNet-family networks and Darknet.
	Depth int `json:"depth,omitempty" yaml:"depth,omitempty"`
	// PreAct marks pre-activation ResNets, which end with a post activation.
	PreAct bool `json:"preact,omitempty" yaml:"preact,omitempty"`
}

var entries = func() map[string]Entry {
	m := make(map[string]Entry)
	add := func(e Entry) { m[e.Name] = e }

	add(Entry{Name: "shufflenetv2_wd2", Family: model.FamilyShuffleNetV2, Mult: 0.5})
	add(Entry{Name: "shufflenetv2_w1", Family: model.FamilyShuffleNetV2, Mult: 1.0})
	add(Entry{Name: "shufflenetv2_w3d2", Family: model.FamilyShuffleNetV2, Mult: 1.5})
	add(Entry{Name: "shufflenetv2_w2", Family: model.FamilyShuffleNetV2, Mult: 2.0})

	add(Entry{Name: "mobilenetv2_wd4", Family: model.FamilyMobileNetV2, Mult: 0.25})
	add(Entry{Name: "mobilenetv2_wd2", Family: model.FamilyMobileNetV2, Mult: 0.5})
	add(Entry{Name: "mobilenetv2_w3d4", Family: model.FamilyMobileNetV2, Mult: 0.75})
	add(Entry{Name: "mobilenetv2_w1", Family: model.FamilyMobileNetV2, Mult: 1.0})

	add(Entry{Name: "squeezenet_v1_1", Family: model.FamilySqueezeNet, Mult: 1.0})
	add(Entry{Name: "darknet53", Family: model.FamilyDarknet, Mult: 1.0, Depth: 53})

	for _, depth := range []int{10, 12, 14, 16, 18, 26, 34, 50, 101, 152} {
		add(Entry{Name: resnetName("resnet", depth), Family: model.FamilyResNet, Mult: 1.0, Depth: depth})
		add(Entry{Name: resnetName("preresnet", depth), Family: model.FamilyResNet, Mult: 1.0, Depth: depth, PreAct: true})
	}
	add(Entry{Name: "resnet18_wd4", Family: model.FamilyResNet, Mult: 0.25, Depth: 18})
	add(Entry{Name: "resnet18_wd2", Family: model.FamilyResNet, Mult: 0.5, Depth: 18})
	add(Entry{Name: "resnet18_w3d4", Family: model.FamilyResNet, Mult: 0.75, Depth: 18})
	return m
}()

// Lookup returns the registry entry for name. Unknown names yield a
// *model.NotFoundError carrying up to five suggestions.
func Lookup(name string) (Entry, error) {
	e, ok := entries[name]
	if !ok {
		return Entry{}, &model.NotFoundError{Name: name, Suggestions: Search(name, 5)}
	}
	return e, nil
}

// Names returns every registry name in lexical order.
func Names() []string {
	out := make([]string, 0, len(entries))
	for name := range entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByFamily returns the entries of a family in lexical order.
func ByFamily(f model.Family) []Entry {
	var out []Entry
	for _, name := range Names() {
		if e := entries[name]; e.Family == f {
			out = append(out, e)
		}
	}
	return out
}

func resnetName(prefix string, depth int) string {
	return prefix + strconv.Itoa(depth)
}
