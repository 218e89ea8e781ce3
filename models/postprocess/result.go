// Package postprocess - Decoding and suppression of SSD head outputs.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-ssdlite/transforms"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in input pixels.
	Box transforms.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result. Zero is background and never reported.
	Class int
	// The class name, when a label set is known.
	Label string
}

// String implements fmt.Stringer.
func (r Result) String() string {
	name := r.Label
	if name == "" {
		name = fmt.Sprintf("class %d", r.Class)
	}
	return fmt.Sprintf("%s (%.3f): (%.1f, %.1f), (%.1f, %.1f)",
		name, r.Score, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2)
}
