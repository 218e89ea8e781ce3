package postprocess

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/ssdlite"
)

// Prior is a default box in center-size form, normalized to the input size.
type Prior struct {
	CX, CY, W, H float32
}

// PriorConfig controls default box geometry.
type PriorConfig struct {
	// MinScale and MaxScale bound the box scale of the finest and coarsest grid.
	MinScale, MaxScale float32
	// Clip clamps priors to the unit square.
	Clip bool
}

// DefaultPriorConfig returns the SSD scale range.
func DefaultPriorConfig() PriorConfig {
	return PriorConfig{MinScale: 0.2, MaxScale: 0.95}
}

// aspectRatios are taken in order; the second entry is the extra box at the
// geometric mean of this scale and the next.
var aspectRatios = []float32{1, 1, 2, 0.5, 3, 1.0 / 3}

// MaxAnchors is the largest anchor count a grid cell can have.
var MaxAnchors = len(aspectRatios)

// Priors lays out default boxes for grids in the order the head emits predictions:
// grid by grid, then row, column and anchor.
func Priors(grids []ssdlite.Grid, cfg PriorConfig) ([]Prior, error) {
	m := len(grids)
	scale := func(k int) float32 {
		if m == 1 {
			return cfg.MinScale
		}
		return cfg.MinScale + (cfg.MaxScale-cfg.MinScale)*float32(k)/float32(m-1)
	}

	var out []Prior
	for k, g := range grids {
		if g.Anchors > MaxAnchors {
			return nil, model.Configurationf("level %d has %d anchors, at most %d are supported", g.Level, g.Anchors, MaxAnchors)
		}
		sk := scale(k)
		next := float32(1)
		if k+1 < m {
			next = scale(k + 1)
		}
		shapes := make([][2]float32, g.Anchors)
		for a := range shapes {
			switch a {
			case 1:
				s := math32.Sqrt(sk * next)
				shapes[a] = [2]float32{s, s}
			default:
				r := math32.Sqrt(aspectRatios[a])
				shapes[a] = [2]float32{sk * r, sk / r}
			}
		}
		for y := 0; y < g.Height; y++ {
			cy := (float32(y) + 0.5) / float32(g.Height)
			for x := 0; x < g.Width; x++ {
				cx := (float32(x) + 0.5) / float32(g.Width)
				for _, wh := range shapes {
					p := Prior{CX: cx, CY: cy, W: wh[0], H: wh[1]}
					if cfg.Clip {
						p = clipPrior(p)
					}
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}

func clipPrior(p Prior) Prior {
	c := func(v float32) float32 { return math32.Min(math32.Max(v, 0), 1) }
	return Prior{CX: c(p.CX), CY: c(p.CY), W: c(p.W), H: c(p.H)}
}
