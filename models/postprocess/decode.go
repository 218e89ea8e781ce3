package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssdlite/models/model"
	"github.com/nvr-ai/go-ssdlite/models/ssdlite"
	"github.com/nvr-ai/go-ssdlite/transforms"
)

// DecodeConfig controls how raw head outputs become detections.
type DecodeConfig struct {
	// Variances scale the center and size offsets.
	Variances [2]float32
	// ScoreThreshold drops detections with a lower softmax score.
	ScoreThreshold float32
	// TopK keeps at most this many detections before suppression. Zero keeps all.
	TopK int
	// Labels names classes in the results when set.
	Labels model.LabelSet
}

// DefaultDecodeConfig returns the usual SSD decoding parameters.
func DefaultDecodeConfig() DecodeConfig {
	return DecodeConfig{Variances: [2]float32{0.1, 0.2}, ScoreThreshold: 0.5, TopK: 200}
}

// Decode turns the predictions of one image into detections sorted by descending
// score.
//
// Arguments:
//   - loc: T*4 box offsets of one image.
//   - cls: T*classes raw class scores of one image.
//   - priors: T default boxes, in prediction order.
//   - width, height: The input size the boxes are scaled to.
//   - cfg: Decoding parameters.
//
// Returns:
//   - []Result: Every (prior, foreground class) pair scoring at least the threshold.
//   - error: When the slices disagree in length.
func Decode(loc, cls []float32, priors []Prior, width, height int, cfg DecodeConfig) ([]Result, error) {
	t := len(priors)
	if t == 0 || len(loc) != t*ssdlite.BoxSize || len(cls)%t != 0 {
		return nil, errors.Errorf("decode: %d priors, %d offsets, %d scores", t, len(loc), len(cls))
	}
	classes := len(cls) / t
	w, h := float32(width), float32(height)

	var out []Result
	probs := make([]float32, classes)
	for i, p := range priors {
		softmax(cls[i*classes:(i+1)*classes], probs)
		var box transforms.Box
		decoded := false
		for c := 1; c < classes; c++ {
			if probs[c] < cfg.ScoreThreshold {
				continue
			}
			if !decoded {
				box = decodeBox(loc[i*4:i*4+4], p, cfg.Variances).Scale(w, h).Clip(w, h)
				decoded = true
			}
			out = append(out, Result{Box: box, Score: probs[c], Class: c, Label: cfg.Labels.Name(c)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if cfg.TopK > 0 && len(out) > cfg.TopK {
		out = out[:cfg.TopK]
	}
	return out, nil
}

// decodeBox applies center-size offsets to a prior.
func decodeBox(d []float32, p Prior, v [2]float32) transforms.Box {
	cx := d[0]*v[0]*p.W + p.CX
	cy := d[1]*v[0]*p.H + p.CY
	bw := math32.Exp(d[2]*v[1]) * p.W
	bh := math32.Exp(d[3]*v[1]) * p.H
	return transforms.Box{X1: cx - bw/2, Y1: cy - bh/2, X2: cx + bw/2, Y2: cy + bh/2}
}

// softmax writes the softmax of logits into dst.
func softmax(logits, dst []float32) {
	hi := logits[0]
	for _, v := range logits[1:] {
		hi = math32.Max(hi, v)
	}
	var sum float32
	for i, v := range logits {
		dst[i] = math32.Exp(v - hi)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}
