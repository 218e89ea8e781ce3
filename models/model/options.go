// Package model - Model options.
package model

import (
	"gorgonia.org/tensor"
)

// Precision represents the precision of the model graph.
type Precision string

const (
	// PrecisionFP32 builds graphs on 32-bit floats.
	PrecisionFP32 Precision = "FP32"
	// PrecisionFP64 builds graphs on 64-bit floats.
	PrecisionFP64 Precision = "FP64"
)

// Dtype returns the tensor element type for the precision. The empty precision
// defaults to FP32.
func (p Precision) Dtype() (tensor.Dtype, error) {
	switch p {
	case "", PrecisionFP32:
		return tensor.Float32, nil
	case PrecisionFP64:
		return tensor.Float64, nil
	}
	return tensor.Dtype{}, Configurationf("unsupported precision %q", p)
}
