package nn

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Activation names a pointwise non-linearity.
type Activation string

const (
	// ActNone leaves the input untouched.
	ActNone Activation = ""
	// ReLU is max(x, 0).
	ReLU Activation = "relu"
	// ReLU6 is min(max(x, 0), 6).
	ReLU6 Activation = "relu6"
	// LeakyReLU uses a slope of 0.1 below zero (Darknet).
	LeakyReLU Activation = "leaky"
	// HSigmoid is relu6(x+3)/6.
	HSigmoid Activation = "hsigmoid"
	// HSwish is x*hsigmoid(x).
	HSwish Activation = "hswish"
	// Sigmoid is the logistic function.
	Sigmoid Activation = "sigmoid"
)

const leakySlope = 0.1

// Act applies an Activation. It is a Module so it can sit in a Sequential.
type Act struct {
	kind Activation
	s    *Scope
}

// NewAct returns the activation module for kind.
func NewAct(s *Scope, kind Activation) *Act {
	return &Act{kind: kind, s: s}
}

// Kind returns the activation applied.
func (a *Act) Kind() Activation { return a.kind }

// Forward implements Module.
func (a *Act) Forward(x *G.Node) (*G.Node, error) {
	y, err := activate(a.s, x, a.kind)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", a.kind)
	}
	return y, nil
}

func activate(s *Scope, x *G.Node, kind Activation) (*G.Node, error) {
	switch kind {
	case ActNone:
		return x, nil
	case ReLU:
		return G.Rectify(x)
	case ReLU6:
		return relu6(s, x)
	case LeakyReLU:
		return G.LeakyRelu(x, leakySlope)
	case HSigmoid:
		return hsigmoid(s, x)
	case HSwish:
		gate, err := hsigmoid(s, x)
		if err != nil {
			return nil, err
		}
		return G.HadamardProd(x, gate)
	case Sigmoid:
		return G.Sigmoid(x)
	}
	return nil, fmt.Errorf("unknown activation %q", kind)
}

// relu6 is relu(x) - relu(x-6).
func relu6(s *Scope, x *G.Node) (*G.Node, error) {
	low, err := G.Rectify(x)
	if err != nil {
		return nil, err
	}
	shifted, err := G.Sub(x, s.Scalar(6))
	if err != nil {
		return nil, err
	}
	high, err := G.Rectify(shifted)
	if err != nil {
		return nil, err
	}
	return G.Sub(low, high)
}

func hsigmoid(s *Scope, x *G.Node) (*G.Node, error) {
	shifted, err := G.Add(x, s.Scalar(3))
	if err != nil {
		return nil, err
	}
	clipped, err := relu6(s, shifted)
	if err != nil {
		return nil, err
	}
	return G.Mul(clipped, s.Scalar(1.0/6.0))
}
