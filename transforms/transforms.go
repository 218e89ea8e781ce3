// Package transforms - Composable transformations over (input, target) pairs.
//
// A Transform maps an input and its target together, so geometric augmentations can
// keep annotations aligned with the image they describe. Combinators build pipelines
// out of smaller transforms; errors from any step are returned unmodified.
package transforms

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Transform maps an (input, target) pair.
type Transform[I, T any] interface {
	Apply(input I, target T) (I, T, error)
}

// Func adapts a function to a Transform.
type Func[I, T any] func(input I, target T) (I, T, error)

// Apply implements Transform.
func (f Func[I, T]) Apply(input I, target T) (I, T, error) { return f(input, target) }

// String implements fmt.Stringer.
func (f Func[I, T]) String() string { return "Func()" }

// Compose applies its transforms in order, threading the pair through each.
type Compose[I, T any] struct {
	ts []Transform[I, T]
}

// NewCompose builds a Compose over ts.
func NewCompose[I, T any](ts ...Transform[I, T]) *Compose[I, T] {
	return &Compose[I, T]{ts: append([]Transform[I, T](nil), ts...)}
}

// Apply implements Transform. It stops at the first error.
func (c *Compose[I, T]) Apply(input I, target T) (I, T, error) {
	var err error
	for _, t := range c.ts {
		if input, target, err = t.Apply(input, target); err != nil {
			return input, target, err
		}
	}
	return input, target, nil
}

// String implements fmt.Stringer.
func (c *Compose[I, T]) String() string { return describe("Compose", c.ts) }

// ErrNoChoices is returned by a RandomChoice without alternatives.
var ErrNoChoices = errors.New("transforms: random choice has no alternatives")

// RandomChoice applies one of its transforms, picked uniformly per call.
type RandomChoice[I, T any] struct {
	ts  []Transform[I, T]
	rng *rand.Rand
}

// NewRandomChoice builds a RandomChoice over ts drawing from the process-wide source.
func NewRandomChoice[I, T any](ts ...Transform[I, T]) *RandomChoice[I, T] {
	return &RandomChoice[I, T]{ts: append([]Transform[I, T](nil), ts...)}
}

// WithRand returns a copy drawing from rng, for reproducible pipelines. A *rand.Rand
// is not safe for concurrent use; neither is the returned transform.
func (r *RandomChoice[I, T]) WithRand(rng *rand.Rand) *RandomChoice[I, T] {
	return &RandomChoice[I, T]{ts: r.ts, rng: rng}
}

// Apply implements Transform.
func (r *RandomChoice[I, T]) Apply(input I, target T) (I, T, error) {
	switch len(r.ts) {
	case 0:
		return input, target, ErrNoChoices
	case 1:
		return r.ts[0].Apply(input, target)
	}
	var i int
	if r.rng != nil {
		i = r.rng.Intn(len(r.ts))
	} else {
		i = rand.Intn(len(r.ts))
	}
	return r.ts[i].Apply(input, target)
}

// String implements fmt.Stringer.
func (r *RandomChoice[I, T]) String() string { return describe("RandomChoice", r.ts) }

// InputTransform applies f to the input and passes the target through.
type InputTransform[I, T any] struct {
	name string
	f    func(I) (I, error)
}

// NewInputTransform wraps f. name shows up in String.
func NewInputTransform[I, T any](name string, f func(I) (I, error)) InputTransform[I, T] {
	return InputTransform[I, T]{name: name, f: f}
}

// Apply implements Transform.
func (t InputTransform[I, T]) Apply(input I, target T) (I, T, error) {
	out, err := t.f(input)
	return out, target, err
}

// String implements fmt.Stringer.
func (t InputTransform[I, T]) String() string { return "InputTransform(" + t.name + ")" }

// TargetTransform applies f to the target and passes the input through.
type TargetTransform[I, T any] struct {
	name string
	f    func(T) (T, error)
}

// NewTargetTransform wraps f. name shows up in String.
func NewTargetTransform[I, T any](name string, f func(T) (T, error)) TargetTransform[I, T] {
	return TargetTransform[I, T]{name: name, f: f}
}

// Apply implements Transform.
func (t TargetTransform[I, T]) Apply(input I, target T) (I, T, error) {
	out, err := t.f(target)
	return input, out, err
}

// String implements fmt.Stringer.
func (t TargetTransform[I, T]) String() string { return "TargetTransform(" + t.name + ")" }

// JointTransform applies f to the pair.
type JointTransform[I, T any] struct {
	name string
	f    func(I, T) (I, T, error)
}

// NewJointTransform wraps f. name shows up in String.
func NewJointTransform[I, T any](name string, f func(I, T) (I, T, error)) JointTransform[I, T] {
	return JointTransform[I, T]{name: name, f: f}
}

// Apply implements Transform.
func (t JointTransform[I, T]) Apply(input I, target T) (I, T, error) { return t.f(input, target) }

// String implements fmt.Stringer.
func (t JointTransform[I, T]) String() string { return "JointTransform(" + t.name + ")" }

// UseOrigin returns the pair unchanged.
type UseOrigin[I, T any] struct{}

// Apply implements Transform.
func (UseOrigin[I, T]) Apply(input I, target T) (I, T, error) { return input, target, nil }

// String implements fmt.Stringer.
func (UseOrigin[I, T]) String() string { return "UseOrigin()" }

// describe renders a combinator with one child per indented line.
func describe[I, T any](name string, ts []Transform[I, T]) string {
	var b strings.Builder
	b.WriteString(name + "(")
	for _, t := range ts {
		child := fmt.Sprintf("%T", t)
		if s, ok := t.(fmt.Stringer); ok {
			child = s.String()
		}
		b.WriteString("\n    " + strings.ReplaceAll(child, "\n", "\n    "))
	}
	if len(ts) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}
