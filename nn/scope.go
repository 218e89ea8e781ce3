// Package nn - Layer toolkit on top of gorgonia expression graphs.
//
// Layers are built against a Scope, which owns the graph, the element type and a
// hierarchical parameter namespace ("features.stage1.unit1.conv1.weight"). Parameter
// names are stable so that pretrained weight archives can be bound to them by name.
package nn

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Params is the ordered set of parameters registered on a graph.
type Params struct {
	order []string
	nodes map[string]*G.Node
}

func newParams() *Params {
	return &Params{nodes: make(map[string]*G.Node)}
}

// Names returns parameter names in registration order.
func (p *Params) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Get returns the parameter registered under name.
func (p *Params) Get(name string) (*G.Node, bool) {
	n, ok := p.nodes[name]
	return n, ok
}

// Len returns the number of registered parameters.
func (p *Params) Len() int { return len(p.order) }

// Nodes returns the parameter nodes in registration order.
func (p *Params) Nodes() G.Nodes {
	out := make(G.Nodes, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.nodes[name])
	}
	return out
}

// Size returns the total number of scalar values held by all parameters.
func (p *Params) Size() int {
	total := 0
	for _, name := range p.order {
		total += p.nodes[name].Shape().TotalSize()
	}
	return total
}

func (p *Params) add(name string, n *G.Node) {
	if _, dup := p.nodes[name]; dup {
		panic(fmt.Sprintf("nn: parameter %q registered twice", name))
	}
	p.order = append(p.order, name)
	p.nodes[name] = n
}

// Scope is a named position in the parameter hierarchy of a graph.
type Scope struct {
	g      *G.ExprGraph
	dt     tensor.Dtype
	norm   Norm
	prefix string
	params *Params
}

// NewScope creates the root scope for graph g.
//
// Arguments:
//   - g: The graph every layer built from this scope is added to.
//   - dt: The element type of parameters and constants (tensor.Float32 or tensor.Float64).
//   - norm: The default normalization layer used by family constructors.
//
// Returns:
//   - *Scope: The root scope with an empty parameter set.
func NewScope(g *G.ExprGraph, dt tensor.Dtype, norm Norm) *Scope {
	if norm == NormNone {
		norm = NormBN
	}
	return &Scope{g: g, dt: dt, norm: norm, params: newParams()}
}

// Sub returns a child scope whose parameters are prefixed with name.
func (s *Scope) Sub(name string) *Scope {
	child := *s
	if s.prefix == "" {
		child.prefix = name
	} else {
		child.prefix = s.prefix + "." + name
	}
	return &child
}

// Subf is Sub with a formatted name.
func (s *Scope) Subf(format string, args ...interface{}) *Scope {
	return s.Sub(fmt.Sprintf(format, args...))
}

// WithNorm returns a copy of the scope using a different default normalization layer.
func (s *Scope) WithNorm(norm Norm) *Scope {
	child := *s
	child.norm = norm
	return &child
}

// Graph returns the graph layers are built on.
func (s *Scope) Graph() *G.ExprGraph { return s.g }

// Dtype returns the element type of the scope.
func (s *Scope) Dtype() tensor.Dtype { return s.dt }

// Norm returns the default normalization layer.
func (s *Scope) Norm() Norm { return s.norm }

// Name returns the dotted path of the scope.
func (s *Scope) Name() string { return s.prefix }

// Params returns the parameter set shared by every scope derived from the same root.
func (s *Scope) Params() *Params { return s.params }

// Param creates and registers a learnable tensor named <scope>.<name>.
func (s *Scope) Param(name string, init G.InitWFn, shape ...int) *G.Node {
	full := name
	if s.prefix != "" {
		full = s.prefix + "." + name
	}
	n := G.NewTensor(s.g, s.dt, len(shape),
		G.WithShape(shape...),
		G.WithName(full),
		G.WithInit(init))
	s.params.add(full, n)
	return n
}

// Scalar returns a constant of the scope's element type.
func (s *Scope) Scalar(v float64) *G.Node {
	if s.dt == tensor.Float64 {
		return G.NewConstant(v)
	}
	return G.NewConstant(float32(v))
}

// Input creates a named NCHW input placeholder on the scope's graph.
func (s *Scope) Input(name string, n, c, h, w int) *G.Node {
	return G.NewTensor(s.g, s.dt, 4, G.WithShape(n, c, h, w), G.WithName(name))
}

func layerName(s *Scope) string {
	if s.prefix == "" {
		return "<root>"
	}
	return s.prefix
}

