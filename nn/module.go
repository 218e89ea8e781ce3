package nn

import (
	G "gorgonia.org/gorgonia"
)

// Module is a node-to-node transformation added to a graph.
type Module interface {
	Forward(x *G.Node) (*G.Node, error)
}

// Container is a Module built out of other modules.
type Container interface {
	Module
	Children() []Module
}

// ChannelReporter is implemented by modules that know their output channel count
// without looking at their children (convolutions, concatenating units).
type ChannelReporter interface {
	OutChannels() int
}

// Resizer is implemented by modules that know the spatial size they produce. Windows
// are square, so one function serves both axes.
type Resizer interface {
	OutSize(n int) int
}

// Sequential applies its modules in order.
type Sequential struct {
	mods []Module
}

// Seq builds a Sequential, skipping nil modules.
func Seq(mods ...Module) *Sequential {
	s := &Sequential{}
	s.Append(mods...)
	return s
}

// Append adds modules to the end of the chain. Nil modules are ignored.
func (s *Sequential) Append(mods ...Module) {
	for _, m := range mods {
		if m == nil || isNilModule(m) {
			continue
		}
		s.mods = append(s.mods, m)
	}
}

// Len returns the number of modules in the chain.
func (s *Sequential) Len() int { return len(s.mods) }

// Children implements Container.
func (s *Sequential) Children() []Module {
	out := make([]Module, len(s.mods))
	copy(out, s.mods)
	return out
}

// OutSize implements Resizer.
func (s *Sequential) OutSize(n int) int {
	for _, m := range s.mods {
		n = OutSize(m, n)
	}
	return n
}

// Forward implements Module.
func (s *Sequential) Forward(x *G.Node) (*G.Node, error) {
	var err error
	for _, m := range s.mods {
		if x, err = m.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Identity returns its input.
type Identity struct{}

// Forward implements Module.
func (Identity) Forward(x *G.Node) (*G.Node, error) { return x, nil }

// OutChannels walks m and reports the channel count it produces.
//
// Modules that implement ChannelReporter answer directly. Containers are searched from
// their last child backwards, so the answer is the output width of the last
// convolution (or concatenating unit) in the chain.
//
// Arguments:
//   - m: The module to inspect.
//
// Returns:
//   - int: The output channel count.
//   - bool: False when m contains no channel-changing layer (pooling, activations).
func OutChannels(m Module) (int, bool) {
	if r, ok := m.(ChannelReporter); ok {
		return r.OutChannels(), true
	}
	if c, ok := m.(Container); ok {
		kids := c.Children()
		for i := len(kids) - 1; i >= 0; i-- {
			if n, ok := OutChannels(kids[i]); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// OutSize returns the spatial size m produces along either axis from an input of size
// n. Resizers answer directly, other containers fold their children in order and the
// remaining modules keep the size.
func OutSize(m Module, n int) int {
	if r, ok := m.(Resizer); ok {
		return r.OutSize(n)
	}
	if c, ok := m.(Container); ok {
		for _, kid := range c.Children() {
			n = OutSize(kid, n)
		}
	}
	return n
}

// LastConv returns the last Conv2d reachable from m in forward order, or nil.
func LastConv(m Module) *Conv2d {
	if c, ok := m.(*Conv2d); ok {
		return c
	}
	if c, ok := m.(Container); ok {
		kids := c.Children()
		for i := len(kids) - 1; i >= 0; i-- {
			if conv := LastConv(kids[i]); conv != nil {
				return conv
			}
		}
	}
	return nil
}

// Walk calls fn for m and every module below it, depth first.
func Walk(m Module, fn func(Module)) {
	fn(m)
	if c, ok := m.(Container); ok {
		for _, kid := range c.Children() {
			Walk(kid, fn)
		}
	}
}

func isNilModule(m Module) bool {
	switch v := m.(type) {
	case *Conv2d:
		return v == nil
	case *Sequential:
		return v == nil
	case *SqueezeExcite:
		return v == nil
	}
	return false
}
