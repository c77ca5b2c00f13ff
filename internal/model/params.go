package model

import (
	"fmt"
	"slices"
	"sort"
)

// Array is a dense parameter tensor with its shape.
type Array struct {
	Shape []int     `cbor:"shape"`
	Data  []float64 `cbor:"data"`
}

// Parameters is a named snapshot of every learnable weight and batch norm
// statistic of a network.
type Parameters map[string]Array

// Names returns the parameter names in sorted order.
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the current parameters.
func (m *DigitCNN) Snapshot() Parameters {
	out := make(Parameters, len(m.trained)+len(m.buffers))
	for _, p := range m.all() {
		out[p.Name] = Array{
			Shape: slices.Clone(p.Shape),
			Data:  slices.Clone(p.Value),
		}
	}
	return out
}

// Restore replaces the network's parameters. Every expected name must be
// present with the exact shape and no unexpected names are allowed.
func (m *DigitCNN) Restore(params Parameters) error {
	all := m.all()
	for _, p := range all {
		a, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrShapeMismatch, p.Name)
		}
		if !slices.Equal(a.Shape, p.Shape) || len(a.Data) != len(p.Value) {
			return fmt.Errorf("%w: %s has shape %v (%d values), want %v",
				ErrShapeMismatch, p.Name, a.Shape, len(a.Data), p.Shape)
		}
	}
	if len(params) != len(all) {
		known := make(map[string]bool, len(all))
		for _, p := range all {
			known[p.Name] = true
		}
		for _, name := range params.Names() {
			if !known[name] {
				return fmt.Errorf("%w: unexpected %s", ErrShapeMismatch, name)
			}
		}
	}
	for _, p := range all {
		copy(p.Value, params[p.Name].Data)
	}
	return nil
}

func (m *DigitCNN) all() []*Param {
	out := make([]*Param, 0, len(m.trained)+len(m.buffers))
	out = append(out, m.trained...)
	return append(out, m.buffers...)
}
