// Package graphdata holds graphs as bags of named tensors (Record) and ordered collections of
// them (List), with the list-level operations used to prepare a dataset before batching:
// collection-wide property assignment, cleaning of invalid records, in-place transforms,
// model-input validation, splits and a compressed on-disk cache.
//
// Property names follow a prefix convention that defines the meaning of axis 0:
//
//   - `node_*`: one row per node.
//   - `edge_*` and `edge_indices`: one row per edge. `edge_indices` is shaped `[num_edges, 2]`
//     and holds local (per-graph, zero-based) node indices as `(target, source)` pairs.
//   - `graph_*`: graph level, no ragged axis.
package graphdata

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

// Canonical property names and prefixes.
const (
	EdgeIndices = "edge_indices"
	EdgeWeights = "edge_weights"

	NodePrefix  = "node_"
	EdgePrefix  = "edge_"
	GraphPrefix = "graph_"
)

var (
	// ErrNotArrayLike is returned when assigning a value that can't be converted to a tensor.
	ErrNotArrayLike = errors.New("value is not array-like")

	// ErrPropertyMissing is returned when a property required by an operation is not set.
	ErrPropertyMissing = errors.New("property missing")

	// ErrLengthMismatch is returned when per-record values don't line up with the records.
	ErrLengthMismatch = errors.New("length mismatch")
)

// AxisKind tells what axis 0 of a property counts.
type AxisKind int

const (
	AxisGraph AxisKind = iota
	AxisNode
	AxisEdge
)

// KindOf returns the axis kind of a property, based on its name.
func KindOf(name string) AxisKind {
	switch {
	case strings.HasPrefix(name, NodePrefix):
		return AxisNode
	case strings.HasPrefix(name, EdgePrefix):
		return AxisEdge
	}
	return AxisGraph
}

// Record is a single graph: a mapping from property name to tensor.
//
// Tensors stored in a Record are treated as immutable: setting a property replaces the whole
// tensor, and nothing in this module writes into a stored tensor.
type Record struct {
	props map[string]*tensors.Tensor
}

// NewRecord creates an empty Record.
func NewRecord() *Record {
	return &Record{props: make(map[string]*tensors.Tensor)}
}

// NewRecordFromMap creates a Record holding the tensors of m. Nil entries are skipped.
func NewRecordFromMap(m map[string]*tensors.Tensor) *Record {
	r := NewRecord()
	for name, t := range m {
		if t != nil {
			r.props[name] = t
		}
	}
	return r
}

// ToMap returns a new map with all the properties set. The tensors are shared, not copied.
func (r *Record) ToMap() map[string]*tensors.Tensor {
	return maps.Clone(r.props)
}

// Set assigns value to the property name.
//
// A nil value unsets the property. A *tensors.Tensor is stored as is. Go scalars and
// (multi-dimensional) slices of numbers or bools are converted to a tensor. Anything else
// returns ErrNotArrayLike.
func (r *Record) Set(name string, value any) error {
	if value == nil {
		delete(r.props, name)
		return nil
	}
	if t, ok := value.(*tensors.Tensor); ok {
		if t == nil {
			delete(r.props, name)
			return nil
		}
		r.props[name] = t
		return nil
	}
	var t *tensors.Tensor
	err := exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(value) })
	if err != nil {
		return errors.Wrapf(ErrNotArrayLike, "property %q: value of type %T: %v", name, value, err)
	}
	r.props[name] = t
	return nil
}

// SetTensor assigns t to the property name; nil unsets it.
func (r *Record) SetTensor(name string, t *tensors.Tensor) {
	if t == nil {
		delete(r.props, name)
		return
	}
	r.props[name] = t
}

// Get returns the tensor stored under name, or nil if it is not set.
func (r *Record) Get(name string) *tensors.Tensor {
	return r.props[name]
}

// Has returns whether the property is set.
func (r *Record) Has(name string) bool {
	_, found := r.props[name]
	return found
}

// Delete unsets the property.
func (r *Record) Delete(name string) {
	delete(r.props, name)
}

// Names returns the names of the properties set, sorted.
func (r *Record) Names() []string {
	return slices.Sorted(maps.Keys(r.props))
}

// Clone returns a new Record with the same properties. Tensors are shared.
func (r *Record) Clone() *Record {
	return &Record{props: maps.Clone(r.props)}
}

// NumNodes returns the number of nodes, taken from the first `node_*` property (by name order).
// It returns -1 if there are no node properties.
func (r *Record) NumNodes() int {
	for _, name := range r.Names() {
		if KindOf(name) == AxisNode && r.props[name].Rank() > 0 {
			return r.props[name].Shape().Dimensions[0]
		}
	}
	return -1
}

// NumEdges returns the number of edges, taken from `edge_indices` or, if not set, the first
// `edge_*` property. It returns -1 if there are no edge properties.
func (r *Record) NumEdges() int {
	if t := r.props[EdgeIndices]; t != nil && t.Rank() > 0 {
		return t.Shape().Dimensions[0]
	}
	for _, name := range r.Names() {
		if KindOf(name) == AxisEdge && r.props[name].Rank() > 0 {
			return r.props[name].Shape().Dimensions[0]
		}
	}
	return -1
}

// Validate checks that properties of the same axis kind agree on the length of axis 0, and that
// edge indices point to existing nodes.
func (r *Record) Validate() error {
	lengths := map[AxisKind]string{}
	for _, name := range r.Names() {
		kind := KindOf(name)
		if kind == AxisGraph {
			continue
		}
		t := r.props[name]
		if t.Rank() == 0 {
			return errors.Wrapf(ErrLengthMismatch, "property %q is a scalar, but %s properties need a leading axis",
				name, kindName(kind))
		}
		if other, found := lengths[kind]; found {
			if r.props[other].Shape().Dimensions[0] != t.Shape().Dimensions[0] {
				return errors.Wrapf(ErrLengthMismatch, "%s properties %q (shape %s) and %q (shape %s) differ in length",
					kindName(kind), other, r.props[other].Shape(), name, t.Shape())
			}
		} else {
			lengths[kind] = name
		}
	}
	indices := r.props[EdgeIndices]
	numNodes := r.NumNodes()
	if indices == nil || numNodes < 0 {
		return nil
	}
	values, err := tensorutil.Ints(indices)
	if err != nil {
		return errors.WithMessagef(err, "property %q", EdgeIndices)
	}
	for ii, v := range values {
		if v < 0 || v >= numNodes {
			return errors.Errorf("property %q: value %d at flat position %d out of range for %d nodes",
				EdgeIndices, v, ii, numNodes)
		}
	}
	return nil
}

func kindName(kind AxisKind) string {
	switch kind {
	case AxisNode:
		return "node"
	case AxisEdge:
		return "edge"
	}
	return "graph"
}
