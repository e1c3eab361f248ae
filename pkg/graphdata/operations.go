package graphdata

import (
	"slices"
	"sort"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

// ErrUnknownOperation is returned by MapOperation when a name is neither a built-in Operation
// nor registered in the given Registry.
var ErrUnknownOperation = errors.New("unknown operation")

// Params are keyword parameters for record operations and preprocessors.
type Params map[string]any

// Float returns the parameter key as a float64, or defaultValue if not set.
func (p Params) Float(key string, defaultValue float64) float64 {
	v, found := p[key]
	if !found {
		return defaultValue
	}
	switch v := v.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultValue
}

// Operation enumerates the built-in record transformations.
type Operation int

const (
	OperationSortEdgeIndices Operation = iota
	OperationAddEdgeSelfLoops
	OperationMakeUndirectedEdges
	OperationSetEdgeWeightsUniform
)

//go:generate go tool enumer -type=Operation -trimprefix=Operation -transform=snake -values -text -output=gen_operation_enumer.go operations.go

// ParseOperation returns the built-in operation with the given name, or an error wrapping
// ErrUnknownOperation.
func ParseOperation(name string) (Operation, error) {
	op, err := OperationString(name)
	if err != nil {
		return 0, errors.Wrapf(ErrUnknownOperation, "%q is not a built-in operation, valid values are %q", name, OperationStrings())
	}
	return op, nil
}

// Apply runs the operation on the record.
func (op Operation) Apply(r *Record, params Params) error {
	switch op {
	case OperationSortEdgeIndices:
		return SortEdgeIndices(r)
	case OperationAddEdgeSelfLoops:
		return AddEdgeSelfLoops(r, params.Float("fill", 0))
	case OperationMakeUndirectedEdges:
		return MakeUndirectedEdges(r)
	case OperationSetEdgeWeightsUniform:
		return SetEdgeWeightsUniform(r, params.Float("value", 1))
	}
	return errors.Wrapf(ErrUnknownOperation, "%s", op)
}

// Preprocessor is an externally provided record transformation.
type Preprocessor func(r *Record, params Params) error

// Registry maps names to preprocessors. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	preprocessors map[string]Preprocessor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{preprocessors: make(map[string]Preprocessor)}
}

// Register adds (or replaces) the preprocessor under name.
func (reg *Registry) Register(name string, fn Preprocessor) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.preprocessors[name] = fn
}

// Lookup returns the preprocessor registered under name.
func (reg *Registry) Lookup(name string) (Preprocessor, bool) {
	if reg == nil {
		return nil, false
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	fn, found := reg.preprocessors[name]
	return fn, found
}

// Names returns the registered names, sorted.
func (reg *Registry) Names() []string {
	if reg == nil {
		return nil
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.preprocessors))
	for name := range reg.preprocessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MapOperation applies the transformation called name to every record, in order.
//
// The name is first looked up among the built-in Operation values, then in registry (which can
// be nil). If neither has it, ErrUnknownOperation is returned and no record is touched.
func (l *List) MapOperation(name string, params Params, registry *Registry) error {
	var fn Preprocessor
	if op, err := ParseOperation(name); err == nil {
		fn = op.Apply
	} else if pre, found := registry.Lookup(name); found {
		fn = pre
	} else {
		return errors.Wrapf(ErrUnknownOperation, "%q is neither a built-in operation %v nor a registered preprocessor %v",
			name, OperationStrings(), registry.Names())
	}
	l.logger.V(1).Info("mapping records", "operation", name, "records", len(l.records))
	return l.Map(func(r *Record) error { return fn(r, params) })
}

// edgePairs reads edge_indices as (target, source) pairs.
func edgePairs(r *Record) (pairs [][2]int, err error) {
	indices := r.Get(EdgeIndices)
	if indices == nil {
		return nil, errors.Wrapf(ErrPropertyMissing, "%q", EdgeIndices)
	}
	if indices.Rank() != 2 || indices.Shape().Dimensions[1] != 2 {
		return nil, errors.Errorf("%q must be shaped [num_edges, 2], got %s", EdgeIndices, indices.Shape())
	}
	values, err := tensorutil.Ints(indices)
	if err != nil {
		return nil, err
	}
	pairs = make([][2]int, len(values)/2)
	for ii := range pairs {
		pairs[ii] = [2]int{values[2*ii], values[2*ii+1]}
	}
	return pairs, nil
}

// edgePairsTensor converts pairs to an edge_indices tensor. Indices that don't fit dtype are an
// error wrapping tensorutil.ErrOverflow.
func edgePairsTensor(pairs [][2]int, dtype dtypes.DType) (*tensors.Tensor, error) {
	flat := make([]int, 0, 2*len(pairs))
	for _, p := range pairs {
		flat = append(flat, p[0], p[1])
	}
	t, err := tensorutil.FromInts(flat, dtype, len(pairs), 2)
	if err != nil {
		return nil, errors.WithMessagef(err, "setting %q", EdgeIndices)
	}
	return t, nil
}

// edgeProperties returns the names of the edge properties other than edge_indices.
func edgeProperties(r *Record) []string {
	var names []string
	for _, name := range r.Names() {
		if name != EdgeIndices && KindOf(name) == AxisEdge {
			names = append(names, name)
		}
	}
	return names
}

// SortEdgeIndices sorts the edges of the record by (target, source), stably, reordering every
// other edge property the same way.
func SortEdgeIndices(r *Record) error {
	pairs, err := edgePairs(r)
	if err != nil {
		return err
	}
	order := make([]int, len(pairs))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := pairs[a][0] - pairs[b][0]; c != 0 {
			return c
		}
		return pairs[a][1] - pairs[b][1]
	})
	return permuteEdges(r, order)
}

func permuteEdges(r *Record, order []int) error {
	for _, name := range append([]string{EdgeIndices}, edgeProperties(r)...) {
		t := r.Get(name)
		if tensorutil.NumRows(t) != len(order) {
			return errors.Wrapf(ErrLengthMismatch, "edge property %q shaped %s, but there are %d edges",
				name, t.Shape(), len(order))
		}
		sorted, err := tensorutil.TakeRows(t, order)
		if err != nil {
			return errors.WithMessagef(err, "edge property %q", name)
		}
		r.SetTensor(name, sorted)
	}
	return nil
}

// appendEdges adds new edges to the record. Rows for the other edge properties are produced
// by newRows, given the property tensor and the number of edges appended.
// The record is left unchanged if it fails.
func appendEdges(r *Record, pairs, added [][2]int, newRows func(t *tensors.Tensor) (*tensors.Tensor, error)) error {
	if len(added) == 0 {
		return nil
	}
	indices, err := edgePairsTensor(append(slices.Clone(pairs), added...), r.Get(EdgeIndices).DType())
	if err != nil {
		return err
	}
	updated := map[string]*tensors.Tensor{EdgeIndices: indices}
	for _, name := range edgeProperties(r) {
		t := r.Get(name)
		if tensorutil.NumRows(t) != len(pairs) {
			return errors.Wrapf(ErrLengthMismatch, "edge property %q shaped %s, but there are %d edges",
				name, t.Shape(), len(pairs))
		}
		rows, err := newRows(t)
		if err != nil {
			return errors.WithMessagef(err, "edge property %q", name)
		}
		joined, err := tensorutil.Concat([]*tensors.Tensor{t, rows})
		if err != nil {
			return errors.WithMessagef(err, "edge property %q", name)
		}
		updated[name] = joined
	}
	for name, t := range updated {
		r.SetTensor(name, t)
	}
	return nil
}

// AddEdgeSelfLoops adds a (i, i) edge for every node that doesn't have one, fills the other edge
// properties of the new edges with fill, and sorts the edges.
func AddEdgeSelfLoops(r *Record, fill float64) error {
	pairs, err := edgePairs(r)
	if err != nil {
		return err
	}
	numNodes := r.NumNodes()
	if numNodes < 0 {
		for _, p := range pairs {
			numNodes = max(numNodes, p[0]+1, p[1]+1)
		}
	}
	hasLoop := make([]bool, max(numNodes, 0))
	for _, p := range pairs {
		if p[0] == p[1] && p[0] < len(hasLoop) {
			hasLoop[p[0]] = true
		}
	}
	var added [][2]int
	for ii, found := range hasLoop {
		if !found {
			added = append(added, [2]int{ii, ii})
		}
	}
	err = appendEdges(r, pairs, added, func(t *tensors.Tensor) (*tensors.Tensor, error) {
		dims := append([]int{len(added)}, t.Shape().Dimensions[1:]...)
		return tensorutil.Full(t.DType(), fill, dims...)
	})
	if err != nil {
		return errors.WithMessage(err, "AddEdgeSelfLoops()")
	}
	return SortEdgeIndices(r)
}

// MakeUndirectedEdges adds the reverse (source, target) of every edge that doesn't have one,
// copying the other edge properties from the original edge, and sorts the edges.
func MakeUndirectedEdges(r *Record) error {
	pairs, err := edgePairs(r)
	if err != nil {
		return err
	}
	present := make(map[[2]int]bool, len(pairs))
	for _, p := range pairs {
		present[p] = true
	}
	var added [][2]int
	var from []int
	for ii, p := range pairs {
		reverse := [2]int{p[1], p[0]}
		if !present[reverse] {
			present[reverse] = true
			added = append(added, reverse)
			from = append(from, ii)
		}
	}
	err = appendEdges(r, pairs, added, func(t *tensors.Tensor) (*tensors.Tensor, error) {
		return tensorutil.TakeRows(t, from)
	})
	if err != nil {
		return errors.WithMessage(err, "MakeUndirectedEdges()")
	}
	return SortEdgeIndices(r)
}

// SetEdgeWeightsUniform sets edge_weights to a float32 `[num_edges, 1]` tensor filled with value.
func SetEdgeWeightsUniform(r *Record, value float64) error {
	numEdges := r.NumEdges()
	if numEdges < 0 {
		return errors.Wrapf(ErrPropertyMissing, "SetEdgeWeightsUniform(): no edge properties")
	}
	t, err := tensorutil.Full(dtypes.Float32, value, numEdges, 1)
	if err != nil {
		return err
	}
	r.SetTensor(EdgeWeights, t)
	return nil
}
