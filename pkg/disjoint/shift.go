package disjoint

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

// ExclusiveOffsets returns the exclusive prefix sum of lengths: offsets[i] = sum(lengths[:i]).
func ExclusiveOffsets(lengths []int) []int {
	offsets := make([]int, len(lengths))
	total := 0
	for ii, l := range lengths {
		offsets[ii] = total
		total += l
	}
	return offsets
}

// RowIDs returns, for each row of a flat tensor packed with the given lengths, the index of the
// graph it belongs to.
func RowIDs(lengths []int) []int {
	total := 0
	for _, l := range lengths {
		total += l
	}
	ids := make([]int, 0, total)
	for graph, l := range lengths {
		for range l {
			ids = append(ids, graph)
		}
	}
	return ids
}

// ShiftIndices converts the edge indices of a disjoint batch to the batch convention.
//
// indices is shaped `[num_edges]` or `[num_edges, k]` (usually k=2) with any integer dtype.
// With ConventionBatch it is returned (copied) unchanged. With ConventionSample the number of
// nodes of all preceding graphs is added to each index, graph by graph, where graph g owns
// edgeLengths[g] consecutive edges and nodeLengths[g] nodes.
//
// The returned tensor has the same shape and dtype as indices. It fails with ErrShapeMismatch if
// nodeLengths and edgeLengths differ in length, if edgeLengths doesn't add up to num_edges, or if
// the shifted indices don't fit the dtype of indices. It fails with ErrUnknownConvention for an
// invalid convention.
func ShiftIndices(indices *tensors.Tensor, nodeLengths, edgeLengths []int, convention IndexConvention) (*tensors.Tensor, error) {
	if !convention.IsAIndexConvention() {
		return nil, errors.Wrapf(ErrUnknownConvention, "ShiftIndices(): %s", convention)
	}
	if !indices.DType().IsInt() {
		return nil, errors.Errorf("ShiftIndices(): indices must be integers, got %s", indices.Shape())
	}
	if indices.Rank() != 1 && indices.Rank() != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "ShiftIndices(): indices must be shaped [num_edges] or [num_edges, k], got %s",
			indices.Shape())
	}
	if convention == ConventionBatch {
		return tensorutil.Clone(indices)
	}
	if len(nodeLengths) != len(edgeLengths) {
		return nil, errors.Wrapf(ErrShapeMismatch, "ShiftIndices(): %d node lengths but %d edge lengths",
			len(nodeLengths), len(edgeLengths))
	}
	numEdges := indices.Shape().Dimensions[0]
	totalEdges := 0
	for _, l := range edgeLengths {
		totalEdges += l
	}
	if totalEdges != numEdges {
		return nil, errors.Wrapf(ErrShapeMismatch, "ShiftIndices(): edge lengths %v add up to %d, but indices shaped %s have %d edges",
			edgeLengths, totalEdges, indices.Shape(), numEdges)
	}
	values, err := tensorutil.Ints(indices)
	if err != nil {
		return nil, err
	}
	cols := 1
	if indices.Rank() == 2 {
		cols = indices.Shape().Dimensions[1]
	}
	offsets := ExclusiveOffsets(nodeLengths)
	for edge, graph := range RowIDs(edgeLengths) {
		for col := range cols {
			values[edge*cols+col] += offsets[graph]
		}
	}
	shifted, err := tensorutil.FromInts(values, indices.DType(), indices.Shape().Dimensions...)
	if errors.Is(err, tensorutil.ErrOverflow) {
		totalNodes := 0
		for _, l := range nodeLengths {
			totalNodes += l
		}
		return nil, errors.Wrapf(ErrShapeMismatch, "ShiftIndices(): indices of %d nodes don't fit dtype %s: %v",
			totalNodes, indices.DType(), err)
	}
	return shifted, err
}

// StableOrder returns the permutation that sorts keys in ascending order, keeping the original
// order among equal keys.
func StableOrder(keys []int) []int {
	order := make([]int, len(keys))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return keys[a] - keys[b] })
	return order
}

// SortByTarget reorders edges by their target node (first column of indices) with a stable sort.
// The same permutation is applied to indices and every tensor in values, which must all have
// num_edges rows. It returns the sorted copies and the permutation used.
func SortByTarget(indices *tensors.Tensor, values ...*tensors.Tensor) (sortedIndices *tensors.Tensor, sortedValues []*tensors.Tensor, order []int, err error) {
	if indices.Rank() < 1 {
		return nil, nil, nil, errors.Wrapf(ErrShapeMismatch, "SortByTarget(): indices shaped %s", indices.Shape())
	}
	flat, err := tensorutil.Ints(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	numEdges := indices.Shape().Dimensions[0]
	cols := 1
	if indices.Rank() == 2 {
		cols = indices.Shape().Dimensions[1]
	}
	keys := make([]int, numEdges)
	for ii := range keys {
		keys[ii] = flat[ii*cols]
	}
	order = StableOrder(keys)
	if sortedIndices, err = tensorutil.TakeRows(indices, order); err != nil {
		return nil, nil, nil, err
	}
	sortedValues = make([]*tensors.Tensor, len(values))
	for ii, v := range values {
		if v == nil {
			continue
		}
		if tensorutil.NumRows(v) != numEdges {
			return nil, nil, nil, errors.Wrapf(ErrShapeMismatch, "SortByTarget(): value #%d shaped %s, but there are %d edges",
				ii, v.Shape(), numEdges)
		}
		if sortedValues[ii], err = tensorutil.TakeRows(v, order); err != nil {
			return nil, nil, nil, err
		}
	}
	return sortedIndices, sortedValues, order, nil
}
