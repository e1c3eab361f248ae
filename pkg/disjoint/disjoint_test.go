package disjoint

import (
	"fmt"
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// buildList creates a list where graph ii has nodeCounts[ii] nodes with 2 features each and a
// chain of edges between consecutive nodes.
func buildList(t testing.TB, nodeCounts []int) *graphdata.List {
	l := graphdata.New(len(nodeCounts))
	for ii, numNodes := range nodeCounts {
		r := l.At(ii)
		nodes := make([]float32, 0, 2*numNodes)
		for jj := range numNodes {
			nodes = append(nodes, float32(100*ii+jj), float32(-jj))
		}
		r.SetTensor("node_attributes", tensors.FromFlatDataAndDimensions(nodes, numNodes, 2))
		edges := make([]int32, 0, 2*numNodes)
		edgeValues := make([]float32, 0, numNodes)
		for jj := 1; jj < numNodes; jj++ {
			edges = append(edges, int32(jj), int32(jj-1))
			edgeValues = append(edgeValues, float32(10*ii+jj))
		}
		numEdges := len(edgeValues)
		r.SetTensor(graphdata.EdgeIndices, tensors.FromFlatDataAndDimensions(edges, numEdges, 2))
		r.SetTensor("edge_attributes", tensors.FromFlatDataAndDimensions(edgeValues, numEdges, 1))
		require.NoError(t, r.Set("graph_labels", []float32{float32(ii)}))
		require.NoError(t, r.Set("graph_size", int32(numNodes)))
	}
	return l
}

func TestPack(t *testing.T) {
	l := buildList(t, []int{3, 1, 2})
	lengths, err := Lengths(l, "node_attributes")
	require.NoError(t, err)
	require.Equal(t, []int{3, 1, 2}, lengths)

	flat, err := PackFlat(l, "node_attributes")
	require.NoError(t, err)
	fmt.Printf("\tflat node_attributes: %s\n", flat)
	require.Equal(t, [][]float32{{0, 0}, {1, -1}, {2, -2}, {100, 0}, {200, 0}, {201, -1}}, flat.Value())

	ragged, err := PackRagged(l, graphdata.EdgeIndices)
	require.NoError(t, err)
	require.Equal(t, 3, ragged.Len())
	require.Equal(t, []int{2, 0, 1}, ragged.RowLengths)
	row, err := ragged.Row(2)
	require.NoError(t, err)
	require.Equal(t, [][]int32{{1, 0}}, row.Value())
	row, err = ragged.Row(1)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, row.Shape().Dimensions)

	// Scalars are stacked and split back into scalars.
	sizes, err := PackRagged(l, "graph_size")
	require.NoError(t, err)
	require.Equal(t, []int32{3, 1, 2}, sizes.Values.Value())
	parts, err := sizes.Split()
	require.NoError(t, err)
	require.Equal(t, int32(2), parts[2].Value())
	require.Equal(t, 0, parts[2].Rank())

	// Packing copies.
	flat.MustMutableFlatData(func(flatAny any) { flatAny.([]float32)[0] = 1000 })
	require.Equal(t, float32(0), l.At(0).Get("node_attributes").Value().([][]float32)[0][0])

	// Missing property.
	l.At(1).Delete("edge_attributes")
	_, err = PackFlat(l, "edge_attributes")
	require.ErrorIs(t, err, graphdata.ErrPropertyMissing)
	fmt.Printf("\tExpected error: %v\n", err)

	// Mismatched trailing dimensions.
	require.NoError(t, l.At(1).Set("node_attributes", [][]float32{{1, 2, 3}}))
	_, err = PackRagged(l, "node_attributes")
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPackRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	properties.Property("ragged pack then split reproduces the records", prop.ForAll(
		func(nodeCounts []int) bool {
			if len(nodeCounts) == 0 {
				return true
			}
			l := buildList(t, nodeCounts)
			for _, name := range []string{"node_attributes", graphdata.EdgeIndices, "edge_attributes", "graph_labels", "graph_size"} {
				ragged, err := PackRagged(l, name)
				if err != nil {
					return false
				}
				parts, err := ragged.Split()
				if err != nil || len(parts) != l.Len() {
					return false
				}
				for ii, part := range parts {
					want := l.At(ii).Get(name)
					if !part.Shape().Equal(want.Shape()) || !part.Equal(want) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 6)),
	))
	properties.TestingRun(t)
}

func TestShiftIndices(t *testing.T) {
	indices := tensors.FromValue([][]int32{{0, 1}, {1, 2}, {0, 1}})
	shifted, err := ShiftIndices(indices, []int{3, 2}, []int{2, 1}, ConventionSample)
	require.NoError(t, err)
	require.Equal(t, [][]int32{{0, 1}, {1, 2}, {3, 4}}, shifted.Value())
	require.Equal(t, dtypes.Int32, shifted.DType())

	// Batch convention: unchanged.
	same, err := ShiftIndices(indices, []int{3, 2}, []int{2, 1}, ConventionBatch)
	require.NoError(t, err)
	require.Equal(t, indices.Value(), same.Value())

	// Other dtypes and shapes.
	shifted, err = ShiftIndices(tensors.FromValue([]int64{0, 1, 1, 0}), []int{2, 0, 5}, []int{1, 0, 3}, ConventionSample)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 3, 3, 2}, shifted.Value())

	// Shifted indices must fit the dtype: node 256 of the second graph is not an uint8.
	narrow := tensors.FromValue([][]uint8{{0, 1}, {1, 0}})
	_, err = ShiftIndices(narrow, []int{255, 2}, []int{1, 1}, ConventionSample)
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.ErrorContains(t, err, "257 nodes")
	require.ErrorContains(t, err, "Uint8")
	fmt.Printf("\tExpected error: %v\n", err)
	shifted, err = ShiftIndices(narrow, []int{254, 2}, []int{1, 1}, ConventionSample)
	require.NoError(t, err)
	require.Equal(t, [][]uint8{{0, 1}, {255, 254}}, shifted.Value())

	// Length mismatches.
	_, err = ShiftIndices(indices, []int{3, 2}, []int{2, 2}, ConventionSample)
	require.ErrorIs(t, err, ErrShapeMismatch)
	fmt.Printf("\tExpected error: %v\n", err)
	_, err = ShiftIndices(indices, []int{3, 2, 1}, []int{2, 1}, ConventionSample)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// Unknown convention.
	_, err = ShiftIndices(indices, []int{3, 2}, []int{2, 1}, IndexConvention(7))
	require.ErrorIs(t, err, ErrUnknownConvention)
	_, err = ParseIndexConvention("global")
	require.ErrorIs(t, err, ErrUnknownConvention)
	require.ErrorContains(t, err, `"global"`)
	c, err := ParseIndexConvention("sample")
	require.NoError(t, err)
	require.Equal(t, ConventionSample, c)
	require.Equal(t, []string{"batch", "sample"}, IndexConventionStrings())
	require.False(t, IndexConvention(7).IsAIndexConvention())
	text, err := ConventionBatch.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "batch", string(text))
	require.NoError(t, c.UnmarshalText(text))
	require.Equal(t, ConventionBatch, c)

	// Floats are not indices.
	_, err = ShiftIndices(tensors.FromValue([]float32{0, 1}), []int{2}, []int{2}, ConventionSample)
	require.Error(t, err)
}

func TestShiftIndicesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	properties.Property("shifted indices stay within their graph's node range", prop.ForAll(
		func(nodeCounts []int) bool {
			if len(nodeCounts) == 0 {
				return true
			}
			l := buildList(t, nodeCounts)
			b, err := NewBatch(l, BatchConfig{NodeProperty: "node_attributes", Convention: ConventionSample})
			if err != nil {
				return false
			}
			shifted := b.EdgeIndices.Value().([][]int32)
			offsets := ExclusiveOffsets(b.NodeLengths)
			for edge, graph := range RowIDs(b.EdgeLengths) {
				for _, idx := range shifted[edge] {
					if int(idx) < offsets[graph] || int(idx) >= offsets[graph]+b.NodeLengths[graph] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))
	properties.TestingRun(t)
}

func TestSortByTarget(t *testing.T) {
	indices := tensors.FromValue([][]int64{{2, 0}, {0, 1}, {2, 1}, {0, 2}, {1, 0}})
	values := tensors.FromValue([][]float32{{20}, {1}, {21}, {2}, {10}})
	sorted, sortedValues, order, err := SortByTarget(indices, values, nil)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 4, 0, 2}, order)
	require.Equal(t, [][]int64{{0, 1}, {0, 2}, {1, 0}, {2, 0}, {2, 1}}, sorted.Value())
	require.Equal(t, [][]float32{{1}, {2}, {10}, {20}, {21}}, sortedValues[0].Value())
	require.Nil(t, sortedValues[1])

	_, _, _, err = SortByTarget(indices, tensors.FromValue([]float32{1, 2}))
	require.ErrorIs(t, err, ErrShapeMismatch)

	// Stability: equal keys keep their relative order.
	keys := []int{3, 1, 3, 1, 0, 3}
	require.Equal(t, []int{4, 1, 3, 0, 2, 5}, StableOrder(keys))
}

func TestNewBatch(t *testing.T) {
	l := buildList(t, []int{3, 2})
	b, err := NewBatch(l, BatchConfig{
		NodeProperty:  "node_attributes",
		EdgeProperty:  "edge_attributes",
		LabelProperty: "graph_labels",
		Convention:    ConventionSample,
		SortEdges:     true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, b.NumGraphs())
	require.Equal(t, 5, b.NumNodes())
	require.Equal(t, []int{2, 1}, b.EdgeLengths)
	require.Equal(t, [][]int32{{1, 0}, {2, 1}, {4, 3}}, b.EdgeIndices.Value())
	require.Equal(t, [][]float32{{1}, {2}, {11}}, b.Edges.Value())
	require.Equal(t, [][]float32{{0}, {1}}, b.Labels.Value())
	require.True(t, b.Sorted)

	_, err = NewBatch(l, BatchConfig{})
	require.Error(t, err)
}

func TestDataset(t *testing.T) {
	l := buildList(t, []int{3, 2, 4, 1, 2})
	specs := []graphdata.InputSpec{
		{Name: "node_attributes", Ragged: true, Shape: []int{-1, 2}},
		{Name: graphdata.EdgeIndices, Ragged: true, Shape: []int{-1, 2}},
		{Name: "graph_size", Shape: []int{}},
	}
	ds, err := NewDataset("chains", l, specs, "graph_labels", 2)
	require.NoError(t, err)
	require.Equal(t, "chains", ds.Name())

	var numBatches int
	var graphs []float32
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Same(t, ds, spec)
		require.Len(t, inputs, 5)
		require.Len(t, labels, 1)
		numGraphs := inputs[1].Shape().Dimensions[0]
		require.Equal(t, []int{numGraphs}, inputs[3].Shape().Dimensions)
		require.Equal(t, []int{numGraphs}, inputs[4].Shape().Dimensions)
		require.Equal(t, []int{numGraphs, 1}, labels[0].Shape().Dimensions)
		for _, row := range labels[0].Value().([][]float32) {
			graphs = append(graphs, row[0])
		}
		numBatches++
	}
	require.Equal(t, 3, numBatches)
	require.Equal(t, []float32{0, 1, 2, 3, 4}, graphs)

	// Shuffled, dropping the incomplete batch: 2 batches covering 4 distinct graphs.
	ds.Shuffle(7).DropIncompleteBatch(true)
	seen := map[float32]bool{}
	numBatches = 0
	for {
		_, _, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, row := range labels[0].Value().([][]float32) {
			seen[row[0]] = true
		}
		numBatches++
	}
	require.Equal(t, 2, numBatches)
	require.Len(t, seen, 4)

	// Bad specs.
	_, err = NewDataset("bad", l, nil, "", 2)
	require.Error(t, err)
	_, err = NewDataset("bad", l, specs, "", 0)
	require.Error(t, err)
	ds, err = NewDataset("bad", l, []graphdata.InputSpec{{Name: "node_attributes", Ragged: true, Shape: []int{-1, 3}}}, "", 2)
	require.NoError(t, err)
	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRowIDs(t *testing.T) {
	require.Equal(t, []int{0, 0, 2, 3, 3, 3}, RowIDs([]int{2, 0, 1, 3}))
	require.Equal(t, []int{0, 2, 2, 3}, ExclusiveOffsets([]int{2, 0, 1, 3}))
	assert.Empty(t, RowIDs(nil))
}
