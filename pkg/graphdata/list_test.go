package graphdata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

func TestRecord(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.Set("node_attributes", [][]float32{{1, 2}, {3, 4}, {5, 6}}))
	require.NoError(t, r.Set(EdgeIndices, [][]int32{{0, 1}, {1, 0}, {2, 1}}))
	require.NoError(t, r.Set("graph_labels", []int64{1}))
	require.Nil(t, r.Get("node_number"))
	require.Equal(t, []string{EdgeIndices, "graph_labels", "node_attributes"}, r.Names())
	require.Equal(t, 3, r.NumNodes())
	require.Equal(t, 3, r.NumEdges())
	require.NoError(t, r.Validate())

	// Not array-like.
	err := r.Set("node_symbol", struct{ Name string }{"C"})
	require.ErrorIs(t, err, ErrNotArrayLike)
	err = r.Set("node_symbol", "C")
	require.ErrorIs(t, err, ErrNotArrayLike)
	require.False(t, r.Has("node_symbol"))

	// Unset.
	require.NoError(t, r.Set("graph_labels", nil))
	require.False(t, r.Has("graph_labels"))

	// Mapping round trip.
	r2 := NewRecordFromMap(r.ToMap())
	require.Equal(t, r.Names(), r2.Names())
	for _, name := range r.Names() {
		require.Same(t, r.Get(name), r2.Get(name))
	}

	// Validation of lengths.
	require.NoError(t, r.Set("node_number", []int32{6, 1}))
	err = r.Validate()
	require.ErrorIs(t, err, ErrLengthMismatch)
	fmt.Printf("\tExpected error: %v\n", err)
	r.Delete("node_number")

	// Validation of indices range.
	require.NoError(t, r.Set(EdgeIndices, [][]int32{{0, 1}, {1, 0}, {3, 1}}))
	require.Error(t, r.Validate())
}

func makeList(t *testing.T, numRecords int) *List {
	l := New(numRecords)
	for ii := range numRecords {
		r := l.At(ii)
		numNodes := ii + 2
		nodes := make([][]float32, numNodes)
		for jj := range nodes {
			nodes[jj] = []float32{float32(ii), float32(jj)}
		}
		require.NoError(t, r.Set("node_attributes", nodes))
		edges := make([][]int64, 0, numNodes)
		for jj := range numNodes - 1 {
			edges = append(edges, []int64{int64(jj + 1), int64(jj)})
		}
		require.NoError(t, r.Set(EdgeIndices, edges))
		require.NoError(t, r.Set("graph_labels", []int32{int32(ii % 2)}))
	}
	return l
}

func TestListSetGet(t *testing.T) {
	l := New(0)
	values := []*tensors.Tensor{
		tensors.FromValue([]float32{1}),
		tensors.FromValue([]float32{2}),
		tensors.FromValue([]float32{3}),
	}
	require.NoError(t, l.Set("graph_labels", values))
	require.Equal(t, 3, l.Len())
	got := l.Get("graph_labels")
	require.Len(t, got, 3)
	require.Equal(t, []float32{2}, got[1].Value())

	// Mismatched length.
	err := l.Set("graph_attributes", values[:2])
	require.ErrorIs(t, err, ErrLengthMismatch)

	// Unset everywhere: nil, no error.
	require.Nil(t, l.Get("node_attributes"))

	// Partially set.
	require.NoError(t, l.At(1).Set("graph_size", []int32{10}))
	got = l.Get("graph_size")
	require.Len(t, got, 3)
	require.Nil(t, got[0])
	require.NotNil(t, got[1])

	require.NoError(t, l.SetValues("graph_id", []any{0, 1, 2}))
	require.Equal(t, int64(2), l.At(2).Get("graph_id").Value())
	require.ErrorIs(t, l.SetValues("graph_name", []any{"a", "b", "c"}), ErrNotArrayLike)
}

func TestListSelect(t *testing.T) {
	l := makeList(t, 5)
	view, err := l.Select(3, 1)
	require.NoError(t, err)
	require.Equal(t, 2, view.Len())
	require.Same(t, l.At(3), view.At(0))
	require.Same(t, l.At(1), view.At(1))

	// Changes through the view are visible in the original.
	require.NoError(t, view.At(0).Set("graph_labels", []int32{7}))
	require.Equal(t, []int32{7}, l.At(3).Get("graph_labels").Value())

	_, err = l.Select(5)
	require.Error(t, err)

	slice := l.Slice(1, 3)
	require.Equal(t, 2, slice.Len())
	require.Same(t, l.At(2), slice.At(1))
}

func TestListClean(t *testing.T) {
	l := makeList(t, 5)
	l.At(2).Delete(EdgeIndices)
	require.NoError(t, l.At(4).Set(EdgeIndices, tensors.FromFlatDataAndDimensions([]int64{}, 0, 2)))
	third := l.At(3)

	removed := l.Clean(EdgeIndices)
	require.Equal(t, []int{4, 2}, removed)
	require.Equal(t, 3, l.Len())
	require.Same(t, third, l.At(2))

	// Nothing else to remove.
	require.Empty(t, l.Clean(EdgeIndices, "node_attributes"))

	// Bool tensors are not numeric.
	require.NoError(t, l.At(0).Set("node_attributes", []bool{true, false}))
	require.Equal(t, []int{0}, l.Clean("node_attributes"))
	require.Equal(t, 2, l.Len())
}

func TestListCleanView(t *testing.T) {
	parent := makeList(t, 5)
	parent.At(1).Delete(EdgeIndices)
	original := slices.Clone(parent.Records())

	view := parent.Slice(0, 3)
	require.Equal(t, []int{1}, view.Clean(EdgeIndices))
	require.Equal(t, 2, view.Len())
	require.Same(t, original[0], view.At(0))
	require.Same(t, original[2], view.At(1))

	// The parent keeps all its records, in order.
	require.Equal(t, 5, parent.Len())
	for ii, r := range original {
		require.Same(t, r, parent.At(ii), "parent record #%d", ii)
	}

	// Appending to the view doesn't overwrite the parent either.
	view.Append(NewRecord())
	require.Same(t, original[3], parent.At(3))

	// Lists built from a slice of records don't alias it.
	records := slices.Clone(original)
	l := FromRecords(records)
	l.Clean(EdgeIndices)
	require.Equal(t, original, records)
	require.Equal(t, 4, l.Len())
}

func TestMapOperation(t *testing.T) {
	l := makeList(t, 3)
	registry := NewRegistry()
	var calls []int
	registry.Register("count_nodes", func(r *Record, params Params) error {
		calls = append(calls, r.NumNodes())
		return r.Set("graph_size", []int32{int32(r.NumNodes()) * int32(params.Float("scale", 1))})
	})

	require.NoError(t, l.MapOperation("count_nodes", Params{"scale": 10}, registry))
	require.Equal(t, []int{2, 3, 4}, calls)
	require.Equal(t, []int32{40}, l.At(2).Get("graph_size").Value())

	// Built-in operations take precedence and don't need a registry.
	require.NoError(t, l.MapOperation("set_edge_weights_uniform", nil, nil))
	require.Equal(t, [][]float32{{1}, {1}, {1}}, l.At(2).Get(EdgeWeights).Value())

	err := l.MapOperation("compute_angles", nil, registry)
	require.ErrorIs(t, err, ErrUnknownOperation)
	fmt.Printf("\tExpected error: %v\n", err)

	op, err := ParseOperation("make_undirected_edges")
	require.NoError(t, err)
	require.Equal(t, OperationMakeUndirectedEdges, op)
	require.True(t, op.IsAOperation())
	require.False(t, Operation(len(OperationValues())).IsAOperation())
	_, err = ParseOperation("count_nodes")
	require.ErrorIs(t, err, ErrUnknownOperation)

	// Errors name the record.
	registry.Register("fail_on_big", func(r *Record, _ Params) error {
		if r.NumNodes() > 3 {
			return errors.New("too big")
		}
		return nil
	})
	err = l.MapOperation("fail_on_big", nil, registry)
	require.ErrorContains(t, err, "record #2")
}

func TestParallelMap(t *testing.T) {
	l := makeList(t, 20)
	want := makeList(t, 20)
	require.NoError(t, want.Map(MakeUndirectedEdges))
	require.NoError(t, l.ParallelMap(MakeUndirectedEdges, -1))
	for ii := range l.Len() {
		assert.Equal(t, want.At(ii).Get(EdgeIndices).Value(), l.At(ii).Get(EdgeIndices).Value(), "record #%d", ii)
	}

	err := l.ParallelMap(func(r *Record) error {
		if r.NumNodes() > 5 {
			return errors.New("too large")
		}
		return nil
	}, 3)
	require.ErrorContains(t, err, "record #4")
}

func TestEdgeOperations(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.Set("node_attributes", [][]float32{{0}, {1}, {2}}))
	require.NoError(t, r.Set(EdgeIndices, [][]int32{{2, 1}, {0, 1}, {1, 0}}))
	require.NoError(t, r.Set("edge_attributes", [][]float32{{21}, {1}, {10}}))

	require.NoError(t, SortEdgeIndices(r))
	assert.Equal(t, [][]int32{{0, 1}, {1, 0}, {2, 1}}, r.Get(EdgeIndices).Value())
	assert.Equal(t, [][]float32{{1}, {10}, {21}}, r.Get("edge_attributes").Value())

	require.NoError(t, MakeUndirectedEdges(r))
	assert.Equal(t, [][]int32{{0, 1}, {1, 0}, {1, 2}, {2, 1}}, r.Get(EdgeIndices).Value())
	assert.Equal(t, [][]float32{{1}, {10}, {21}, {21}}, r.Get("edge_attributes").Value())

	require.NoError(t, AddEdgeSelfLoops(r, -1))
	assert.Equal(t, [][]int32{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {1, 2}, {2, 1}, {2, 2}}, r.Get(EdgeIndices).Value())
	assert.Equal(t, [][]float32{{-1}, {1}, {10}, {-1}, {21}, {21}, {-1}}, r.Get("edge_attributes").Value())
	require.NoError(t, r.Validate())

	// Self loops of nodes past 255 don't fit uint8 indices: the record is left unchanged.
	big := NewRecord()
	require.NoError(t, big.Set("node_attributes", tensors.FromShape(shapes.Make(dtypes.Float32, 300, 1))))
	require.NoError(t, big.Set(EdgeIndices, [][]uint8{{1, 0}}))
	require.NoError(t, big.Set("edge_attributes", [][]float32{{7}}))
	err := AddEdgeSelfLoops(big, 0)
	require.ErrorIs(t, err, tensorutil.ErrOverflow)
	require.ErrorContains(t, err, EdgeIndices)
	fmt.Printf("\tExpected error: %v\n", err)
	assert.Equal(t, [][]uint8{{1, 0}}, big.Get(EdgeIndices).Value())
	assert.Equal(t, [][]float32{{7}}, big.Get("edge_attributes").Value())
}

func TestCache(t *testing.T) {
	l := makeList(t, 4)
	require.NoError(t, l.At(1).Set("graph_energy", 1.5))

	var buf bytes.Buffer
	require.NoError(t, l.Write(&buf))
	l2, err := Read(&buf)
	require.NoError(t, err)
	requireSameLists(t, l, l2)

	path := filepath.Join(t.TempDir(), "dataset.bin")
	require.NoError(t, l.Save(path))
	l3, err := Load(path)
	require.NoError(t, err)
	requireSameLists(t, l, l3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not a cache"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestCacheFailedSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.bin")
	l := makeList(t, 3)
	require.NoError(t, l.Save(path))

	// A write failing halfway leaves the previous cache in place, and no temporary files.
	err := writeFileAtomically(path, func(w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.New("disk full")
	})
	require.ErrorContains(t, err, "disk full")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	loaded, err := Load(path)
	require.NoError(t, err)
	requireSameLists(t, l, loaded)

	// Saving over an existing cache replaces it.
	require.NoError(t, l.Slice(0, 1).Save(path))
	loaded, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
}

func requireSameLists(t *testing.T, want, got *List) {
	require.Equal(t, want.Len(), got.Len())
	for ii := range want.Len() {
		require.Equal(t, want.At(ii).Names(), got.At(ii).Names(), "record #%d", ii)
		for _, name := range want.At(ii).Names() {
			w, g := want.At(ii).Get(name), got.At(ii).Get(name)
			require.True(t, w.Shape().Equal(g.Shape()), "record #%d, property %q", ii, name)
			require.Equal(t, w.Value(), g.Value(), "record #%d, property %q", ii, name)
		}
	}
}

func TestInputSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: node_attributes
  ragged: true
  shape: [-1, 2]
  dtype: float32
- name: edge_indices
  ragged: true
  shape: [-1, 2]
- name: graph_labels
  shape: [1]
`), 0o644))
	specs, err := LoadInputSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	require.True(t, specs[0].Ragged)
	require.Equal(t, []int{AnyDim, 2}, specs[1].Shape)

	l := makeList(t, 3)
	require.NoError(t, l.AssertValidModelInput(specs))

	// Shape mismatch reports both shapes.
	require.NoError(t, l.At(1).Set("node_attributes", [][]float32{{1, 2, 3}}))
	err = l.AssertValidModelInput(specs)
	require.Error(t, err)
	fmt.Printf("\tExpected error: %v\n", err)
	require.ErrorContains(t, err, "(Float32)[1 3]")
	require.ErrorContains(t, err, "node_attributes(ragged=true, shape=[? 2]")

	// Invalid spec files.
	require.NoError(t, os.WriteFile(path, []byte("- ragged: true\n"), 0o644))
	_, err = LoadInputSpecs(path)
	require.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("- name: x\n  dtype: float33\n"), 0o644))
	_, err = LoadInputSpecs(path)
	require.Error(t, err)
}

func TestSplits(t *testing.T) {
	folds, err := KFoldIndices(10, 3, false, 0)
	require.NoError(t, err)
	require.Len(t, folds, 3)
	require.Equal(t, []int{0, 1, 2, 3}, folds[0].Test)
	require.Equal(t, []int{4, 5, 6, 7, 8, 9}, folds[0].Train)
	require.Equal(t, []int{7, 8, 9}, folds[2].Test)

	shuffled, err := KFoldIndices(10, 5, true, 42)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, fold := range shuffled {
		require.Len(t, fold.Test, 2)
		require.Len(t, fold.Train, 8)
		for _, idx := range fold.Test {
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
	require.Len(t, seen, 10)

	_, err = KFoldIndices(3, 4, false, 0)
	require.Error(t, err)

	l := makeList(t, 4)
	for ii := range 4 {
		require.NoError(t, l.At(ii).Set("graph_train", []int32{int32(ii % 2), 5}))
		require.NoError(t, l.At(ii).Set("graph_test", []int32{int32(1 - ii%2)}))
	}
	fold, err := l.SplitIndices("graph_train", "graph_test", 1)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, fold.Train)
	require.Equal(t, []int{0, 2}, fold.Test)
	_, err = l.SplitIndices("graph_train", "graph_test", 3)
	require.ErrorIs(t, err, ErrPropertyMissing)
}
