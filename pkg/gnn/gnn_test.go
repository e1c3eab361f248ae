package gnn

import (
	"fmt"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuchanpei/gcnn/pkg/disjoint"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
	"github.com/yuchanpei/gcnn/pkg/layers/pooling"
)

var inputSpecs = []graphdata.InputSpec{
	{Name: "node_attributes", Ragged: true, Shape: []int{graphdata.AnyDim, 2}, DType: "float32"},
	{Name: "edge_indices", Ragged: true, Shape: []int{graphdata.AnyDim, 2}, DType: "int32"},
}

// graphs returns 3 small graphs: a 3-node path, a 2-node graph without edges and a 2-node pair.
func graphs() *graphdata.List {
	list := graphdata.New(3)
	must.M(list.SetValues("node_attributes", []any{
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[][]float32{{2, 0}, {0, 2}},
		[][]float32{{-1, 0.5}, {0.5, -1}},
	}))
	must.M(list.Set(graphdata.EdgeIndices, []*tensors.Tensor{
		tensors.FromValue([][]int32{{0, 1}, {1, 0}, {1, 2}, {2, 1}}),
		tensors.FromFlatDataAndDimensions([]int32{}, 0, 2),
		tensors.FromValue([][]int32{{0, 1}, {1, 0}}),
	}))
	return list
}

func asArgs(values []*tensors.Tensor) []any {
	args := make([]any, len(values))
	for ii, v := range values {
		args[ii] = v
	}
	return args
}

func newClassifierExec(ctx *context.Context) *context.Exec {
	backend := graphtest.BuildTestBackend()
	return context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) *Node {
		return GraphClassifier(ctx, nil, inputs)[0]
	})
}

func TestGraphClassifier(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamStateDim, 8)
	ctx.SetParam(ParamNumClasses, 3)
	exec := newClassifierExec(ctx)

	list := graphs()
	inputs := must.M1(disjoint.Tensors(list, inputSpecs))
	require.Len(t, inputs, 4)
	logits := exec.MustExec(asArgs(inputs)...)[0]
	fmt.Printf("\tlogits=%v\n", logits)
	assert.Equal(t, []int{3, 3}, logits.Shape().Dimensions)

	// Graphs in a disjoint batch don't interact: each graph alone gets the same logits.
	batched := tensors.MustCopyFlatData[float32](logits)
	for _, ii := range []int{0, 2} {
		single := must.M1(list.Select(ii))
		alone := exec.MustExec(asArgs(must.M1(disjoint.Tensors(single, inputSpecs)))...)[0]
		assert.Equal(t, []int{1, 3}, alone.Shape().Dimensions)
		assert.InDeltaSlice(t, batched[ii*3:(ii+1)*3], tensors.MustCopyFlatData[float32](alone), 1e-4, "graph #%d", ii)
	}

	// Invalid number of inputs.
	require.Panics(t, func() { _ = exec.MustExec(asArgs(inputs[:3])...) })
}

func TestGraphClassifierWeighted(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamStateDim, 4)
	ctx.SetParam(ParamNumLayers, 1)
	ctx.SetParam(ParamReadout, pooling.MethodSegmentSum.String())
	ctx.SetParam(pooling.ParamNormalizeByWeights, true)
	exec := newClassifierExec(ctx)

	list := graphs()
	must.M(list.Set(graphdata.EdgeWeights, []*tensors.Tensor{
		tensors.FromValue([]float32{1, 0.5, 0.5, 1}),
		tensors.FromFlatDataAndDimensions([]float32{}, 0),
		tensors.FromValue([]float32{2, 2}),
	}))
	specs := append(inputSpecs, graphdata.InputSpec{Name: graphdata.EdgeWeights, Ragged: true})
	inputs := must.M1(disjoint.Tensors(list, specs))
	require.Len(t, inputs, 6)
	logits := exec.MustExec(asArgs(inputs)...)[0]
	assert.Equal(t, []int{3, 2}, logits.Shape().Dimensions)
}

func TestGCNLayerConventions(t *testing.T) {
	list := graphs()
	nodeLengths := must.M1(disjoint.Lengths(list, "node_attributes"))
	edgeLengths := must.M1(disjoint.Lengths(list, graphdata.EdgeIndices))
	nodes := must.M1(disjoint.PackFlat(list, "node_attributes"))
	local := must.M1(disjoint.PackFlat(list, graphdata.EdgeIndices))
	global := must.M1(disjoint.ShiftIndices(local, nodeLengths, edgeLengths, disjoint.ConventionSample))
	lengths := func(values []int) *tensors.Tensor {
		flat := make([]int32, len(values))
		for ii, v := range values {
			flat[ii] = int32(v)
		}
		return tensors.FromValue(flat)
	}

	// Same variables, different index convention.
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(ParamStateDim, 2)
	layerFn := func(ctx *context.Context, nodes, nodeLengths, edgeLengths, edgeIndices *Node) *Node {
		return GCNLayer(ctx.In("gcn"), nodes, nodeLengths, edgeLengths, edgeIndices, nil)
	}
	sampleExec := context.MustNewExec(backend, ctx, layerFn)
	fromLocal := sampleExec.MustExec(nodes, lengths(nodeLengths), lengths(edgeLengths), local)[0]

	batchCtx := ctx.Reuse()
	batchCtx.SetParam(pooling.ParamIndexConvention, disjoint.ConventionBatch.String())
	batchExec := context.MustNewExec(backend, batchCtx, layerFn)
	fromGlobal := batchExec.MustExec(nodes, lengths(nodeLengths), lengths(edgeLengths), global)[0]
	fmt.Printf("\tsample=%v\n\tbatch=%v\n", fromLocal, fromGlobal)
	assert.Equal(t, []int{7, 2}, fromLocal.Shape().Dimensions)
	assert.InDeltaSlice(t, tensors.MustCopyFlatData[float32](fromLocal), tensors.MustCopyFlatData[float32](fromGlobal), 1e-5)

	// Nodes must be shaped [num_nodes, d].
	require.Panics(t, func() {
		bad := context.MustNewExec(backend, ctx.Reuse(), func(ctx *context.Context, nodes, edgeIndices *Node) *Node {
			return GCNLayer(ctx.In("gcn"), nodes, nil, nil, edgeIndices, nil)
		})
		_ = bad.MustExec([]float32{1, 2, 3}, [][]int32{{0, 1}})
	})
}
