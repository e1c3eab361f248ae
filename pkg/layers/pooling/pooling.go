// Package pooling implements segment pooling over disjoint batches of graphs, as computation
// graph operations.
//
// A disjoint batch holds the nodes (and edges) of all graphs concatenated along axis 0, with
// `nodeLengths` (and `edgeLengths`), shaped `[num_graphs]`, telling how many rows each graph owns.
// Edge indices are shaped `[num_edges, 2]` with (target, source) pairs, either local to each graph
// ("sample" convention) or already pointing into the concatenated nodes ("batch" convention).
//
// Pooling from edges to nodes always returns one row per node of the batch, with zero rows for
// nodes without incoming edges, so the output can be combined with the node states directly.
package pooling

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/yuchanpei/gcnn/pkg/disjoint"
)

const (
	// ParamMethod context hyperparameter defines the reduction used by EdgesToNodesFromContext:
	// "segment_sum" or "segment_mean".
	// The default is "segment_sum".
	ParamMethod = "pooling_method"

	// ParamIndexConvention context hyperparameter defines whether edge indices are local to each
	// graph ("sample") or already global ("batch").
	// The default is "sample".
	ParamIndexConvention = "pooling_index_convention"

	// ParamSorted context hyperparameter tells that edges are sorted by target node.
	// The default is false.
	ParamSorted = "pooling_is_sorted"

	// ParamNormalizeByWeights context hyperparameter makes weighted pooling divide by the sum
	// of the weights of each target node.
	// The default is false.
	ParamNormalizeByWeights = "pooling_normalize_by_weights"
)

// RowIDs returns for each of the numRows rows of a disjoint tensor the index of the graph that
// owns it, given the number of rows of each graph in lengths (shaped `[num_graphs]`).
// The output is shaped `[numRows]` and has dtype Int32.
//
// It is built by scattering a marker at the end of each graph and taking the cumulative sum,
// so graphs with zero rows are skipped correctly.
func RowIDs(lengths *Node, numRows int) *Node {
	if lengths.Rank() != 1 || !lengths.DType().IsInt() {
		Panicf("pooling.RowIDs(): lengths must be an integer vector shaped [num_graphs], got %s", lengths.Shape())
	}
	g := lengths.Graph()
	lengths = ConvertDType(lengths, dtypes.Int32)
	numGraphs := lengths.Shape().Dimensions[0]
	if numRows == 0 {
		return Zeros(g, shapes.Make(dtypes.Int32, 0))
	}
	ends := InsertAxes(CumSum(lengths, 0), -1)
	markers := Scatter(ends, Ones(g, shapes.Make(dtypes.Int32, numGraphs)),
		shapes.Make(dtypes.Int32, numRows+1), true, false)
	markers = Slice(markers, AxisRange(0, numRows))
	return CumSum(markers, 0)
}

// ExclusiveOffsets returns offsets[i] = sum(lengths[:i]), shaped like lengths.
func ExclusiveOffsets(lengths *Node) *Node {
	return Sub(CumSum(lengths, 0), lengths)
}

// ShiftIndices converts edge indices to the batch convention.
//
// edgeIndices is shaped `[num_edges]` or `[num_edges, k]`; nodeLengths and edgeLengths are shaped
// `[num_graphs]`. With the sample convention the number of nodes of all preceding graphs is
// added to the indices of each graph's edges. The output has the shape and dtype of edgeIndices,
// except that with the sample convention integer dtypes narrower than 32 bits become Int32, so
// the shifted indices don't wrap around.
func ShiftIndices(edgeIndices, nodeLengths, edgeLengths *Node, convention disjoint.IndexConvention) *Node {
	if !convention.IsAIndexConvention() {
		Panicf("pooling.ShiftIndices(): unknown index convention %s", convention)
	}
	if !edgeIndices.DType().IsInt() || (edgeIndices.Rank() != 1 && edgeIndices.Rank() != 2) {
		Panicf("pooling.ShiftIndices(): edgeIndices must be integers shaped [num_edges] or [num_edges, k], got %s",
			edgeIndices.Shape())
	}
	if convention == disjoint.ConventionBatch {
		return edgeIndices
	}
	if nodeLengths.Rank() != 1 || edgeLengths.Rank() != 1 ||
		nodeLengths.Shape().Dimensions[0] != edgeLengths.Shape().Dimensions[0] {
		Panicf("pooling.ShiftIndices(): nodeLengths and edgeLengths must both be shaped [num_graphs], got %s and %s",
			nodeLengths.Shape(), edgeLengths.Shape())
	}
	if edgeIndices.DType().Size() < 4 {
		edgeIndices = ConvertDType(edgeIndices, dtypes.Int32)
	}
	numEdges := edgeIndices.Shape().Dimensions[0]
	edgeGraph := RowIDs(edgeLengths, numEdges)
	offsets := ExclusiveOffsets(ConvertDType(nodeLengths, dtypes.Int32))
	edgeOffsets := Gather(offsets, InsertAxes(edgeGraph, -1), true)
	edgeOffsets = ConvertDType(edgeOffsets, edgeIndices.DType())
	if edgeIndices.Rank() == 2 {
		edgeOffsets = BroadcastToDims(InsertAxes(edgeOffsets, -1), edgeIndices.Shape().Dimensions...)
	}
	return Add(edgeIndices, edgeOffsets)
}

// poolingDType returns the dtype used to accumulate values of the given dtype.
func poolingDType(dtype dtypes.DType) dtypes.DType {
	if dtype.IsFloat16() {
		return dtypes.Float32
	}
	return dtype
}

// segmentReduce reduces the rows of values (shaped `[num_rows, ...]`) into numSegments rows,
// by the segment id of each row in ids (shaped `[num_rows]`). Segments that receive no rows are
// zero.
func segmentReduce(values, ids *Node, numSegments int, method Method, sorted bool) *Node {
	g := values.Graph()
	dtype := values.DType()
	outDims := append([]int{numSegments}, values.Shape().Dimensions[1:]...)
	keys := InsertAxes(ConvertDType(ids, dtypes.Int32), -1)
	pooled := Scatter(keys, values, shapes.Make(dtype, outDims...), sorted, false)
	switch method {
	case MethodSegmentSum:
		return pooled
	case MethodSegmentMean:
		numRows := values.Shape().Dimensions[0]
		count := Scatter(keys, Ones(g, shapes.Make(dtype, numRows)), shapes.Make(dtype, numSegments), sorted, false)
		count = MaxScalar(count, 1)
		return Div(pooled, broadcastRows(count, outDims))
	}
	Panicf("unknown pooling method %s, valid values are %q", method, MethodStrings())
	return nil
}

// broadcastRows broadcasts a `[num_rows]` vector to dims, where dims[0] == num_rows.
func broadcastRows(x *Node, dims []int) *Node {
	for x.Rank() < len(dims) {
		x = InsertAxes(x, -1)
	}
	return BroadcastToDims(x, dims...)
}

// EdgesToNodesConfig configures pooling of edge values into their target nodes.
// Create it with EdgesToNodes or EdgesToNodesFromContext, and call Done when configured.
type EdgesToNodesConfig struct {
	nodes, nodeLengths, edges, edgeLengths, edgeIndices *Node
	weights                                             *Node

	method     Method
	convention disjoint.IndexConvention
	sorted     bool
	normalize  bool
}

// EdgesToNodes pools the values of edges into the target node of each edge, the first column of
// edgeIndices.
//
// nodes is only used for its shape: the output has one row per node, `[num_nodes, ...]`
// where the trailing dimensions are the ones of edges (shaped `[num_edges, ...]`).
// nodeLengths and edgeLengths are shaped `[num_graphs]`, edgeIndices `[num_edges, 2]`.
// Nodes without incoming edges get zero rows.
//
// The default is MethodSegmentSum with the sample convention, unsorted and unnormalized.
func EdgesToNodes(nodes, nodeLengths, edges, edgeLengths, edgeIndices *Node) *EdgesToNodesConfig {
	return &EdgesToNodesConfig{
		nodes:       nodes,
		nodeLengths: nodeLengths,
		edges:       edges,
		edgeLengths: edgeLengths,
		edgeIndices: edgeIndices,
		method:      MethodSegmentSum,
		convention:  disjoint.ConventionSample,
	}
}

// EdgesToNodesFromContext is like EdgesToNodes, but takes its defaults from the context
// hyperparameters ParamMethod, ParamIndexConvention, ParamSorted and ParamNormalizeByWeights.
// Invalid values panic.
func EdgesToNodesFromContext(ctx *context.Context, nodes, nodeLengths, edges, edgeLengths, edgeIndices *Node) *EdgesToNodesConfig {
	c := EdgesToNodes(nodes, nodeLengths, edges, edgeLengths, edgeIndices)
	methodName := context.GetParamOr(ctx, ParamMethod, MethodSegmentSum.String())
	method, err := ParseMethod(methodName)
	if err != nil {
		Panicf("invalid context parameter %q: %v", ParamMethod, err)
	}
	conventionName := context.GetParamOr(ctx, ParamIndexConvention, disjoint.ConventionSample.String())
	convention, err := disjoint.ParseIndexConvention(conventionName)
	if err != nil {
		Panicf("invalid context parameter %q: %v", ParamIndexConvention, err)
	}
	return c.Method(method).
		IndexConvention(convention).
		Sorted(context.GetParamOr(ctx, ParamSorted, false)).
		NormalizeByWeights(context.GetParamOr(ctx, ParamNormalizeByWeights, false))
}

// Method sets the reduction method. Default is MethodSegmentSum.
func (c *EdgesToNodesConfig) Method(method Method) *EdgesToNodesConfig {
	c.method = method
	return c
}

// IndexConvention sets the convention of edgeIndices. Default is disjoint.ConventionSample.
func (c *EdgesToNodesConfig) IndexConvention(convention disjoint.IndexConvention) *EdgesToNodesConfig {
	c.convention = convention
	return c
}

// Sorted tells that the edges are sorted by target node (see disjoint.SortByTarget). It is only a
// hint for the backend: the result is the same either way. Default is false.
func (c *EdgesToNodesConfig) Sorted(sorted bool) *EdgesToNodesConfig {
	c.sorted = sorted
	return c
}

// Weights multiplies the edge values by weights before pooling. weights must be broadcastable to
// the shape of the edges: `[num_edges]`, `[num_edges, 1]` or the same shape as edges.
func (c *EdgesToNodesConfig) Weights(weights *Node) *EdgesToNodesConfig {
	c.weights = weights
	return c
}

// NormalizeByWeights divides the pooled value of each node by the sum of the weights of its
// incoming edges. Nodes whose weights add up to 0 get 0. It requires Weights.
func (c *EdgesToNodesConfig) NormalizeByWeights(normalize bool) *EdgesToNodesConfig {
	c.normalize = normalize
	return c
}

// Done builds the pooling and returns the pooled values, shaped `[num_nodes, ...]`.
func (c *EdgesToNodesConfig) Done() *Node {
	if !c.method.IsAMethod() {
		Panicf("pooling.EdgesToNodes(): unknown pooling method %s, valid values are %q", c.method, MethodStrings())
	}
	if !c.convention.IsAIndexConvention() {
		Panicf("pooling.EdgesToNodes(): unknown index convention %s", c.convention)
	}
	if c.nodes.Rank() < 1 {
		Panicf("pooling.EdgesToNodes(): nodes must be shaped [num_nodes, ...], got %s", c.nodes.Shape())
	}
	if c.edges.Rank() < 1 {
		Panicf("pooling.EdgesToNodes(): edges must be shaped [num_edges, ...], got %s", c.edges.Shape())
	}
	numEdges := c.edges.Shape().Dimensions[0]
	if c.edgeIndices.Rank() != 2 || c.edgeIndices.Shape().Dimensions[0] != numEdges {
		Panicf("pooling.EdgesToNodes(): edgeIndices must be shaped [num_edges=%d, 2], got %s (edges shaped %s)",
			numEdges, c.edgeIndices.Shape(), c.edges.Shape())
	}
	if c.normalize && c.weights == nil {
		Panicf("pooling.EdgesToNodes(): NormalizeByWeights requires Weights to be set")
	}
	numNodes := c.nodes.Shape().Dimensions[0]

	indices := ShiftIndices(c.edgeIndices, c.nodeLengths, c.edgeLengths, c.convention)
	targets := Reshape(Slice(indices, AxisRange(), AxisElem(0)), numEdges)

	dtype := c.edges.DType()
	dtypePool := poolingDType(dtype)
	values := ConvertDType(c.edges, dtypePool)
	var weights *Node
	if c.weights != nil {
		if c.weights.Shape().Dimensions[0] != numEdges || c.weights.Rank() > values.Rank() {
			Panicf("pooling.EdgesToNodes(): weights shaped %s cannot be broadcast to edges shaped %s",
				c.weights.Shape(), c.edges.Shape())
		}
		weights = ConvertDType(c.weights, dtypePool)
		for weights.Rank() < values.Rank() {
			weights = InsertAxes(weights, -1)
		}
		weights = BroadcastToDims(weights, values.Shape().Dimensions...)
		values = Mul(values, weights)
	}
	pooled := segmentReduce(values, targets, numNodes, c.method, c.sorted)
	if c.normalize {
		weightSum := segmentReduce(weights, targets, numNodes, MethodSegmentSum, c.sorted)
		isZero := Equal(weightSum, ZerosLike(weightSum))
		safeSum := Where(isZero, OnesLike(weightSum), weightSum)
		pooled = Where(isZero, ZerosLike(pooled), Div(pooled, safeSum))
	}
	if dtypePool != dtype {
		pooled = ConvertDType(pooled, dtype)
	}
	return pooled
}

// NodesToGraph pools the nodes of each graph, shaped `[num_nodes, ...]`, into one row per graph,
// shaped `[num_graphs, ...]`. Graphs without nodes get zero rows.
func NodesToGraph(nodes, nodeLengths *Node, method Method) *Node {
	return rowsToGraph("NodesToGraph", nodes, nodeLengths, method)
}

// EdgesToGraph pools the edges of each graph, shaped `[num_edges, ...]`, into one row per graph,
// shaped `[num_graphs, ...]`. Graphs without edges get zero rows.
func EdgesToGraph(edges, edgeLengths *Node, method Method) *Node {
	return rowsToGraph("EdgesToGraph", edges, edgeLengths, method)
}

func rowsToGraph(name string, values, lengths *Node, method Method) *Node {
	if !method.IsAMethod() {
		Panicf("pooling.%s(): unknown pooling method %s, valid values are %q", name, method, MethodStrings())
	}
	if values.Rank() < 1 || lengths.Rank() != 1 {
		Panicf("pooling.%s(): values must be shaped [num_rows, ...] and lengths [num_graphs], got %s and %s",
			name, values.Shape(), lengths.Shape())
	}
	numGraphs := lengths.Shape().Dimensions[0]
	ids := RowIDs(lengths, values.Shape().Dimensions[0])
	dtype := values.DType()
	dtypePool := poolingDType(dtype)
	pooled := segmentReduce(ConvertDType(values, dtypePool), ids, numGraphs, method, true)
	if dtypePool != dtype {
		pooled = ConvertDType(pooled, dtype)
	}
	return pooled
}
