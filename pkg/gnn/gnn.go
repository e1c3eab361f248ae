// Package gnn implements a graph convolutional classifier over disjoint batches of graphs.
//
// The inputs follow the layout produced by disjoint.Tensors for ragged properties: the
// concatenated node features with their per-graph lengths, and the concatenated edge indices
// (pairs of (target, source) node indices) with their per-graph lengths.
//
// Messages go from the source node of each edge to its target node, and are pooled with
// pooling.EdgesToNodesFromContext, so the pooling hyperparameters (see pooling.ParamMethod,
// pooling.ParamIndexConvention) apply to the convolutions as well.
package gnn

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/yuchanpei/gcnn/pkg/disjoint"
	"github.com/yuchanpei/gcnn/pkg/layers/pooling"
)

var (
	// ParamNumLayers context hyperparameter defines the number of graph convolutions.
	// The default is 2.
	ParamNumLayers = "gnn_num_layers"

	// ParamStateDim context hyperparameter defines the dimension of the node states.
	// The default is 64.
	ParamStateDim = "gnn_node_state_dim"

	// ParamMessageDim context hyperparameter defines the dimension of the messages sent over edges.
	// The default is the state dimension.
	ParamMessageDim = "gnn_message_dim"

	// ParamReadout context hyperparameter defines how node states are pooled into the graph
	// state: "segment_sum" or "segment_mean".
	// The default is "segment_mean".
	ParamReadout = "gnn_readout"

	// ParamResidual context hyperparameter adds the previous node state to the updated one.
	// The default is true.
	ParamResidual = "gnn_residual"

	// ParamNumClasses context hyperparameter defines the number of logits of GraphClassifier.
	// The default is 2.
	ParamNumClasses = "gnn_num_classes"
)

// indexConvention reads pooling.ParamIndexConvention from the context.
func indexConvention(ctx *context.Context) disjoint.IndexConvention {
	name := context.GetParamOr(ctx, pooling.ParamIndexConvention, disjoint.ConventionSample.String())
	convention, err := disjoint.ParseIndexConvention(name)
	if err != nil {
		Panicf("invalid context parameter %q: %v", pooling.ParamIndexConvention, err)
	}
	return convention
}

// GCNLayer runs one graph convolution and returns the updated node states, shaped
// `[num_nodes, state_dim]`.
//
// The state of the source node of each edge is transformed into a message, messages are pooled
// into their target nodes (optionally multiplied by weights, shaped `[num_edges]` or
// `[num_edges, 1]`, which can be nil), and each node's pooled messages are concatenated to its
// current state and go through a dense layer followed by the activation set in the context.
//
// nodes are shaped `[num_nodes, d]`, nodeLengths and edgeLengths `[num_graphs]`, and
// edgeIndices `[num_edges, 2]` with (target, source) pairs.
func GCNLayer(ctx *context.Context, nodes, nodeLengths, edgeLengths, edgeIndices, weights *Node) *Node {
	if nodes.Rank() != 2 {
		Panicf("gnn.GCNLayer(): nodes must be shaped [num_nodes, d], got %s", nodes.Shape())
	}
	if edgeIndices.Rank() != 2 || edgeIndices.Shape().Dimensions[1] != 2 {
		Panicf("gnn.GCNLayer(): edgeIndices must be shaped [num_edges, 2], got %s", edgeIndices.Shape())
	}
	stateDim := context.GetParamOr(ctx, ParamStateDim, 64)
	messageDim := context.GetParamOr(ctx, ParamMessageDim, stateDim)

	indices := pooling.ShiftIndices(edgeIndices, nodeLengths, edgeLengths, indexConvention(ctx))
	sources := Slice(indices, AxisRange(), AxisElem(1))
	sourceStates := Gather(nodes, ConvertDType(sources, dtypes.Int32))

	messages := fnn.New(ctx.In("message"), sourceStates, messageDim).Done()
	messages = activations.ApplyFromContext(ctx, messages)
	pool := pooling.EdgesToNodesFromContext(ctx, nodes, nodeLengths, messages, edgeLengths, edgeIndices)
	if weights != nil {
		pool = pool.Weights(weights)
	} else {
		// Normalization is only defined for weighted edges.
		pool = pool.NormalizeByWeights(false)
	}
	pooled := pool.Done()

	updated := fnn.New(ctx.In("update"), Concatenate([]*Node{nodes, pooled}, -1), stateDim).Done()
	updated = activations.ApplyFromContext(ctx, updated)
	if context.GetParamOr(ctx, ParamResidual, true) && nodes.Shape().Equal(updated.Shape()) {
		updated = Add(updated, nodes)
	}
	return updated
}

// GraphClassifier is a model function (see train.ModelFn) that returns the logits of each graph
// in a disjoint batch, shaped `[num_graphs, num_classes]`.
//
// inputs are the node features `[num_nodes, d]`, the node lengths `[num_graphs]`, the edge
// indices `[num_edges, 2]` and the edge lengths `[num_graphs]`, optionally followed by the edge
// weights `[num_edges]` or `[num_edges, 1]` and their lengths: this is what disjoint.Tensors
// yields for the ragged input specs "node_attributes", "edge_indices" and "edge_weights".
//
// The spec argument is not used. The node features are embedded with a dense layer, go through
// ParamNumLayers graph convolutions, are pooled per graph according to ParamReadout, and a final
// dense layer produces ParamNumClasses logits.
func GraphClassifier(ctx *context.Context, spec any, inputs []*Node) []*Node {
	if len(inputs) != 4 && len(inputs) != 6 {
		Panicf("gnn.GraphClassifier(): expected 4 or 6 inputs (nodes, node lengths, edge indices, edge lengths "+
			"[, edge weights, weight lengths]), got %d", len(inputs))
	}
	nodes, nodeLengths, edgeIndices, edgeLengths := inputs[0], inputs[1], inputs[2], inputs[3]
	if !nodes.DType().IsFloat() {
		nodes = ConvertDType(nodes, dtypes.Float32)
	}
	if nodes.Rank() == 1 {
		nodes = InsertAxes(nodes, -1)
	}
	var weights *Node
	if len(inputs) == 6 {
		weights = ConvertDType(inputs[4], nodes.DType())
	}
	stateDim := context.GetParamOr(ctx, ParamStateDim, 64)
	numLayers := context.GetParamOr(ctx, ParamNumLayers, 2)
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	readout, err := pooling.ParseMethod(context.GetParamOr(ctx, ParamReadout, pooling.MethodSegmentMean.String()))
	if err != nil {
		Panicf("invalid context parameter %q: %v", ParamReadout, err)
	}

	state := fnn.New(ctx.In("embedding"), nodes, stateDim).Done()
	state = activations.ApplyFromContext(ctx, state)
	for layer := range numLayers {
		state = GCNLayer(ctx.In(fmt.Sprintf("gcn_%d", layer)), state, nodeLengths, edgeLengths, edgeIndices, weights)
	}
	graphState := pooling.NodesToGraph(state, nodeLengths, readout)
	logits := fnn.New(ctx.In("readout"), graphState, numClasses).Done()
	return []*Node{logits}
}
