package disjoint

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// BatchConfig selects the properties used to build a Batch.
type BatchConfig struct {
	// NodeProperty is required: it defines the node values and the number of nodes per graph.
	NodeProperty string

	// EdgeProperty, if set, is packed into Batch.Edges. Edges are counted from graphdata.EdgeIndices.
	EdgeProperty string

	// WeightProperty, if set, is packed into Batch.EdgeWeights.
	WeightProperty string

	// LabelProperty, if set, is packed (stacked) into Batch.Labels.
	LabelProperty string

	// Convention of the edge indices stored in the records, usually ConventionSample.
	Convention IndexConvention

	// SortEdges sorts the edges of the batch by target node (stable), so the batch can be
	// pooled with the "sorted" hint on.
	SortEdges bool
}

// Batch is a disjoint batch of graphs. EdgeIndices are always in the batch convention: they
// point into the rows of Nodes.
type Batch struct {
	Nodes       *tensors.Tensor
	NodeLengths []int

	EdgeIndices *tensors.Tensor
	EdgeLengths []int
	Edges       *tensors.Tensor
	EdgeWeights *tensors.Tensor

	Labels *tensors.Tensor

	// Sorted is true if the edges are sorted by target node.
	Sorted bool
}

// NumGraphs returns the number of graphs in the batch.
func (b *Batch) NumGraphs() int {
	return len(b.NodeLengths)
}

// NumNodes returns the total number of nodes in the batch.
func (b *Batch) NumNodes() int {
	return tensorutil.NumRows(b.Nodes)
}

// NewBatch packs the list into a disjoint Batch.
func NewBatch(list *graphdata.List, config BatchConfig) (*Batch, error) {
	if config.NodeProperty == "" {
		return nil, errors.New("NewBatch(): BatchConfig.NodeProperty must be set")
	}
	nodes, err := PackRagged(list, config.NodeProperty)
	if err != nil {
		return nil, err
	}
	edgeIndices, err := PackRagged(list, graphdata.EdgeIndices)
	if err != nil {
		return nil, err
	}
	b := &Batch{Nodes: nodes.Values, NodeLengths: nodes.RowLengths, EdgeLengths: edgeIndices.RowLengths}
	b.EdgeIndices, err = ShiftIndices(edgeIndices.Values, nodes.RowLengths, edgeIndices.RowLengths, config.Convention)
	if err != nil {
		return nil, errors.WithMessage(err, "NewBatch()")
	}
	if config.EdgeProperty != "" {
		if b.Edges, err = packEdgeAligned(list, config.EdgeProperty, edgeIndices.RowLengths); err != nil {
			return nil, err
		}
	}
	if config.WeightProperty != "" {
		if b.EdgeWeights, err = packEdgeAligned(list, config.WeightProperty, edgeIndices.RowLengths); err != nil {
			return nil, err
		}
	}
	if config.LabelProperty != "" {
		labels, err := properties(list, config.LabelProperty)
		if err != nil {
			return nil, err
		}
		if b.Labels, err = tensorutil.Stack(labels); err != nil {
			return nil, errors.WithMessagef(err, "NewBatch(): stacking labels %q", config.LabelProperty)
		}
	}
	if config.SortEdges {
		// Graphs own consecutive ranges of node indices, so a global sort by target keeps the
		// edges of each graph together and EdgeLengths stays valid.
		var sorted []*tensors.Tensor
		b.EdgeIndices, sorted, _, err = SortByTarget(b.EdgeIndices, b.Edges, b.EdgeWeights)
		if err != nil {
			return nil, errors.WithMessage(err, "NewBatch()")
		}
		b.Edges, b.EdgeWeights = sorted[0], sorted[1]
		b.Sorted = true
	}
	return b, nil
}

func packEdgeAligned(list *graphdata.List, name string, edgeLengths []int) (*tensors.Tensor, error) {
	ragged, err := PackRagged(list, name)
	if err != nil {
		return nil, err
	}
	for ii, l := range ragged.RowLengths {
		if l != edgeLengths[ii] {
			return nil, errors.Wrapf(ErrShapeMismatch, "record #%d: property %q has %d rows, but %q has %d edges",
				ii, name, l, graphdata.EdgeIndices, edgeLengths[ii])
		}
	}
	return ragged.Values, nil
}
