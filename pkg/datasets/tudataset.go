package datasets

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// TUDataset reads a dataset of the TU Dortmund graph kernel collection
// (https://chrsmrrs.github.io/datasets/).
//
// The directory holds "<Name>_A.txt" (one "i, j" edge per line, with 1-based node ids global
// to the whole dataset), "<Name>_graph_indicator.txt" (the 1-based graph id of each node) and
// "<Name>_graph_labels.txt", plus the optional "_node_labels", "_node_attributes",
// "_edge_labels", "_edge_attributes" and "_graph_attributes" files.
//
// Each graph becomes one record with properties "edge_indices" (int32, local to the graph,
// sorted by target), "graph_labels" (int32 `[1]`), "node_labels"/"edge_labels" (int32 vectors),
// "node_attributes"/"edge_attributes" (float32 `[n, d]`) and "graph_attributes" (float32 `[d]`).
type TUDataset struct {
	Name string
}

// NewTUDataset returns the dataset with the given TU name, downloaded from the TU server.
func NewTUDataset(name string, config Config) *Dataset {
	source := &URLSource{
		URL:             fmt.Sprintf("https://www.chrsmrrs.com/graphkerneldatasets/%s.zip", name),
		FileName:        name + ".zip",
		Archive:         ArchiveZip,
		Directory:       name,
		ShowProgressBar: true,
	}
	return New(name, source, &TUDataset{Name: name}, config)
}

func (tu *TUDataset) path(dir, suffix string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.txt", tu.Name, suffix))
}

// optional returns whether the file for suffix exists.
func (tu *TUDataset) optional(dir, suffix string) (string, bool, error) {
	path := tu.path(dir, suffix)
	exists, err := FileExists(path)
	return path, exists, err
}

// Materialize implements Materializer.
func (tu *TUDataset) Materialize(dir string) (*graphdata.List, error) {
	indicator, err := readInts(tu.path(dir, "graph_indicator"))
	if err != nil {
		return nil, err
	}
	nodeGraph := indicator[0]
	numGraphs := 0
	for ii, g := range nodeGraph {
		if g < 1 || g < numGraphs || g > numGraphs+1 {
			return nil, errors.Errorf("%s: graph indicator of node %d is %d, expected nodes sorted by graph starting at 1",
				tu.Name, ii+1, g)
		}
		numGraphs = g
	}
	// firstNode[g] is the 0-based global index of the first node of graph g (0-based).
	firstNode := make([]int, numGraphs)
	for ii := len(nodeGraph) - 1; ii >= 0; ii-- {
		firstNode[nodeGraph[ii]-1] = ii
	}

	list := graphdata.New(numGraphs)
	labels, err := readInts(tu.path(dir, "graph_labels"))
	if err != nil {
		return nil, err
	}
	if len(labels[0]) != numGraphs {
		return nil, errors.Wrapf(graphdata.ErrLengthMismatch, "%s: %d graph labels for %d graphs", tu.Name, len(labels[0]), numGraphs)
	}
	for g, label := range labels[0] {
		list.At(g).SetTensor("graph_labels", tensors.FromValue([]int32{int32(label)}))
	}

	// Edges.
	edgeColumns, err := readInts(tu.path(dir, "A"))
	if err != nil {
		return nil, err
	}
	if len(edgeColumns) != 2 {
		return nil, errors.Errorf("%s: edges file must have 2 columns, got %d", tu.Name, len(edgeColumns))
	}
	numNodes := len(nodeGraph)
	edgeGraph := make([]int, len(edgeColumns[0]))
	graphEdges := make([][]int32, numGraphs)
	for e := range edgeGraph {
		i, j := edgeColumns[0][e]-1, edgeColumns[1][e]-1
		if i < 0 || i >= numNodes || j < 0 || j >= numNodes || nodeGraph[i] != nodeGraph[j] {
			return nil, errors.Errorf("%s: invalid edge #%d (%d, %d)", tu.Name, e+1, i+1, j+1)
		}
		g := nodeGraph[i] - 1
		edgeGraph[e] = g
		graphEdges[g] = append(graphEdges[g], int32(i-firstNode[g]), int32(j-firstNode[g]))
	}
	for g, edges := range graphEdges {
		if edges == nil {
			edges = []int32{}
		}
		list.At(g).SetTensor(graphdata.EdgeIndices, tensors.FromFlatDataAndDimensions(edges, len(edges)/2, 2))
	}

	// Per node and per edge properties.
	nodeGroups := groupRows(nodeGraph, 1, numGraphs)
	edgeGroups := groupRows(edgeGraph, 0, numGraphs)
	for _, prop := range []struct {
		suffix, name string
		groups       [][]int
		attributes   bool
	}{
		{"node_labels", "node_labels", nodeGroups, false},
		{"node_attributes", "node_attributes", nodeGroups, true},
		{"edge_labels", "edge_labels", edgeGroups, false},
		{"edge_attributes", "edge_attributes", edgeGroups, true},
	} {
		path, exists, err := tu.optional(dir, prop.suffix)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		values, err := tu.perRowValues(path, prop.groups, prop.attributes)
		if err != nil {
			return nil, err
		}
		if err = list.Set(prop.name, values); err != nil {
			return nil, errors.WithMessagef(err, "%s: %s", tu.Name, prop.name)
		}
	}
	path, exists, err := tu.optional(dir, "graph_attributes")
	if err != nil {
		return nil, err
	}
	if exists {
		rows, err := readFloatRows(path)
		if err != nil {
			return nil, err
		}
		if len(rows) != numGraphs {
			return nil, errors.Wrapf(graphdata.ErrLengthMismatch, "%s: %d graph attributes for %d graphs", tu.Name, len(rows), numGraphs)
		}
		for g, row := range rows {
			list.At(g).SetTensor("graph_attributes", tensors.FromValue(row))
		}
	}

	if err = list.ParallelMap(graphdata.SortEdgeIndices, -1); err != nil {
		return nil, errors.WithMessagef(err, "%s", tu.Name)
	}
	list.Logger().V(1).Info("read TU dataset", "name", tu.Name, "graphs", numGraphs, "nodes", numNodes,
		"edges", len(edgeGraph))
	return list, nil
}

// groupRows returns the rows of each graph given the graph id of each row.
func groupRows(rowGraph []int, base, numGraphs int) [][]int {
	groups := make([][]int, numGraphs)
	for row, g := range rowGraph {
		groups[g-base] = append(groups[g-base], row)
	}
	return groups
}

// perRowValues reads one value (labels) or one vector (attributes) per row and splits them by graph.
func (tu *TUDataset) perRowValues(path string, groups [][]int, attributes bool) ([]*tensors.Tensor, error) {
	numRows := 0
	for _, rows := range groups {
		numRows += len(rows)
	}
	values := make([]*tensors.Tensor, len(groups))
	if attributes {
		rows, err := readFloatRows(path)
		if err != nil {
			return nil, err
		}
		if len(rows) != numRows {
			return nil, errors.Wrapf(graphdata.ErrLengthMismatch, "%q has %d rows, expected %d", path, len(rows), numRows)
		}
		dim := len(rows[0])
		for g, groupRows := range groups {
			flat := make([]float32, 0, len(groupRows)*dim)
			for _, row := range groupRows {
				flat = append(flat, rows[row]...)
			}
			values[g] = tensors.FromFlatDataAndDimensions(flat, len(groupRows), dim)
		}
		return values, nil
	}
	columns, err := readInts(path)
	if err != nil {
		return nil, err
	}
	if len(columns[0]) != numRows {
		return nil, errors.Wrapf(graphdata.ErrLengthMismatch, "%q has %d rows, expected %d", path, len(columns[0]), numRows)
	}
	for g, groupRows := range groups {
		flat := make([]int32, len(groupRows))
		for ii, row := range groupRows {
			flat[ii] = int32(columns[0][row])
		}
		values[g] = tensors.FromFlatDataAndDimensions(flat, len(flat))
	}
	return values, nil
}
