package datasets

import (
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// CoraClasses are the subjects of the Cora papers, in the order of their class ids.
var CoraClasses = []string{
	"Genetic_Algorithms",
	"Reinforcement_Learning",
	"Theory",
	"Rule_Learning",
	"Case_Based",
	"Probabilistic_Methods",
	"Neural_Networks",
}

// Cora reads the Cora citation graph (Lu and Getoor, 2003) as a single record.
//
// The directory holds "cora.content" (tab separated: paper id, binary word features, subject)
// and "cora.cites" (tab separated: cited paper id, citing paper id). The record has
// "node_attributes" (float32 word features), "node_labels" (float32 one-hot subject),
// "node_number" (int32 subject id), "edge_indices" (int32 (cited, citing) pairs sorted by
// target), and "edge_attributes" and "edge_weights" (float32 ones shaped `[num_edges, 1]`).
type Cora struct{}

// NewCoraDataset returns the Cora dataset downloaded from the LINQS server.
func NewCoraDataset(config Config) *Dataset {
	source := &URLSource{
		URL:             "https://linqs-data.soe.ucsc.edu/public/lbc/cora.tgz",
		FileName:        "cora.tgz",
		Archive:         ArchiveTar,
		Directory:       "cora",
		ShowProgressBar: true,
	}
	return New("cora_lu", source, Cora{}, config)
}

func readTabSeparated(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrap(err, "reading Cora")
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(false), dataframe.WithDelimiter('\t'))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "parsing %q", filePath)
	}
	return df, nil
}

// Materialize implements Materializer.
func (Cora) Materialize(dir string) (*graphdata.List, error) {
	contentPath := filepath.Join(dir, "cora.content")
	content, err := readTabSeparated(contentPath)
	if err != nil {
		return nil, err
	}
	if content.Ncol() < 3 {
		return nil, errors.Errorf("%q must have a paper id, features and a subject, got %d columns", contentPath, content.Ncol())
	}
	names := content.Names()
	paperIDs, err := content.Col(names[0]).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%q: paper ids", contentPath)
	}
	numNodes, numFeatures := len(paperIDs), len(names)-2
	nodeIndex := make(map[int]int, numNodes)
	for ii, id := range paperIDs {
		nodeIndex[id] = ii
	}

	features := make([]float32, numNodes*numFeatures)
	for col := range numFeatures {
		values := content.Col(names[col+1])
		if values.Type() != series.Int && values.Type() != series.Float {
			return nil, errors.Errorf("%q: feature column #%d is not numeric", contentPath, col)
		}
		for row, v := range values.Float() {
			features[row*numFeatures+col] = float32(v)
		}
	}
	subjects := content.Col(names[len(names)-1]).Records()
	labels := make([]float32, numNodes*len(CoraClasses))
	numbers := make([]int32, numNodes)
	for row, subject := range subjects {
		class := -1
		for ii, name := range CoraClasses {
			if name == subject {
				class = ii
				break
			}
		}
		if class < 0 {
			return nil, errors.Errorf("%q: paper %d has unknown subject %q", contentPath, paperIDs[row], subject)
		}
		numbers[row] = int32(class)
		labels[row*len(CoraClasses)+class] = 1
	}

	citesPath := filepath.Join(dir, "cora.cites")
	cites, err := readTabSeparated(citesPath)
	if err != nil {
		return nil, err
	}
	if cites.Ncol() != 2 {
		return nil, errors.Errorf("%q must have 2 columns, got %d", citesPath, cites.Ncol())
	}
	cited, err := cites.Col(cites.Names()[0]).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%q", citesPath)
	}
	citing, err := cites.Col(cites.Names()[1]).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "%q", citesPath)
	}
	numEdges := len(cited)
	edges := make([]int32, 0, 2*numEdges)
	for ii := range numEdges {
		target, found := nodeIndex[cited[ii]]
		source, found2 := nodeIndex[citing[ii]]
		if !found || !found2 {
			return nil, errors.Errorf("%q: citation #%d (%d, %d) refers to unknown papers", citesPath, ii, cited[ii], citing[ii])
		}
		edges = append(edges, int32(target), int32(source))
	}
	ones := make([]float32, numEdges)
	for ii := range ones {
		ones[ii] = 1
	}

	r := graphdata.NewRecord()
	r.SetTensor("node_attributes", tensors.FromFlatDataAndDimensions(features, numNodes, numFeatures))
	r.SetTensor("node_labels", tensors.FromFlatDataAndDimensions(labels, numNodes, len(CoraClasses)))
	r.SetTensor("node_number", tensors.FromFlatDataAndDimensions(numbers, numNodes))
	r.SetTensor(graphdata.EdgeIndices, tensors.FromFlatDataAndDimensions(edges, numEdges, 2))
	r.SetTensor("edge_attributes", tensors.FromFlatDataAndDimensions(ones, numEdges, 1))
	r.SetTensor(graphdata.EdgeWeights, tensors.FromFlatDataAndDimensions(append([]float32(nil), ones...), numEdges, 1))
	if err = graphdata.SortEdgeIndices(r); err != nil {
		return nil, err
	}
	if err = r.Validate(); err != nil {
		return nil, err
	}
	return graphdata.FromRecords([]*graphdata.Record{r}), nil
}
