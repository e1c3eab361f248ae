package disjoint

import (
	"io"
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
	"k8s.io/klog/v2"
)

// Dataset yields disjoint batches of a graph list. It implements train.Dataset.
//
// Each batch yields the inputs built by Tensors for the configured input specs (ragged specs
// contribute values and row lengths), and the label property of the graphs stacked as the only
// label.
type Dataset struct {
	name      string
	list      *graphdata.List
	inputs    []graphdata.InputSpec
	label     string
	batchSize int

	shuffle        *rand.Rand
	dropIncomplete bool

	order []int
	next  int
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a Dataset over list. label can be empty, in which case no labels are yielded.
func NewDataset(name string, list *graphdata.List, inputs []graphdata.InputSpec, label string, batchSize int) (*Dataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("NewDataset(%q): batchSize must be > 0, got %d", name, batchSize)
	}
	if len(inputs) == 0 {
		return nil, errors.Errorf("NewDataset(%q): no input specs given", name)
	}
	for _, spec := range inputs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	ds := &Dataset{name: name, list: list, inputs: inputs, label: label, batchSize: batchSize}
	ds.Reset()
	return ds, nil
}

// Shuffle makes the dataset shuffle the order of the graphs at every Reset, using seed.
func (ds *Dataset) Shuffle(seed uint64) *Dataset {
	ds.shuffle = rand.New(rand.NewPCG(seed, seed+1))
	ds.Reset()
	return ds
}

// DropIncompleteBatch skips the last batch if it has fewer than batchSize graphs.
func (ds *Dataset) DropIncompleteBatch(drop bool) *Dataset {
	ds.dropIncomplete = drop
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.order = make([]int, ds.list.Len())
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	if ds.shuffle != nil {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	}
	ds.next = 0
}

// Yield implements train.Dataset. It returns io.EOF at the end of the epoch.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	remaining := len(ds.order) - ds.next
	if remaining <= 0 || (ds.dropIncomplete && remaining < ds.batchSize) {
		return nil, nil, nil, io.EOF
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	batch, err := ds.list.Select(ds.order[ds.next:end]...)
	if err != nil {
		return nil, nil, nil, err
	}
	ds.next = end
	spec = ds
	inputs, err = Tensors(batch, ds.inputs)
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "dataset %q", ds.name)
	}
	if ds.label != "" {
		values, err := properties(batch, ds.label)
		if err != nil {
			return nil, nil, nil, err
		}
		stacked, err := tensorutil.Stack(values)
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "dataset %q: stacking labels %q", ds.name, ds.label)
		}
		labels = []*tensors.Tensor{stacked}
	}
	klog.V(2).Infof("dataset %q: yielded %d graphs", ds.name, batch.Len())
	return
}
