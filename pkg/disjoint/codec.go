// Package disjoint converts graph lists into batched tensors and back.
//
// A batch of graphs is represented "disjoint": the per-record tensors of a property are
// concatenated along axis 0 into one flat tensor, and a separate vector holds how many rows each
// graph contributed. Edge indices can then be shifted from local (per-graph) numbering to
// global numbering in the flat node tensor (see ShiftIndices).
//
// Everything here runs on the host and copies: the packed tensors never share storage with the
// records they came from.
package disjoint

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// ErrShapeMismatch is returned when lengths or shapes that must agree don't.
var ErrShapeMismatch = tensorutil.ErrShapeMismatch

// Ragged holds one property of a list of graphs: all rows concatenated in Values and the number
// of rows of each graph in RowLengths.
type Ragged struct {
	Values     *tensors.Tensor
	RowLengths []int

	// scalar is set if the records were scalars (rank 0), in which case each row is a record.
	scalar bool
}

// Len returns the number of graphs.
func (r *Ragged) Len() int {
	return len(r.RowLengths)
}

// Row returns a copy of the tensor of graph ii, with the same shape and dtype it had in its record.
func (r *Ragged) Row(ii int) (*tensors.Tensor, error) {
	if ii < 0 || ii >= len(r.RowLengths) {
		return nil, errors.Errorf("Ragged.Row(%d): out of range for %d rows", ii, len(r.RowLengths))
	}
	start := 0
	for _, l := range r.RowLengths[:ii] {
		start += l
	}
	t, err := tensorutil.SliceRows(r.Values, start, start+r.RowLengths[ii])
	if err != nil {
		return nil, err
	}
	if r.scalar {
		return scalarFromRow(t)
	}
	return t, nil
}

// Split returns a copy of the tensors of every graph.
func (r *Ragged) Split() ([]*tensors.Tensor, error) {
	parts, err := tensorutil.Split(r.Values, r.RowLengths)
	if err != nil {
		return nil, err
	}
	if r.scalar {
		for ii, part := range parts {
			if parts[ii], err = scalarFromRow(part); err != nil {
				return nil, err
			}
		}
	}
	return parts, nil
}

func scalarFromRow(t *tensors.Tensor) (*tensors.Tensor, error) {
	return tensorutil.Reshape(t)
}

// RowLengthsTensor returns the row lengths as an int32 tensor shaped `[num_graphs]`.
func (r *Ragged) RowLengthsTensor() *tensors.Tensor {
	return lengthsTensor(r.RowLengths)
}

func lengthsTensor(lengths []int) *tensors.Tensor {
	flat := make([]int32, len(lengths))
	for ii, l := range lengths {
		flat[ii] = int32(l)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(lengths))
}

// properties returns the tensors of the property for every record, failing if any is missing.
func properties(list *graphdata.List, name string) ([]*tensors.Tensor, error) {
	if list.Len() == 0 {
		return nil, errors.Errorf("property %q: cannot pack an empty list", name)
	}
	values := make([]*tensors.Tensor, list.Len())
	for ii, r := range list.Records() {
		values[ii] = r.Get(name)
		if values[ii] == nil {
			return nil, errors.Wrapf(graphdata.ErrPropertyMissing, "property %q not set in record #%d, list should be cleaned first", name, ii)
		}
	}
	return values, nil
}

// Lengths returns the number of rows (axis 0) of the property in each record. Scalars count as 1.
func Lengths(list *graphdata.List, name string) ([]int, error) {
	values, err := properties(list, name)
	if err != nil {
		return nil, err
	}
	lengths := make([]int, len(values))
	for ii, t := range values {
		lengths[ii] = tensorutil.NumRows(t)
	}
	return lengths, nil
}

// PackFlat concatenates the property of all records along axis 0. Scalar records are stacked
// into a `[num_graphs]` tensor.
func PackFlat(list *graphdata.List, name string) (*tensors.Tensor, error) {
	values, err := properties(list, name)
	if err != nil {
		return nil, err
	}
	flat, err := tensorutil.Concat(values)
	if err != nil {
		return nil, errors.WithMessagef(err, "packing property %q", name)
	}
	return flat, nil
}

// PackRagged packs the property of all records keeping the boundaries between records.
func PackRagged(list *graphdata.List, name string) (*Ragged, error) {
	values, err := properties(list, name)
	if err != nil {
		return nil, err
	}
	flat, err := tensorutil.Concat(values)
	if err != nil {
		return nil, errors.WithMessagef(err, "packing property %q", name)
	}
	lengths := make([]int, len(values))
	for ii, t := range values {
		lengths[ii] = tensorutil.NumRows(t)
	}
	return &Ragged{Values: flat, RowLengths: lengths, scalar: values[0].Rank() == 0}, nil
}

// Tensors packs the list into model inputs, one or two tensors per spec, in order:
//
//   - Ragged specs produce the flat values and the int32 row lengths `[num_graphs]`.
//   - Other specs produce the values of all records stacked as `[num_graphs, shape...]`.
//
// Every record must match its spec's shape (see graphdata.InputSpec.Matches), otherwise an
// error showing both shapes is returned.
func Tensors(list *graphdata.List, specs []graphdata.InputSpec) ([]*tensors.Tensor, error) {
	var inputs []*tensors.Tensor
	for _, spec := range specs {
		values, err := properties(list, spec.Name)
		if err != nil {
			return nil, err
		}
		for ii, t := range values {
			if !spec.Matches(t.Shape()) {
				return nil, errors.Wrapf(ErrShapeMismatch, "record #%d property %q shaped %s, but input requires %s",
					ii, spec.Name, t.Shape(), spec)
			}
		}
		if spec.Ragged {
			ragged, err := PackRagged(list, spec.Name)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, ragged.Values, ragged.RowLengthsTensor())
			continue
		}
		stacked, err := tensorutil.Stack(values)
		if err != nil {
			return nil, errors.WithMessagef(err, "stacking property %q", spec.Name)
		}
		inputs = append(inputs, stacked)
	}
	return inputs, nil
}
