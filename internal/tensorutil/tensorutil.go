// Package tensorutil holds host-side row operations on tensors shared by the graph data
// packages: concatenating, splitting and gathering along axis 0, and reading/writing integer
// index tensors of any integer dtype.
//
// All functions work on the local (host) copy of the tensors and never alias their inputs:
// returned tensors own their storage.
package tensorutil

import (
	"math"
	"reflect"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ErrShapeMismatch is returned (wrapped) whenever tensors that should agree in dtype or
// trailing dimensions don't.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrOverflow is returned (wrapped) when integer values don't fit the requested dtype.
var ErrOverflow = errors.New("integer overflow")

// NumRows returns the length of axis 0. Scalars count as 1 row.
func NumRows(t *tensors.Tensor) int {
	if t.Rank() == 0 {
		return 1
	}
	return t.Shape().Dimensions[0]
}

// rowSize is the number of elements in one row (axis 0) of the shape.
func rowSize(shape shapes.Shape) int {
	size := 1
	if shape.Rank() > 1 {
		for _, dim := range shape.Dimensions[1:] {
			size *= dim
		}
	}
	return size
}

// TrailingShape returns the shape of one row: the dtype and the dimensions after axis 0.
func TrailingShape(shape shapes.Shape) shapes.Shape {
	if shape.Rank() == 0 {
		return shape
	}
	return shapes.Make(shape.DType, shape.Dimensions[1:]...)
}

// Concat concatenates the tensors along axis 0. Rank-0 tensors are stacked into a `[len(parts)]`
// tensor instead. All parts must share dtype and trailing dimensions.
func Concat(parts []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensorutil.Concat(): no tensors to concatenate")
	}
	first := parts[0].Shape()
	trailing := TrailingShape(first)
	total := 0
	for ii, part := range parts {
		shape := part.Shape()
		if shape.Rank() != first.Rank() || !TrailingShape(shape).Equal(trailing) {
			return nil, errors.Wrapf(ErrShapeMismatch, "tensor #%d shaped %s, but tensor #0 is shaped %s", ii, shape, first)
		}
		total += NumRows(part)
	}
	var dims []int
	if first.Rank() == 0 {
		dims = []int{total}
	} else {
		dims = slices.Clone(first.Dimensions)
		dims[0] = total
	}
	out := tensors.FromShape(shapes.Make(first.DType, dims...))
	err := out.MutableFlatData(func(dstAny any) {
		dst := reflect.ValueOf(dstAny)
		pos := 0
		for _, part := range parts {
			part.MustConstFlatData(func(srcAny any) {
				src := reflect.ValueOf(srcAny)
				pos += reflect.Copy(dst.Slice(pos, dst.Len()), src)
			})
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "tensorutil.Concat()")
	}
	return out, nil
}

// Stack stacks tensors of identical shape into one tensor with a new leading axis of
// dimension len(parts).
func Stack(parts []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensorutil.Stack(): no tensors to stack")
	}
	first := parts[0].Shape()
	for ii, part := range parts {
		if !part.Shape().Equal(first) {
			return nil, errors.Wrapf(ErrShapeMismatch, "tensor #%d shaped %s, but tensor #0 is shaped %s", ii, part.Shape(), first)
		}
	}
	out := tensors.FromShape(shapes.Make(first.DType, append([]int{len(parts)}, first.Dimensions...)...))
	err := out.MutableFlatData(func(dstAny any) {
		dst := reflect.ValueOf(dstAny)
		pos := 0
		for _, part := range parts {
			part.MustConstFlatData(func(srcAny any) {
				pos += reflect.Copy(dst.Slice(pos, dst.Len()), reflect.ValueOf(srcAny))
			})
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "tensorutil.Stack()")
	}
	return out, nil
}

// Reshape returns a copy of t with the given dimensions, which must hold the same number of
// elements.
func Reshape(t *tensors.Tensor, dims ...int) (*tensors.Tensor, error) {
	shape := shapes.Make(t.DType(), dims...)
	if shape.Size() != t.Size() {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot reshape %s to %s", t.Shape(), shape)
	}
	out := tensors.FromShape(shape)
	err := out.MutableFlatData(func(dstAny any) {
		t.MustConstFlatData(func(srcAny any) {
			reflect.Copy(reflect.ValueOf(dstAny), reflect.ValueOf(srcAny))
		})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "tensorutil.Reshape()")
	}
	return out, nil
}

// Split cuts t along axis 0 into consecutive chunks with the given number of rows each.
// The lengths must add up to the number of rows of t.
func Split(t *tensors.Tensor, lengths []int) ([]*tensors.Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot split scalar tensor %s", t.Shape())
	}
	total := 0
	for _, l := range lengths {
		if l < 0 {
			return nil, errors.Errorf("negative length %d in %v", l, lengths)
		}
		total += l
	}
	if total != NumRows(t) {
		return nil, errors.Wrapf(ErrShapeMismatch, "lengths %v add up to %d, but tensor shaped %s has %d rows",
			lengths, total, t.Shape(), NumRows(t))
	}
	parts := make([]*tensors.Tensor, 0, len(lengths))
	start := 0
	for _, l := range lengths {
		part, err := SliceRows(t, start, start+l)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		start += l
	}
	return parts, nil
}

// SliceRows returns a copy of rows [from, to) of t.
func SliceRows(t *tensors.Tensor, from, to int) (*tensors.Tensor, error) {
	rows := make([]int, 0, to-from)
	for ii := from; ii < to; ii++ {
		rows = append(rows, ii)
	}
	return TakeRows(t, rows)
}

// TakeRows returns a new tensor with the rows of t (axis 0) selected by rows, in that order.
func TakeRows(t *tensors.Tensor, rows []int) (*tensors.Tensor, error) {
	shape := t.Shape()
	if shape.Rank() == 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot take rows of scalar tensor %s", shape)
	}
	numRows := shape.Dimensions[0]
	for _, row := range rows {
		if row < 0 || row >= numRows {
			return nil, errors.Errorf("row %d out of range for tensor shaped %s", row, shape)
		}
	}
	dims := slices.Clone(shape.Dimensions)
	dims[0] = len(rows)
	out := tensors.FromShape(shapes.Make(shape.DType, dims...))
	size := rowSize(shape)
	err := out.MutableFlatData(func(dstAny any) {
		dst := reflect.ValueOf(dstAny)
		t.MustConstFlatData(func(srcAny any) {
			src := reflect.ValueOf(srcAny)
			for ii, row := range rows {
				reflect.Copy(dst.Slice(ii*size, (ii+1)*size), src.Slice(row*size, (row+1)*size))
			}
		})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "tensorutil.TakeRows()")
	}
	return out, nil
}

// Clone returns a host copy of t.
func Clone(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t.Rank() == 0 {
		out := tensors.FromShape(t.Shape())
		err := out.MutableFlatData(func(dstAny any) {
			t.MustConstFlatData(func(srcAny any) {
				reflect.Copy(reflect.ValueOf(dstAny), reflect.ValueOf(srcAny))
			})
		})
		return out, err
	}
	rows := make([]int, t.Shape().Dimensions[0])
	for ii := range rows {
		rows[ii] = ii
	}
	return TakeRows(t, rows)
}

// Ints returns the values of an integer tensor as a flat []int.
func Ints(t *tensors.Tensor) ([]int, error) {
	if !t.DType().IsInt() {
		return nil, errors.Errorf("expected an integer tensor, got dtype %s (shape %s)", t.DType(), t.Shape())
	}
	var values []int
	err := t.ConstFlatData(func(flat any) {
		switch flat := flat.(type) {
		case []int8:
			values = toInts(flat)
		case []int16:
			values = toInts(flat)
		case []int32:
			values = toInts(flat)
		case []int64:
			values = toInts(flat)
		case []uint8:
			values = toInts(flat)
		case []uint16:
			values = toInts(flat)
		case []uint32:
			values = toInts(flat)
		case []uint64:
			values = toInts(flat)
		}
	})
	if err != nil {
		return nil, err
	}
	if values == nil && t.Size() > 0 {
		return nil, errors.Errorf("unsupported integer dtype %s", t.DType())
	}
	return values, nil
}

func toInts[T constraints.Integer](flat []T) []int {
	values := make([]int, len(flat))
	for ii, v := range flat {
		values[ii] = int(v)
	}
	return values
}

func fromInts[T constraints.Integer](values []int) []T {
	out := make([]T, len(values))
	for ii, v := range values {
		out[ii] = T(v)
	}
	return out
}

// IntRange returns the smallest and largest int values the integer dtype can hold. ok is false
// for non-integer dtypes.
func IntRange(dtype dtypes.DType) (lo, hi int64, ok bool) {
	switch dtype {
	case dtypes.Int8:
		return math.MinInt8, math.MaxInt8, true
	case dtypes.Int16:
		return math.MinInt16, math.MaxInt16, true
	case dtypes.Int32:
		return math.MinInt32, math.MaxInt32, true
	case dtypes.Int64:
		return math.MinInt64, math.MaxInt64, true
	case dtypes.Uint8:
		return 0, math.MaxUint8, true
	case dtypes.Uint16:
		return 0, math.MaxUint16, true
	case dtypes.Uint32:
		return 0, math.MaxUint32, true
	case dtypes.Uint64:
		return 0, math.MaxInt64, true
	}
	return 0, 0, false
}

// FromInts creates a tensor of the given integer dtype and dimensions holding values.
//
// Values that don't fit dtype are not wrapped around: an error wrapping ErrOverflow is returned.
func FromInts(values []int, dtype dtypes.DType, dims ...int) (*tensors.Tensor, error) {
	lo, hi, ok := IntRange(dtype)
	if !ok {
		return nil, errors.Errorf("dtype %s is not an integer dtype", dtype)
	}
	for ii, v := range values {
		if int64(v) < lo || int64(v) > hi {
			return nil, errors.Wrapf(ErrOverflow, "value #%d (%d) doesn't fit %s, valid range is [%d, %d]",
				ii, v, dtype, lo, hi)
		}
	}
	switch dtype {
	case dtypes.Int8:
		return tensors.FromFlatDataAndDimensions(fromInts[int8](values), dims...), nil
	case dtypes.Int16:
		return tensors.FromFlatDataAndDimensions(fromInts[int16](values), dims...), nil
	case dtypes.Int32:
		return tensors.FromFlatDataAndDimensions(fromInts[int32](values), dims...), nil
	case dtypes.Int64:
		return tensors.FromFlatDataAndDimensions(fromInts[int64](values), dims...), nil
	case dtypes.Uint8:
		return tensors.FromFlatDataAndDimensions(fromInts[uint8](values), dims...), nil
	case dtypes.Uint16:
		return tensors.FromFlatDataAndDimensions(fromInts[uint16](values), dims...), nil
	case dtypes.Uint32:
		return tensors.FromFlatDataAndDimensions(fromInts[uint32](values), dims...), nil
	case dtypes.Uint64:
		return tensors.FromFlatDataAndDimensions(fromInts[uint64](values), dims...), nil
	}
	return nil, errors.Errorf("dtype %s is not an integer dtype", dtype)
}

// Full creates a tensor of the given dtype and dimensions with every element set to value.
// Bool tensors are set to value != 0.
func Full(dtype dtypes.DType, value float64, dims ...int) (*tensors.Tensor, error) {
	t := tensors.FromShape(shapes.Make(dtype, dims...))
	var unsupported bool
	err := t.MutableFlatData(func(flat any) {
		switch flat := flat.(type) {
		case []float32:
			fill(flat, float32(value))
		case []float64:
			fill(flat, value)
		case []float16.Float16:
			fill(flat, float16.Fromfloat32(float32(value)))
		case []int8:
			fill(flat, int8(value))
		case []int16:
			fill(flat, int16(value))
		case []int32:
			fill(flat, int32(value))
		case []int64:
			fill(flat, int64(value))
		case []uint8:
			fill(flat, uint8(value))
		case []uint16:
			fill(flat, uint16(value))
		case []uint32:
			fill(flat, uint32(value))
		case []uint64:
			fill(flat, uint64(value))
		case []bool:
			fill(flat, value != 0)
		default:
			unsupported = true
		}
	})
	if err != nil {
		return nil, err
	}
	if unsupported {
		return nil, errors.Errorf("tensorutil.Full(): dtype %s not supported", dtype)
	}
	return t, nil
}

func fill[T any](flat []T, value T) {
	for ii := range flat {
		flat[ii] = value
	}
}

// Floats returns the values of a float or integer tensor converted to float64.
func Floats(t *tensors.Tensor) ([]float64, error) {
	var values []float64
	err := t.ConstFlatData(func(flat any) {
		switch flat := flat.(type) {
		case []float32:
			values = toFloats(flat)
		case []float64:
			values = slices.Clone(flat)
		case []float16.Float16:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		case []int32:
			values = toFloats(flat)
		case []int64:
			values = toFloats(flat)
		case []int8:
			values = toFloats(flat)
		case []int16:
			values = toFloats(flat)
		case []uint8:
			values = toFloats(flat)
		case []uint16:
			values = toFloats(flat)
		case []uint32:
			values = toFloats(flat)
		case []uint64:
			values = toFloats(flat)
		}
	})
	if err != nil {
		return nil, err
	}
	if values == nil && t.Size() > 0 {
		return nil, errors.Errorf("tensorutil.Floats(): dtype %s not supported", t.DType())
	}
	return values, nil
}

func toFloats[T constraints.Integer | constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}

// FromFloats creates a tensor of the given float dtype and dimensions holding values.
func FromFloats(values []float64, dtype dtypes.DType, dims ...int) (*tensors.Tensor, error) {
	switch dtype {
	case dtypes.Float64:
		return tensors.FromFlatDataAndDimensions(slices.Clone(values), dims...), nil
	case dtypes.Float32:
		flat := make([]float32, len(values))
		for ii, v := range values {
			flat[ii] = float32(v)
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	case dtypes.Float16:
		flat := make([]float16.Float16, len(values))
		for ii, v := range values {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	}
	return nil, errors.Errorf("tensorutil.FromFloats(): dtype %s is not a float dtype", dtype)
}
