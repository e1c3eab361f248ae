package datasets

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

// MD17 reads a molecular dynamics trajectory of the MD17 collection (http://quantum-machine.org/gdml/).
//
// File is an ".npz" with the arrays "R" (coordinates, `[num_frames, num_atoms, 3]`), "E"
// (energies, `[num_frames]` or `[num_frames, 1]`), "F" (forces, `[num_frames, num_atoms, 3]`)
// and "z" (atomic numbers, `[num_atoms]`). Each frame becomes one record with properties
// "node_coordinates", "graph_energy" (`[1]`), "node_forces" and "node_number" (int32).
type MD17 struct {
	File string
}

// NewMD17Dataset returns the MD17 trajectory with the given name, like "aspirin_dft".
func NewMD17Dataset(trajectory string, config Config) *Dataset {
	fileName := trajectory + ".npz"
	source := &URLSource{
		URL:             fmt.Sprintf("http://quantum-machine.org/gdml/data/npz/%s", fileName),
		FileName:        fileName,
		Archive:         ArchiveNone,
		ShowProgressBar: true,
	}
	return New("MD17_"+trajectory, source, &MD17{File: fileName}, config)
}

// frames splits t along axis 0, and reshapes each frame to dims (or the trailing dimensions of t
// if dims is empty).
func frames(t *tensors.Tensor, dims ...int) ([]*tensors.Tensor, error) {
	numFrames := tensorutil.NumRows(t)
	lengths := make([]int, numFrames)
	for ii := range lengths {
		lengths[ii] = 1
	}
	parts, err := tensorutil.Split(t, lengths)
	if err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		dims = t.Shape().Dimensions[1:]
	}
	for ii, part := range parts {
		if parts[ii], err = tensorutil.Reshape(part, dims...); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// Materialize implements Materializer.
func (md *MD17) Materialize(dir string) (*graphdata.List, error) {
	filePath := filepath.Join(dir, md.File)
	arrays, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading MD17 trajectory")
	}
	for _, key := range []string{"R", "E", "F", "z"} {
		if arrays[key] == nil {
			return nil, errors.Wrapf(graphdata.ErrPropertyMissing, "%q has no array %q", filePath, key)
		}
	}
	coordinates, forces, energies, z := arrays["R"], arrays["F"], arrays["E"], arrays["z"]
	if coordinates.Rank() != 3 || !slices.Equal(coordinates.Shape().Dimensions, forces.Shape().Dimensions) {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch, "%q: R shaped %s and F shaped %s must be [num_frames, num_atoms, 3]",
			filePath, coordinates.Shape(), forces.Shape())
	}
	numFrames, numAtoms := coordinates.Shape().Dimensions[0], coordinates.Shape().Dimensions[1]
	if tensorutil.NumRows(energies) != numFrames || energies.Size() != numFrames {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch, "%q: E shaped %s, but there are %d frames",
			filePath, energies.Shape(), numFrames)
	}
	if z.Rank() != 1 || z.Shape().Dimensions[0] != numAtoms || !z.DType().IsInt() {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch, "%q: z shaped %s, but there are %d atoms",
			filePath, z.Shape(), numAtoms)
	}
	atomicNumbers, err := tensorutil.Ints(z)
	if err != nil {
		return nil, err
	}

	list := graphdata.New(numFrames)
	for _, prop := range []struct {
		name string
		t    *tensors.Tensor
		dims []int
	}{
		{"node_coordinates", coordinates, nil},
		{"node_forces", forces, nil},
		{"graph_energy", energies, []int{1}},
	} {
		values, err := frames(prop.t, prop.dims...)
		if err != nil {
			return nil, errors.WithMessagef(err, "%q: %s", filePath, prop.name)
		}
		if err = list.Set(prop.name, values); err != nil {
			return nil, err
		}
	}
	for ii := range numFrames {
		numbers, err := tensorutil.FromInts(atomicNumbers, dtypes.Int32, numAtoms)
		if err != nil {
			return nil, err
		}
		list.At(ii).SetTensor("node_number", numbers)
	}
	list.Logger().V(1).Info("read MD17 trajectory", "file", filePath, "frames", numFrames, "atoms", numAtoms)
	return list, nil
}
