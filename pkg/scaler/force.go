package scaler

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

// EnergyForceScaler scales energies and forces of molecules jointly.
//
// Energies are transformed as by ExtensiveScaler. Forces, one `[num_atoms, 3]` tensor per
// sample, are divided by the same scale, without a baseline since they are derivatives of the
// energy. Energies and forces must be in the same units.
//
// Every method requires all of y, forces and atomicNumbers, and returns ErrMissingInput if one
// is nil.
type EnergyForceScaler struct {
	ExtensiveScaler
}

var _ persistent = (*EnergyForceScaler)(nil)

// NewEnergyForceScaler returns an unfitted EnergyForceScaler with the default configuration.
func NewEnergyForceScaler() *EnergyForceScaler {
	return &EnergyForceScaler{ExtensiveScaler: *NewExtensiveScaler()}
}

func verifyInputs(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor) error {
	switch {
	case y == nil:
		return errors.Wrap(ErrMissingInput, "EnergyForceScaler requires \"y\", got nil")
	case forces == nil:
		return errors.Wrap(ErrMissingInput, "EnergyForceScaler requires \"forces\", got nil")
	case atomicNumbers == nil:
		return errors.Wrap(ErrMissingInput, "EnergyForceScaler requires \"atomicNumbers\", got nil")
	}
	if len(forces) != len(atomicNumbers) {
		return errors.Wrapf(tensorutil.ErrShapeMismatch, "got forces for %d samples, but atomic numbers for %d",
			len(forces), len(atomicNumbers))
	}
	return nil
}

// Fit fits the energy baseline and scale. forces are not used, but must be given.
func (s *EnergyForceScaler) Fit(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor) error {
	if err := verifyInputs(y, forces, atomicNumbers); err != nil {
		return err
	}
	return s.ExtensiveScaler.Fit(y, atomicNumbers)
}

// Transform returns the scaled energies and forces.
func (s *EnergyForceScaler) Transform(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, []*tensors.Tensor, error) {
	return s.apply(y, forces, atomicNumbers, false)
}

// InverseTransform reverts Transform, given the same atomic numbers.
func (s *EnergyForceScaler) InverseTransform(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, []*tensors.Tensor, error) {
	return s.apply(y, forces, atomicNumbers, true)
}

// FitTransform fits the scaler and returns the scaled energies and forces.
func (s *EnergyForceScaler) FitTransform(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, []*tensors.Tensor, error) {
	if err := s.Fit(y, forces, atomicNumbers); err != nil {
		return nil, nil, err
	}
	return s.Transform(y, forces, atomicNumbers)
}

func (s *EnergyForceScaler) apply(y *tensors.Tensor, forces, atomicNumbers []*tensors.Tensor, inverse bool) (*tensors.Tensor, []*tensors.Tensor, error) {
	if err := verifyInputs(y, forces, atomicNumbers); err != nil {
		return nil, nil, err
	}
	scaledY, err := s.ExtensiveScaler.apply(y, atomicNumbers, inverse)
	if err != nil {
		return nil, nil, err
	}
	scaledForces := make([]*tensors.Tensor, len(forces))
	for ii, f := range forces {
		scaledForces[ii], err = s.scaleForces(f, inverse)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "forces of sample #%d", ii)
		}
	}
	return scaledY, scaledForces, nil
}

// scaleForces divides (or multiplies if inverse) f by the scale. With a single target the scale
// applies to every component, otherwise the last axis of f must have one component per target.
func (s *EnergyForceScaler) scaleForces(f *tensors.Tensor, inverse bool) (*tensors.Tensor, error) {
	if f == nil {
		return nil, errors.Wrap(ErrMissingInput, "nil forces")
	}
	numTargets := len(s.scale)
	components := 1
	if f.Rank() > 0 {
		components = f.Shape().Dimensions[f.Rank()-1]
	}
	if numTargets != 1 && components != numTargets {
		return nil, errors.Wrapf(ErrIncompatible, "forces shaped %s cannot be scaled by %d targets", f.Shape(), numTargets)
	}
	values, err := tensorutil.Floats(f)
	if err != nil {
		return nil, err
	}
	for ii, v := range values {
		scale := s.scale[0]
		if numTargets > 1 {
			scale = s.scale[ii%components]
		}
		if inverse {
			values[ii] = v * scale
		} else {
			values[ii] = v / scale
		}
	}
	return tensorutil.FromFloats(values, resultDType(f.DType()), f.Shape().Dimensions...)
}

// Save writes the scaler to filePath (its extension is replaced by ".json") and the fitted
// weights to the companion ".npz" file.
func (s *EnergyForceScaler) Save(filePath string) error {
	return save(s, filePath)
}

// Load reads a scaler saved by EnergyForceScaler.Save.
func (s *EnergyForceScaler) Load(filePath string) error {
	return load(s, filePath)
}

func (s *EnergyForceScaler) className() string { return "EnergyForceScaler" }
