package scaler

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// DefaultAlpha is the default ridge regularization of ExtensiveScaler.
const DefaultAlpha = 1e-9

// ExtensiveScaler scales targets that are extensive in the atoms of each sample, like the total
// energy of a molecule.
//
// Fit solves a ridge regression of the targets on the number of atoms of each atomic number, so
// that the baseline of a sample is the sum of one coefficient per atom. Transform subtracts the
// baseline and divides by the standard deviation of the residuals of the fit.
//
// The baseline depends on the composition, so Transform and InverseTransform must be given the
// same atomic numbers.
type ExtensiveScaler struct {
	// Alpha is the ridge regularization. Default is DefaultAlpha.
	Alpha float64 `json:"alpha"`

	// FitIntercept adds a constant term to the baseline. Default is false.
	FitIntercept bool `json:"fit_intercept"`

	// StandardizeScale divides by the standard deviation of the residuals. If false the scale is 1.
	// Default is true.
	StandardizeScale bool `json:"standardize_scale"`

	// elements are the sorted atomic numbers seen during fit, the columns of coef.
	elements []int
	// coef is shaped [num_targets][num_elements].
	coef      [][]float64
	intercept []float64
	scale     []float64
}

var _ persistent = (*ExtensiveScaler)(nil)

// NewExtensiveScaler returns an unfitted ExtensiveScaler with the default configuration.
func NewExtensiveScaler() *ExtensiveScaler {
	return &ExtensiveScaler{Alpha: DefaultAlpha, StandardizeScale: true}
}

// Fitted returns whether the scaler was fitted or loaded.
func (s *ExtensiveScaler) Fitted() bool { return s.scale != nil }

// Elements returns the atomic numbers seen during fit, in increasing order.
func (s *ExtensiveScaler) Elements() []int { return s.elements }

// Scale returns the scale of each target.
func (s *ExtensiveScaler) Scale() []float64 { return s.scale }

// Coefficients returns the fitted contribution of one atom of each of Elements, per target.
func (s *ExtensiveScaler) Coefficients() [][]float64 { return s.coef }

// compositions reads the atomic numbers of each sample.
func compositions(atomicNumbers []*tensors.Tensor) ([][]int, error) {
	if atomicNumbers == nil {
		return nil, errors.Wrap(ErrMissingInput, "atomicNumbers is nil")
	}
	samples := make([][]int, len(atomicNumbers))
	for ii, t := range atomicNumbers {
		if t == nil {
			return nil, errors.Wrapf(ErrMissingInput, "atomic numbers of sample #%d is nil", ii)
		}
		if !t.DType().IsInt() || t.Rank() > 1 {
			return nil, errors.Wrapf(tensorutil.ErrShapeMismatch,
				"atomic numbers of sample #%d must be an integer vector, got %s", ii, t.Shape())
		}
		var err error
		samples[ii], err = tensorutil.Ints(t)
		if err != nil {
			return nil, errors.WithMessagef(err, "atomic numbers of sample #%d", ii)
		}
	}
	return samples, nil
}

// counts returns the matrix `[num_samples, len(elements)]` with the number of atoms of each
// element per sample.
func counts(samples [][]int, elements []int) (*mat.Dense, error) {
	m := mat.NewDense(len(samples), len(elements), nil)
	for row, sample := range samples {
		for _, z := range sample {
			col, found := slices.BinarySearch(elements, z)
			if !found {
				return nil, errors.Wrapf(ErrIncompatible, "sample #%d has atomic number %d, not seen during fit (fitted to %v)",
					row, z, elements)
			}
			m.Set(row, col, m.At(row, col)+1)
		}
	}
	return m, nil
}

// Fit fits the baseline coefficients and the scale to the targets y, shaped `[num_samples]` or
// `[num_samples, num_targets]`, given the atomic numbers of each sample.
func (s *ExtensiveScaler) Fit(y *tensors.Tensor, atomicNumbers []*tensors.Tensor) error {
	targets, err := targetsMatrix("y", y)
	if err != nil {
		return err
	}
	samples, err := compositions(atomicNumbers)
	if err != nil {
		return err
	}
	numSamples, numTargets := targets.Dims()
	if len(samples) != numSamples {
		return errors.Wrapf(tensorutil.ErrShapeMismatch, "y has %d samples, but atomicNumbers has %d",
			numSamples, len(samples))
	}
	var elements []int
	for _, sample := range samples {
		elements = append(elements, sample...)
	}
	slices.Sort(elements)
	elements = slices.Compact(elements)
	if len(elements) == 0 {
		return errors.Wrap(tensorutil.ErrShapeMismatch, "no atoms in atomicNumbers")
	}
	x, err := counts(samples, elements)
	if err != nil {
		return err
	}

	// Center for the intercept: the ridge penalty doesn't apply to it.
	xMean := make([]float64, len(elements))
	yMean := make([]float64, numTargets)
	if s.FitIntercept {
		column := make([]float64, numSamples)
		for col := range elements {
			xMean[col] = stat.Mean(mat.Col(column, col, x), nil)
		}
		for col := range numTargets {
			yMean[col] = stat.Mean(mat.Col(column, col, targets), nil)
		}
	}
	xc := mat.DenseCopyOf(x)
	xc.Apply(func(_, col int, v float64) float64 { return v - xMean[col] }, xc)
	yc := mat.DenseCopyOf(targets)
	yc.Apply(func(_, col int, v float64) float64 { return v - yMean[col] }, yc)

	// Solve (XᵀX + αI) W = XᵀY.
	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for ii := range elements {
		gram.Set(ii, ii, gram.At(ii, ii)+s.Alpha)
	}
	var moments mat.Dense
	moments.Mul(xc.T(), yc)
	var w mat.Dense
	if err := w.Solve(&gram, &moments); err != nil {
		var condition mat.Condition
		if !errors.As(err, &condition) {
			return errors.Wrap(err, "ExtensiveScaler.Fit(): solving least squares")
		}
		klog.Warningf("ExtensiveScaler.Fit(): ill-conditioned least squares (%v), consider a larger Alpha", err)
	}

	s.elements = elements
	s.coef = make([][]float64, numTargets)
	s.intercept = make([]float64, numTargets)
	for target := range numTargets {
		s.coef[target] = make([]float64, len(elements))
		for col := range elements {
			s.coef[target][col] = w.At(col, target)
		}
		if s.FitIntercept {
			s.intercept[target] = yMean[target] - dot(xMean, s.coef[target])
		}
	}

	s.scale = make([]float64, numTargets)
	baseline := s.baseline(x)
	residuals := make([]float64, numSamples)
	for target := range numTargets {
		s.scale[target] = 1
		if !s.StandardizeScale {
			continue
		}
		for row := range numSamples {
			residuals[row] = targets.At(row, target) - baseline.At(row, target)
		}
		s.scale[target] = nonZeroScale(math.Sqrt(popVariance(residuals)))
	}
	klog.V(1).Infof("ExtensiveScaler.Fit(): %d samples, elements %v, scale %v", numSamples, elements, s.scale)
	return nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for ii, v := range a {
		sum += v * b[ii]
	}
	return sum
}

func popVariance(values []float64) float64 {
	_, variance := stat.PopMeanVariance(values, nil)
	return variance
}

// baseline returns the `[num_samples, num_targets]` baseline for the element counts x.
func (s *ExtensiveScaler) baseline(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(x, mat.NewDense(len(s.coef), len(s.elements), flatten(s.coef)).T())
	out.Apply(func(_, col int, v float64) float64 { return v + s.intercept[col] }, &out)
	return &out
}

func flatten(rows [][]float64) []float64 {
	var flat []float64
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat
}

// Predict returns the baseline of each sample, shaped `[num_samples, num_targets]` (Float64).
func (s *ExtensiveScaler) Predict(atomicNumbers []*tensors.Tensor) (*tensors.Tensor, error) {
	baseline, err := s.predict(atomicNumbers)
	if err != nil {
		return nil, err
	}
	rows, cols := baseline.Dims()
	return tensors.FromFlatDataAndDimensions(mat.DenseCopyOf(baseline).RawMatrix().Data, rows, cols), nil
}

func (s *ExtensiveScaler) predict(atomicNumbers []*tensors.Tensor) (*mat.Dense, error) {
	if !s.Fitted() {
		return nil, errors.Wrap(ErrNotFitted, "ExtensiveScaler")
	}
	samples, err := compositions(atomicNumbers)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Wrap(tensorutil.ErrShapeMismatch, "no samples in atomicNumbers")
	}
	x, err := counts(samples, s.elements)
	if err != nil {
		return nil, err
	}
	return s.baseline(x), nil
}

// Transform returns (y - baseline) / scale.
func (s *ExtensiveScaler) Transform(y *tensors.Tensor, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, error) {
	return s.apply(y, atomicNumbers, false)
}

// InverseTransform returns y * scale + baseline, reverting Transform given the same atomic numbers.
func (s *ExtensiveScaler) InverseTransform(y *tensors.Tensor, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, error) {
	return s.apply(y, atomicNumbers, true)
}

// FitTransform fits the scaler and returns y transformed.
func (s *ExtensiveScaler) FitTransform(y *tensors.Tensor, atomicNumbers []*tensors.Tensor) (*tensors.Tensor, error) {
	if err := s.Fit(y, atomicNumbers); err != nil {
		return nil, err
	}
	return s.Transform(y, atomicNumbers)
}

func (s *ExtensiveScaler) apply(y *tensors.Tensor, atomicNumbers []*tensors.Tensor, inverse bool) (*tensors.Tensor, error) {
	if !s.Fitted() {
		return nil, errors.Wrap(ErrNotFitted, "ExtensiveScaler")
	}
	targets, err := targetsMatrix("y", y)
	if err != nil {
		return nil, err
	}
	numSamples, numTargets := targets.Dims()
	if numTargets != len(s.scale) {
		return nil, errors.Wrapf(ErrIncompatible, "scaler fitted to %d targets, got y shaped %s", len(s.scale), y.Shape())
	}
	baseline, err := s.predict(atomicNumbers)
	if err != nil {
		return nil, err
	}
	if rows, _ := baseline.Dims(); rows != numSamples {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch, "y has %d samples, but atomicNumbers has %d", numSamples, rows)
	}
	targets.Apply(func(row, col int, v float64) float64 {
		if inverse {
			return v*s.scale[col] + baseline.At(row, col)
		}
		return (v - baseline.At(row, col)) / s.scale[col]
	}, targets)
	return toTensor(targets, y)
}

// Save writes the scaler to filePath (its extension is replaced by ".json") and the fitted
// weights to the companion ".npz" file.
func (s *ExtensiveScaler) Save(filePath string) error {
	return save(s, filePath)
}

// Load reads a scaler saved by ExtensiveScaler.Save.
func (s *ExtensiveScaler) Load(filePath string) error {
	return load(s, filePath)
}

func (s *ExtensiveScaler) className() string { return "ExtensiveScaler" }

func (s *ExtensiveScaler) config() any { return s }

func (s *ExtensiveScaler) weights() map[string]*tensors.Tensor {
	if !s.Fitted() {
		return nil
	}
	elements := make([]int64, len(s.elements))
	for ii, z := range s.elements {
		elements[ii] = int64(z)
	}
	return map[string]*tensors.Tensor{
		"elements":  tensors.FromFlatDataAndDimensions(elements, len(elements)),
		"coef":      tensors.FromFlatDataAndDimensions(flatten(s.coef), len(s.coef), len(s.elements)),
		"intercept": vectorTensor(s.intercept),
		"scale":     vectorTensor(s.scale),
	}
}

func (s *ExtensiveScaler) restore(config json.RawMessage, weights map[string]json.RawMessage) error {
	if err := json.Unmarshal(config, s); err != nil {
		return errors.Wrapf(ErrIncompatible, "config: %v", err)
	}
	if weights == nil {
		s.elements, s.coef, s.intercept, s.scale = nil, nil, nil, nil
		return nil
	}
	if err := decodeWeight(weights, "elements", &s.elements); err != nil {
		return err
	}
	if !slices.IsSorted(s.elements) {
		return errors.Wrapf(ErrIncompatible, "weight \"elements\" must be sorted, got %v", s.elements)
	}
	if err := decodeWeight(weights, "scale", &s.scale); err != nil {
		return err
	}
	numTargets := len(s.scale)
	if err := decodeWeight(weights, "coef", &s.coef); err != nil {
		return err
	}
	if len(s.coef) != numTargets {
		return errors.Wrapf(ErrIncompatible, "weight \"coef\" has %d rows, but there are %d targets", len(s.coef), numTargets)
	}
	for ii, row := range s.coef {
		if len(row) != len(s.elements) {
			return errors.Wrapf(ErrIncompatible, "weight \"coef\" row #%d has %d columns, but there are %d elements",
				ii, len(row), len(s.elements))
		}
	}
	var err error
	s.intercept, err = decodeVector(weights, "intercept", numTargets)
	return err
}
