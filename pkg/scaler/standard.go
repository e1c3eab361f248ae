package scaler

import (
	"encoding/json"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler removes the mean and divides by the (population) standard deviation of each
// target column. Columns with zero variance get a scale of 1.
type StandardScaler struct {
	// WithMean centers the values before scaling. Default is true.
	WithMean bool `json:"with_mean"`

	// WithStd divides the values by their standard deviation. Default is true.
	WithStd bool `json:"with_std"`

	mean, variance, scale []float64
	numSamples            int
}

var _ persistent = (*StandardScaler)(nil)

// NewStandardScaler returns an unfitted StandardScaler that centers and scales.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{WithMean: true, WithStd: true}
}

// Fitted returns whether the scaler was fitted or loaded.
func (s *StandardScaler) Fitted() bool { return s.scale != nil }

// Mean returns the fitted mean of each column.
func (s *StandardScaler) Mean() []float64 { return s.mean }

// Scale returns the fitted scale of each column.
func (s *StandardScaler) Scale() []float64 { return s.scale }

// Fit computes the mean and scale of each column of x, shaped `[num_samples]` or
// `[num_samples, num_targets]`.
func (s *StandardScaler) Fit(x *tensors.Tensor) error {
	m, err := targetsMatrix("x", x)
	if err != nil {
		return err
	}
	rows, cols := m.Dims()
	s.mean = make([]float64, cols)
	s.variance = make([]float64, cols)
	s.scale = make([]float64, cols)
	column := make([]float64, rows)
	for col := range cols {
		mat.Col(column, col, m)
		s.mean[col], s.variance[col] = stat.PopMeanVariance(column, nil)
		s.scale[col] = 1
		if s.WithStd {
			s.scale[col] = nonZeroScale(math.Sqrt(s.variance[col]))
		}
	}
	s.numSamples = rows
	return nil
}

// nonZeroScale replaces scales too close to 0 by 1.
func nonZeroScale(scale float64) float64 {
	if scale < 10*math.SmallestNonzeroFloat64 || math.IsNaN(scale) {
		return 1
	}
	return scale
}

// Transform standardizes x.
func (s *StandardScaler) Transform(x *tensors.Tensor) (*tensors.Tensor, error) {
	return s.apply(x, false)
}

// InverseTransform reverts Transform.
func (s *StandardScaler) InverseTransform(x *tensors.Tensor) (*tensors.Tensor, error) {
	return s.apply(x, true)
}

// FitTransform fits the scaler to x and returns x transformed.
func (s *StandardScaler) FitTransform(x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}

func (s *StandardScaler) apply(x *tensors.Tensor, inverse bool) (*tensors.Tensor, error) {
	if !s.Fitted() {
		return nil, errors.Wrap(ErrNotFitted, "StandardScaler")
	}
	m, err := targetsMatrix("x", x)
	if err != nil {
		return nil, err
	}
	_, cols := m.Dims()
	if cols != len(s.scale) {
		return nil, errors.Wrapf(ErrIncompatible, "StandardScaler fitted to %d columns, got x shaped %s", len(s.scale), x.Shape())
	}
	m.Apply(func(_, col int, v float64) float64 {
		mean := 0.0
		if s.WithMean {
			mean = s.mean[col]
		}
		if inverse {
			return v*s.scale[col] + mean
		}
		return (v - mean) / s.scale[col]
	}, m)
	return toTensor(m, x)
}

// Save writes the scaler to filePath (its extension is replaced by ".json") and the fitted
// weights to the companion ".npz" file.
func (s *StandardScaler) Save(filePath string) error {
	return save(s, filePath)
}

// Load reads a scaler saved by StandardScaler.Save.
func (s *StandardScaler) Load(filePath string) error {
	return load(s, filePath)
}

func (s *StandardScaler) className() string { return "StandardScaler" }

func (s *StandardScaler) config() any { return s }

func (s *StandardScaler) weights() map[string]*tensors.Tensor {
	if !s.Fitted() {
		return nil
	}
	return map[string]*tensors.Tensor{
		"mean":           vectorTensor(s.mean),
		"var":            vectorTensor(s.variance),
		"scale":          vectorTensor(s.scale),
		"n_samples_seen": tensors.FromScalar(int64(s.numSamples)),
		"n_features_in":  tensors.FromScalar(int64(len(s.scale))),
	}
}

func (s *StandardScaler) restore(config json.RawMessage, weights map[string]json.RawMessage) error {
	if err := json.Unmarshal(config, s); err != nil {
		return errors.Wrapf(ErrIncompatible, "config: %v", err)
	}
	if weights == nil {
		s.mean, s.variance, s.scale = nil, nil, nil
		return nil
	}
	var numFeatures int
	if err := decodeWeight(weights, "n_features_in", &numFeatures); err != nil {
		return err
	}
	var err error
	if s.mean, err = decodeVector(weights, "mean", numFeatures); err != nil {
		return err
	}
	if s.variance, err = decodeVector(weights, "var", numFeatures); err != nil {
		return err
	}
	if s.scale, err = decodeVector(weights, "scale", numFeatures); err != nil {
		return err
	}
	if err = decodeWeight(weights, "n_samples_seen", &s.numSamples); err != nil {
		return err
	}
	return nil
}
