// Package scaler implements invertible scaling of regression targets.
//
// StandardScaler standardizes each target column. ExtensiveScaler removes a baseline that is
// additive over the atoms of each sample (one fitted coefficient per atomic number) and divides
// by the residual standard deviation. EnergyForceScaler applies the same transformation to
// energies and, without the baseline, to the forces of each atom, so that both inverse
// transformations stay consistent.
//
// Targets are shaped `[num_samples]` or `[num_samples, num_targets]`. Per-sample arrays
// (atomic numbers, forces) are given as one tensor per sample, as returned by graphdata.List.Get.
//
// Scalers are saved as a JSON document with the fields "class_name", "module_name", "config" and
// "weights", plus a companion ".npz" file with the same weights.
package scaler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

var (
	// ErrNotFitted is returned when transforming with a scaler that was neither fitted nor loaded.
	ErrNotFitted = errors.New("scaler not fitted")

	// ErrMissingInput is returned when a required input is nil.
	ErrMissingInput = errors.New("missing scaler input")

	// ErrIncompatible is returned when the data or a saved scaler doesn't match the scaler: different
	// class, weights inconsistent with the configuration, or atomic numbers never seen during fit.
	ErrIncompatible = errors.New("incompatible scaler")
)

// ModuleName is stored in the "module_name" field of saved scalers.
const ModuleName = "github.com/yuchanpei/gcnn/pkg/scaler"

// document is the JSON layout of a saved scaler.
type document struct {
	ClassName  string                     `json:"class_name"`
	ModuleName string                     `json:"module_name"`
	Config     json.RawMessage            `json:"config"`
	Weights    map[string]json.RawMessage `json:"weights"`
}

// persistent is implemented by the scalers of this package.
type persistent interface {
	className() string
	config() any
	// weights returns the fitted arrays, or nil if not fitted.
	weights() map[string]*tensors.Tensor
	// restore sets the configuration and fitted state from a saved document. weights holds the
	// JSON encoded arrays, or nil if there are none.
	restore(config json.RawMessage, weights map[string]json.RawMessage) error
}

// basePath strips the extension from filePath.
func basePath(filePath string) string {
	return strings.TrimSuffix(filePath, filepath.Ext(filePath))
}

// save writes s to "<base>.json" and, if fitted, its weights to "<base>.npz".
func save(s persistent, filePath string) error {
	base := basePath(filePath)
	doc := document{ClassName: s.className(), ModuleName: ModuleName}
	var err error
	doc.Config, err = json.Marshal(s.config())
	if err != nil {
		return errors.Wrapf(err, "encoding %s config", s.className())
	}
	weights := s.weights()
	if weights != nil {
		doc.Weights = make(map[string]json.RawMessage, len(weights))
		for name, t := range weights {
			doc.Weights[name], err = json.Marshal(t.Value())
			if err != nil {
				return errors.Wrapf(err, "encoding %s weight %q", s.className(), name)
			}
		}
		if err = numpy.ToNpzFile(weights, base+".npz"); err != nil {
			return errors.WithMessagef(err, "saving %s weights", s.className())
		}
	}
	contents, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", s.className())
	}
	if err = os.WriteFile(base+".json", contents, 0o644); err != nil {
		return errors.Wrapf(err, "saving %s", s.className())
	}
	klog.V(1).Infof("saved %s to %q", s.className(), base+".json")
	return nil
}

// load reads the JSON document at filePath into s. If the document has no weights but a
// companion ".npz" exists, the weights are read from it.
func load(s persistent, filePath string) error {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "loading %s", s.className())
	}
	var doc document
	if err = json.Unmarshal(contents, &doc); err != nil {
		return errors.Wrapf(err, "parsing %s from %q", s.className(), filePath)
	}
	if doc.ClassName != s.className() {
		return errors.Wrapf(ErrIncompatible, "%q holds a %q, cannot load it into a %s",
			filePath, doc.ClassName, s.className())
	}
	if doc.ModuleName != ModuleName {
		klog.Warningf("scaler %q was saved by module %q", filePath, doc.ModuleName)
	}
	weights := doc.Weights
	if weights == nil {
		npzPath := basePath(filePath) + ".npz"
		if _, err := os.Stat(npzPath); err == nil {
			weights, err = npzWeights(npzPath)
			if err != nil {
				return err
			}
		}
	}
	if err = s.restore(doc.Config, weights); err != nil {
		return errors.WithMessagef(err, "loading %s from %q", s.className(), filePath)
	}
	return nil
}

// npzWeights reads the arrays of an ".npz" file, encoded as JSON values.
func npzWeights(filePath string) (map[string]json.RawMessage, error) {
	arrays, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading scaler weights from %q", filePath)
	}
	weights := make(map[string]json.RawMessage, len(arrays))
	for name, t := range arrays {
		weights[name], err = json.Marshal(t.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "encoding weight %q of %q", name, filePath)
		}
	}
	return weights, nil
}

// decodeWeight decodes the JSON weight name into value.
func decodeWeight(weights map[string]json.RawMessage, name string, value any) error {
	raw, found := weights[name]
	if !found {
		return errors.Wrapf(ErrIncompatible, "weight %q missing", name)
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return errors.Wrapf(ErrIncompatible, "weight %q: %v", name, err)
	}
	return nil
}

// decodeVector decodes the weight name as a vector of the given length.
func decodeVector(weights map[string]json.RawMessage, name string, length int) ([]float64, error) {
	var values []float64
	if err := decodeWeight(weights, name, &values); err != nil {
		return nil, err
	}
	if len(values) != length {
		return nil, errors.Wrapf(ErrIncompatible, "weight %q has length %d, expected %d", name, len(values), length)
	}
	return values, nil
}

// targetsMatrix converts targets shaped `[num_samples]` or `[num_samples, num_targets]` to a matrix.
func targetsMatrix(name string, y *tensors.Tensor) (*mat.Dense, error) {
	if y == nil {
		return nil, errors.Wrapf(ErrMissingInput, "%q is nil", name)
	}
	if y.Rank() != 1 && y.Rank() != 2 {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch,
			"%q must be shaped [num_samples] or [num_samples, num_targets], got %s", name, y.Shape())
	}
	rows, cols := y.Shape().Dimensions[0], 1
	if y.Rank() == 2 {
		cols = y.Shape().Dimensions[1]
	}
	if rows == 0 || cols == 0 {
		return nil, errors.Wrapf(tensorutil.ErrShapeMismatch, "%q is empty, shaped %s", name, y.Shape())
	}
	values, err := tensorutil.Floats(y)
	if err != nil {
		return nil, errors.WithMessagef(err, "%q", name)
	}
	return mat.NewDense(rows, cols, values), nil
}

// resultDType is the dtype of transformed values: the input dtype if it is a float, Float64 otherwise.
func resultDType(dtype dtypes.DType) dtypes.DType {
	if dtype.IsFloat() {
		return dtype
	}
	return dtypes.Float64
}

// toTensor converts m back to a tensor with the dimensions of like.
func toTensor(m mat.Matrix, like *tensors.Tensor) (*tensors.Tensor, error) {
	rows, cols := m.Dims()
	values := make([]float64, 0, rows*cols)
	for row := range rows {
		for col := range cols {
			values = append(values, m.At(row, col))
		}
	}
	return tensorutil.FromFloats(values, resultDType(like.DType()), like.Shape().Dimensions...)
}

// vectorTensor returns values as a Float64 tensor shaped `[len(values)]`.
func vectorTensor(values []float64) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(append([]float64(nil), values...), len(values))
}
