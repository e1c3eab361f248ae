package graphdata

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AnyDim in an InputSpec shape matches any dimension.
const AnyDim = -1

// InputSpec describes one model input built from a record property.
//
// Shape is the expected shape of the property in one record. For ragged inputs it includes the
// ragged axis 0 (usually AnyDim), e.g. `[-1, 3]` for node coordinates. DType, if set, must be
// the name of a dtype (e.g. "float32", "int64").
type InputSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Ragged bool   `yaml:"ragged"`
	Shape  []int  `yaml:"shape" validate:"dive,min=-1"`
	DType  string `yaml:"dtype" validate:"omitempty,dtype"`
}

var specValidator = newSpecValidator()

func newSpecValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("dtype", func(fl validator.FieldLevel) bool {
		_, err := ParseDType(fl.Field().String())
		return err == nil
	})
	if err != nil {
		panic(err)
	}
	return v
}

// ParseDType converts a lower-case dtype name like "float32" to a dtypes.DType.
func ParseDType(name string) (dtypes.DType, error) {
	for _, dtype := range []dtypes.DType{dtypes.Bool, dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64, dtypes.Float16, dtypes.Float32, dtypes.Float64} {
		if strings.EqualFold(dtype.String(), name) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Validate checks the struct tags of the InputSpec.
func (s InputSpec) Validate() error {
	if err := specValidator.Struct(s); err != nil {
		return errors.Wrapf(err, "invalid input spec %q", s.Name)
	}
	return nil
}

// Matches reports whether shape (the shape of one record's property) is compatible with s.
func (s InputSpec) Matches(shape shapes.Shape) bool {
	if s.Shape != nil {
		if shape.Rank() != len(s.Shape) {
			return false
		}
		for axis, dim := range s.Shape {
			if dim != AnyDim && dim != shape.Dimensions[axis] {
				return false
			}
		}
	}
	if s.DType != "" {
		dtype, err := ParseDType(s.DType)
		if err != nil || dtype != shape.DType {
			return false
		}
	}
	return true
}

func (s InputSpec) String() string {
	dims := make([]string, len(s.Shape))
	for ii, dim := range s.Shape {
		if dim == AnyDim {
			dims[ii] = "?"
		} else {
			dims[ii] = fmt.Sprint(dim)
		}
	}
	return fmt.Sprintf("%s(ragged=%v, shape=[%s], dtype=%q)", s.Name, s.Ragged, strings.Join(dims, " "), s.DType)
}

// LoadInputSpecs reads a YAML list of input specs and validates them.
func LoadInputSpecs(filePath string) ([]InputSpec, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read input specs from %q", filePath)
	}
	var specs []InputSpec
	if err := yaml.Unmarshal(contents, &specs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse input specs in %q", filePath)
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "in %q", filePath)
		}
	}
	return specs, nil
}

// AssertValidModelInput checks every record against the specs.
//
// Records missing a property are reported as partial availability (logged, and counted in the
// returned error). Records whose property shape doesn't match are reported with both shapes.
// It returns nil if everything matches.
func (l *List) AssertValidModelInput(specs []InputSpec) error {
	var problems []string
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		var missing, mismatched int
		for ii, r := range l.records {
			t := r.Get(s.Name)
			if t == nil {
				missing++
				continue
			}
			if !s.Matches(t.Shape()) {
				if mismatched == 0 {
					problems = append(problems, fmt.Sprintf("%q: record #%d has shape %s, but input requires %s",
						s.Name, ii, t.Shape(), s))
				}
				mismatched++
			}
		}
		if missing > 0 {
			l.logger.Info("warning: model input property not set on all records", "property", s.Name,
				"missing", missing, "records", len(l.records))
			problems = append(problems, fmt.Sprintf("%q: missing in %d of %d records", s.Name, missing, len(l.records)))
		}
		if mismatched > 1 {
			problems = append(problems, fmt.Sprintf("%q: %d records in total with mismatched shape", s.Name, mismatched))
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid model input:\n\t%s", strings.Join(problems, "\n\t"))
	}
	return nil
}
