package pooling

import (
	"github.com/pkg/errors"
)

// ErrUnknownMethod is returned by ParseMethod for names other than "segment_sum" or "segment_mean".
var ErrUnknownMethod = errors.New("unknown pooling method")

// Method of reduction used when pooling.
type Method int

const (
	// MethodSegmentSum adds the pooled rows.
	MethodSegmentSum Method = iota

	// MethodSegmentMean averages the pooled rows. Targets with nothing pooled get zeros.
	MethodSegmentMean
)

//go:generate go tool enumer -type=Method -trimprefix=Method -transform=snake -values -text -output=gen_method_enumer.go method.go

// ParseMethod returns the method with the given name, or an error wrapping ErrUnknownMethod.
func ParseMethod(name string) (Method, error) {
	m, err := MethodString(name)
	if err != nil {
		return 0, errors.Wrapf(ErrUnknownMethod, "%q, valid values are %q", name, MethodStrings())
	}
	return m, nil
}
