package disjoint

import (
	"github.com/pkg/errors"
)

// ErrUnknownConvention is returned for an index convention other than "batch" or "sample".
var ErrUnknownConvention = errors.New("unknown index convention")

// IndexConvention tells how edge indices of a disjoint batch are numbered.
type IndexConvention int

const (
	// ConventionBatch means indices already point into the flat (concatenated) node tensor.
	ConventionBatch IndexConvention = iota

	// ConventionSample means indices are local to each graph, starting at 0, and need to be
	// shifted by the number of nodes of all the preceding graphs.
	ConventionSample
)

//go:generate go tool enumer -type=IndexConvention -trimprefix=Convention -transform=snake -values -text -output=gen_indexconvention_enumer.go convention.go

// ParseIndexConvention returns the convention named s ("batch" or "sample"), or an error wrapping
// ErrUnknownConvention.
func ParseIndexConvention(s string) (IndexConvention, error) {
	c, err := IndexConventionString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrUnknownConvention, "%q, valid values are %q", s, IndexConventionStrings())
	}
	return c, nil
}
