package graphdata

import (
	"math/rand/v2"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/tensorutil"
)

// Fold holds the record indices of one train/test split, each sorted ascending.
type Fold struct {
	Train, Test []int
}

func bitmapInts(bm *roaring.Bitmap) []int {
	values := make([]int, 0, bm.GetCardinality())
	for it := bm.Iterator(); it.HasNext(); {
		values = append(values, int(it.Next()))
	}
	return values
}

// KFoldIndices splits [0, n) into k folds. Fold i tests on the i-th chunk and trains on the rest.
// If shuffle is set, indices are permuted with the given seed before chunking.
func KFoldIndices(n, k int, shuffle bool, seed uint64) ([]Fold, error) {
	if k < 2 || k > n {
		return nil, errors.Errorf("KFoldIndices(): number of folds must be in [2, %d], got %d", n, k)
	}
	order := make([]int, n)
	for ii := range order {
		order[ii] = ii
	}
	if shuffle {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	all := roaring.New()
	all.AddRange(0, uint64(n))
	folds := make([]Fold, k)
	start := 0
	for ii := range k {
		size := n / k
		if ii < n%k {
			size++
		}
		test := roaring.New()
		for _, idx := range order[start : start+size] {
			test.Add(uint32(idx))
		}
		start += size
		folds[ii] = Fold{Train: bitmapInts(roaring.AndNot(all, test)), Test: bitmapInts(test)}
	}
	return folds, nil
}

// SplitIndices returns the records assigned to split number split by per-record membership
// properties: a record is in the train (test) set if its trainProperty (testProperty) tensor
// contains the value split.
func (l *List) SplitIndices(trainProperty, testProperty string, split int) (Fold, error) {
	collect := func(name string) ([]int, error) {
		bm := roaring.New()
		for ii, r := range l.records {
			t := r.Get(name)
			if t == nil {
				continue
			}
			values, err := tensorutil.Ints(t)
			if err != nil {
				return nil, errors.WithMessagef(err, "record #%d, property %q", ii, name)
			}
			if slices.Contains(values, split) {
				bm.Add(uint32(ii))
			}
		}
		return bitmapInts(bm), nil
	}
	train, err := collect(trainProperty)
	if err != nil {
		return Fold{}, err
	}
	test, err := collect(testProperty)
	if err != nil {
		return Fold{}, err
	}
	if len(train) == 0 && len(test) == 0 {
		return Fold{}, errors.Wrapf(ErrPropertyMissing, "no record belongs to split %d of %q/%q", split, trainProperty, testProperty)
	}
	return Fold{Train: train, Test: test}, nil
}
