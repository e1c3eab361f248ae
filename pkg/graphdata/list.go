package graphdata

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/internal/workerspool"
	"k8s.io/klog/v2"
)

// List is an ordered collection of graph records.
//
// Records are held by reference: Select and Slice return views that share records with the
// original list, so a property set on a record through a view is visible through the original.
// Packing (see package disjoint) always copies.
//
// List is not safe for concurrent mutation.
type List struct {
	records []*Record
	logger  klog.Logger
}

// New creates a List with length empty records.
func New(length int) *List {
	l := &List{logger: klog.Background().WithName("graphdata")}
	l.records = make([]*Record, length)
	for ii := range l.records {
		l.records[ii] = NewRecord()
	}
	return l
}

// FromRecords creates a List holding the given records. The records are shared, not copied, but
// the list keeps its own slice of them.
func FromRecords(records []*Record) *List {
	return &List{records: slices.Clone(records), logger: klog.Background().WithName("graphdata")}
}

// WithLogger sets the logger used by the list and returns the list itself.
// Warnings are logged at verbosity 0, progress at 1 and per-record details at 2.
func (l *List) WithLogger(logger klog.Logger) *List {
	l.logger = logger
	return l
}

// Logger returns the logger of the list.
func (l *List) Logger() klog.Logger {
	return l.logger
}

// Len returns the number of records.
func (l *List) Len() int {
	return len(l.records)
}

// At returns the record at position ii.
func (l *List) At(ii int) *Record {
	return l.records[ii]
}

// Records returns the underlying records slice.
func (l *List) Records() []*Record {
	return l.records
}

// Append adds records at the end of the list.
func (l *List) Append(records ...*Record) {
	l.records = append(l.records, records...)
}

// Empty resets the list to length empty records.
func (l *List) Empty(length int) error {
	if length < 0 {
		return errors.Errorf("graphdata.List.Empty(): length must be >= 0, got %d", length)
	}
	l.records = make([]*Record, length)
	for ii := range l.records {
		l.records[ii] = NewRecord()
	}
	return nil
}

// Set assigns values[ii] to property name of record ii.
//
// If the list is empty it is first initialized with len(values) empty records. Otherwise
// len(values) must match the list length. A nil values is a no-op.
func (l *List) Set(name string, values []*tensors.Tensor) error {
	if values == nil {
		return nil
	}
	if len(l.records) == 0 {
		if err := l.Empty(len(values)); err != nil {
			return err
		}
	}
	if len(values) != len(l.records) {
		return errors.Wrapf(ErrLengthMismatch, "property %q: got %d values for a list of %d records",
			name, len(values), len(l.records))
	}
	for ii, t := range values {
		l.records[ii].SetTensor(name, t)
	}
	return nil
}

// SetValues is like Set, but accepts any values accepted by Record.Set.
func (l *List) SetValues(name string, values []any) error {
	if values == nil {
		return nil
	}
	if len(l.records) == 0 {
		if err := l.Empty(len(values)); err != nil {
			return err
		}
	}
	if len(values) != len(l.records) {
		return errors.Wrapf(ErrLengthMismatch, "property %q: got %d values for a list of %d records",
			name, len(values), len(l.records))
	}
	for ii, v := range values {
		if err := l.records[ii].Set(name, v); err != nil {
			return errors.WithMessagef(err, "record #%d", ii)
		}
	}
	return nil
}

// Get returns property name of every record, with nil for records where it is not set.
//
// If the property is not set in any record it returns nil and logs it. If it is set only in
// some records it logs a warning: callers that need every record to have it should Clean first.
func (l *List) Get(name string) []*tensors.Tensor {
	values := make([]*tensors.Tensor, len(l.records))
	var numSet int
	for ii, r := range l.records {
		values[ii] = r.Get(name)
		if values[ii] != nil {
			numSet++
		}
	}
	if numSet == 0 {
		l.logger.V(1).Info("property not set on any record", "property", name, "records", len(l.records))
		return nil
	}
	if numSet < len(l.records) {
		l.logger.Info("warning: property only partially available", "property", name,
			"set", numSet, "records", len(l.records))
	}
	return values
}

// Select returns a view with the records at the given positions, in the given order.
func (l *List) Select(indices ...int) (*List, error) {
	records := make([]*Record, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(l.records) {
			return nil, errors.Errorf("graphdata.List.Select(): index %d out of range for %d records", idx, len(l.records))
		}
		records = append(records, l.records[idx])
	}
	return &List{records: records, logger: l.logger}, nil
}

// Slice returns a view of the records in [from, to).
func (l *List) Slice(from, to int) *List {
	return &List{records: slices.Clone(l.records[from:to]), logger: l.logger}
}

// IsValid reports whether the tensor qualifies as a property value when cleaning: set, numeric
// (not bool), and with at least one row if it has a leading axis.
func IsValid(t *tensors.Tensor) bool {
	if t == nil || !t.Ok() {
		return false
	}
	dtype := t.DType()
	if dtype == dtypes.Bool || !(dtype.IsInt() || dtype.IsFloat() || dtype.IsComplex()) {
		return false
	}
	if t.Rank() > 0 && t.Shape().Dimensions[0] == 0 {
		return false
	}
	return true
}

// Clean removes every record for which any of the required properties is not valid (see IsValid).
//
// It returns the removed indices in descending order. Only this list changes: views and lists
// sharing its records keep theirs.
func (l *List) Clean(required ...string) []int {
	invalid := roaring.New()
	for _, name := range required {
		var count int
		for ii, r := range l.records {
			if !IsValid(r.Get(name)) {
				invalid.Add(uint32(ii))
				count++
				l.logger.V(2).Info("invalid record", "index", ii, "property", name)
			}
		}
		if count > 0 {
			l.logger.Info("property missing or empty in records", "property", name, "count", count)
		}
	}
	if invalid.IsEmpty() {
		return []int{}
	}
	removed := make([]int, 0, invalid.GetCardinality())
	for it := invalid.ReverseIterator(); it.HasNext(); {
		removed = append(removed, int(it.Next()))
	}
	kept := make([]*Record, 0, len(l.records)-len(removed))
	for ii, r := range l.records {
		if !invalid.Contains(uint32(ii)) {
			kept = append(kept, r)
		}
	}
	l.records = kept
	l.logger.Info("removed invalid records", "count", len(removed), "remaining", len(l.records))
	return removed
}

// Map applies fn to every record in order. It stops at the first error.
func (l *List) Map(fn func(r *Record) error) error {
	for ii, r := range l.records {
		if err := fn(r); err != nil {
			return errors.WithMessagef(err, "record #%d", ii)
		}
	}
	return nil
}

// ParallelMap is like Map, but transforms up to parallelism records at the same time (all CPUs
// if parallelism is -1, none if 0). fn must only touch the record it is given.
//
// Every record is transformed even if some fail, and the error of the first failing record is
// returned.
func (l *List) ParallelMap(fn func(r *Record) error, parallelism int) error {
	if parallelism < 0 {
		parallelism = workerspool.New().MaxParallelism()
	}
	pool := workerspool.New().SetMaxParallelism(parallelism)
	return pool.ForEach(len(l.records), func(ii int) error {
		if err := fn(l.records[ii]); err != nil {
			return errors.WithMessagef(err, "record #%d", ii)
		}
		return nil
	})
}
