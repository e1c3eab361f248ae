package graphdata

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Save writes all records to filePath as a snappy compressed gob stream.
//
// The file is replaced only once it is completely written: if saving fails, a previous cache at
// filePath is left untouched.
func (l *List) Save(filePath string) error {
	if err := writeFileAtomically(filePath, l.Write); err != nil {
		return errors.WithMessagef(err, "saving dataset cache %q", filePath)
	}
	l.logger.V(1).Info("saved dataset cache", "path", filePath, "records", len(l.records))
	return nil
}

// writeFileAtomically calls write on a temporary file in the directory of filePath, and renames
// it to filePath if everything succeeded. Otherwise the temporary file is removed.
func writeFileAtomically(filePath string, write func(w io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", tmpPath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, filePath)
	}
	return nil
}

// Write encodes all records to w (snappy compressed gob).
func (l *List) Write(w io.Writer) error {
	sw := snappy.NewBufferedWriter(w)
	enc := gob.NewEncoder(sw)
	if err := enc.Encode(len(l.records)); err != nil {
		return errors.Wrap(err, "failed to encode number of records")
	}
	for ii, r := range l.records {
		names := r.Names()
		if err := enc.Encode(names); err != nil {
			return errors.Wrapf(err, "failed to encode property names of record #%d", ii)
		}
		for _, name := range names {
			if err := r.Get(name).GobSerialize(enc); err != nil {
				return errors.WithMessagef(err, "record #%d, property %q", ii, name)
			}
		}
	}
	return errors.Wrap(sw.Close(), "failed to flush compressed stream")
}

// Load reads a List saved with Save.
func Load(filePath string) (*List, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open dataset cache %q", filePath)
	}
	defer func() { _ = f.Close() }()
	l, err := Read(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading dataset cache %q", filePath)
	}
	l.logger.V(1).Info("loaded dataset cache", "path", filePath, "records", l.Len())
	return l, nil
}

// Read decodes a List written with Write.
func Read(r io.Reader) (*List, error) {
	dec := gob.NewDecoder(snappy.NewReader(r))
	var count int
	if err := dec.Decode(&count); err != nil {
		return nil, errors.Wrap(err, "failed to decode number of records")
	}
	if count < 0 {
		return nil, errors.Errorf("invalid number of records %d", count)
	}
	l := New(count)
	for ii := range count {
		var names []string
		if err := dec.Decode(&names); err != nil {
			return nil, errors.Wrapf(err, "failed to decode property names of record #%d", ii)
		}
		rec := l.records[ii]
		for _, name := range names {
			t, err := tensors.GobDeserialize(dec)
			if err != nil {
				return nil, errors.WithMessagef(err, "record #%d, property %q", ii, name)
			}
			rec.SetTensor(name, t)
		}
	}
	return l, nil
}
