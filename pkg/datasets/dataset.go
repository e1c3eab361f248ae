// Package datasets loads graph datasets into graphdata.List.
//
// A Dataset combines a Source, that makes the raw files available locally (downloading and
// extracting them if needed), with a Materializer, that parses the files into records. The
// resulting list is cached in the data directory, so later loads skip both steps.
package datasets

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
	"k8s.io/klog/v2"
)

// CacheSuffix is appended to the dataset name to form the name of its cache file.
const CacheSuffix = ".gcnn"

// Materializer parses the raw files of a dataset into records.
type Materializer interface {
	Materialize(dir string) (*graphdata.List, error)
}

// Config of where and how to load datasets.
type Config struct {
	// DataDir is the base directory of all datasets. Each dataset uses a subdirectory named after it.
	// A leading "~" is replaced by the home directory.
	DataDir string `validate:"required"`

	// Reload ignores the cache and materializes the dataset again.
	Reload bool
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Dataset is a named graph dataset.
type Dataset struct {
	Name         string
	Source       Source
	Materializer Materializer
	Config       Config

	logger klog.Logger
}

// New creates a Dataset.
func New(name string, source Source, materializer Materializer, config Config) *Dataset {
	return &Dataset{
		Name:         name,
		Source:       source,
		Materializer: materializer,
		Config:       config,
		logger:       klog.Background().WithName("datasets").WithValues("dataset", name),
	}
}

// WithLogger sets the logger of the dataset, also used by the lists it loads.
func (ds *Dataset) WithLogger(logger klog.Logger) *Dataset {
	ds.logger = logger
	return ds
}

// Dir returns the directory of the dataset.
func (ds *Dataset) Dir() string {
	return filepath.Join(ReplaceTildeInDir(ds.Config.DataDir), ds.Name)
}

// CachePath returns the path of the dataset cache file.
func (ds *Dataset) CachePath() string {
	return filepath.Join(ds.Dir(), ds.Name+CacheSuffix)
}

// Load returns the records of the dataset, from the cache if available.
func (ds *Dataset) Load(ctx context.Context) (*graphdata.List, error) {
	if err := configValidator.Struct(ds.Config); err != nil {
		return nil, errors.Wrapf(err, "dataset %q: invalid config", ds.Name)
	}
	if ds.Source == nil || ds.Materializer == nil {
		return nil, errors.Errorf("dataset %q needs a Source and a Materializer", ds.Name)
	}
	dir := ds.Dir()
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, errors.Wrapf(err, "dataset %q: creating %q", ds.Name, dir)
	}
	cachePath := ds.CachePath()
	if !ds.Config.Reload {
		exists, err := FileExists(cachePath)
		if err != nil {
			return nil, err
		}
		if exists {
			list, err := graphdata.Load(cachePath)
			if err == nil {
				ds.logger.V(1).Info("loaded from cache", "path", cachePath, "records", list.Len())
				return list.WithLogger(ds.logger), nil
			}
			ds.logger.Info("ignoring invalid cache", "path", cachePath, "error", err)
		}
	}

	rawDir, err := ds.Source.Locate(ctx, dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.Name)
	}
	ds.logger.V(1).Info("materializing", "dir", rawDir)
	list, err := ds.Materializer.Materialize(rawDir)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q: reading %q", ds.Name, rawDir)
	}
	list.WithLogger(ds.logger)
	if err = list.Save(cachePath); err != nil {
		return nil, err
	}
	ds.logger.V(1).Info("materialized", "records", list.Len(), "cache", cachePath)
	return list, nil
}

// Clean removes the cache file of the dataset.
func (ds *Dataset) Clean() error {
	err := os.Remove(ds.CachePath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "dataset %q: removing cache", ds.Name)
	}
	return nil
}

// knownDatasets maps dataset names to their constructors.
var knownDatasets = map[string]func(config Config) *Dataset{}

func init() {
	for _, name := range []string{"MUTAG", "PROTEINS", "ENZYMES", "NCI1", "IMDB-BINARY"} {
		knownDatasets[name] = func(config Config) *Dataset { return NewTUDataset(name, config) }
	}
	for _, trajectory := range []string{"aspirin_dft", "benzene2017_dft", "ethanol_dft", "malonaldehyde_dft",
		"naphthalene_dft", "salicylic_dft", "toluene_dft", "uracil_dft"} {
		knownDatasets["MD17_"+trajectory] = func(config Config) *Dataset { return NewMD17Dataset(trajectory, config) }
	}
	knownDatasets["cora_lu"] = NewCoraDataset
}

// Known returns the dataset with the given name, or an error listing the known names.
func Known(name string, config Config) (*Dataset, error) {
	fn, found := knownDatasets[name]
	if !found {
		return nil, errors.Errorf("unknown dataset %q, known datasets are %q", name, KnownNames())
	}
	return fn(config), nil
}

// KnownNames returns the sorted names accepted by Known.
func KnownNames() []string {
	return slices.Sorted(maps.Keys(knownDatasets))
}
