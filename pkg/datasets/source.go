package datasets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
)

// Source makes the raw files of a dataset available on the local disk.
type Source interface {
	// Locate returns the directory holding the raw files, fetching them into dataDir if needed.
	Locate(ctx context.Context, dataDir string) (string, error)
}

// LocalDir is a Source of files already on disk. A relative path is taken relative to dataDir.
type LocalDir string

// Locate implements Source.
func (dir LocalDir) Locate(_ context.Context, dataDir string) (string, error) {
	path := ReplaceTildeInDir(string(dir))
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	exists, err := FileExists(path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Errorf("dataset directory %q doesn't exist", path)
	}
	return path, nil
}

// Archive format of a downloaded file.
type Archive int

const (
	// ArchiveNone is a file used as is.
	ArchiveNone Archive = iota
	// ArchiveTar is a tar file, optionally compressed (".tar.gz", ".tgz", ".tar.bz2").
	ArchiveTar
	// ArchiveZip is a zip file.
	ArchiveZip
)

var archiveNames = []string{"none", "tar", "zip"}

func (a Archive) String() string {
	if a < 0 || int(a) >= len(archiveNames) {
		return fmt.Sprintf("Archive(%d)", a)
	}
	return archiveNames[a]
}

// URLSource downloads a file, validates its checksum and extracts it.
type URLSource struct {
	// URL to download from.
	URL string

	// FileName of the downloaded file, relative to the data directory.
	FileName string

	// SHA256 of the downloaded file, in hex. If empty no validation is done.
	SHA256 string

	// Archive format of the file.
	Archive Archive

	// Directory, relative to the data directory, where the archive extracts the files. If it
	// already exists nothing is downloaded. If empty, the data directory itself is used.
	Directory string

	// ShowProgressBar while downloading.
	ShowProgressBar bool
}

// Locate implements Source.
func (s *URLSource) Locate(ctx context.Context, dataDir string) (string, error) {
	if s.FileName == "" {
		return "", errors.Errorf("URLSource for %q has no FileName", s.URL)
	}
	target := filepath.Join(dataDir, s.Directory)
	if s.Directory != "" {
		exists, err := FileExists(target)
		if err != nil {
			return "", err
		}
		if exists {
			return target, nil
		}
	}
	filePath := filepath.Join(dataDir, s.FileName)
	if err := DownloadIfMissing(ctx, s.URL, filePath, s.SHA256, s.ShowProgressBar); err != nil {
		return "", err
	}
	var err error
	switch s.Archive {
	case ArchiveNone:
	case ArchiveTar:
		err = Untar(ctx, dataDir, filePath)
	case ArchiveZip:
		err = Unzip(ctx, dataDir, filePath)
	default:
		err = errors.Errorf("unknown archive format %s", s.Archive)
	}
	if err != nil {
		return "", err
	}
	exists, err := FileExists(target)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Errorf("downloaded %q from %q, but didn't get %q", filePath, s.URL, target)
	}
	return target, nil
}
