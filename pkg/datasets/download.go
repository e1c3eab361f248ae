package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// FileExists returns whether the file or directory exists.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking %q", path)
}

// ReplaceTildeInDir replaces a leading "~" by the user's home directory.
func ReplaceTildeInDir(dir string) string {
	if len(dir) == 0 || dir[0] != '~' {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		klog.Warningf("cannot expand %q: %v", dir, err)
		return dir
	}
	return filepath.Join(homeDir, dir[1:])
}

// ValidateChecksum verifies that the sha256 of the file at path is checkHash. If it isn't, the
// file is removed and an error is returned.
func ValidateChecksum(path, checkHash string) error {
	hasher := sha256.New()
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "validating checksum of %q", path)
	}
	defer func() { _ = f.Close() }()
	if _, err = io.Copy(hasher, f); err != nil {
		return errors.Wrapf(err, "validating checksum of %q", path)
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	if fileHash != strings.ToLower(checkHash) {
		err = errors.Errorf("file %q sha256 hash is %q, but expected %q, deleting file", path, fileHash, checkHash)
		if e2 := os.Remove(path); e2 != nil {
			klog.Errorf("failed to remove %q, which failed the checksum test, please remove it: %v", path, e2)
		}
		return err
	}
	return nil
}

// copyBytesBar is an io.Writer that displays a progress bar of the bytes written.
type copyBytesBar struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	amountWritten                 int64
	barUnit, numUnits, addedUnits int64
}

func newCopyBytesBar(w io.Writer, contentLength int64) *copyBytesBar {
	bar := &copyBytesBar{w: w, barUnit: 1}
	for contentLength > bar.barUnit*1024*1024 {
		bar.barUnit *= 1024
	}
	bar.numUnits = (contentLength + bar.barUnit - 1) / bar.barUnit
	bar.bar = progressbar.NewOptions64(bar.numUnits,
		progressbar.OptionSetDescription(humanize.IBytes(uint64(contentLength))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return bar
}

// Write implements io.Writer.
func (bar *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = bar.w.Write(p)
	bar.amountWritten += int64(n)
	toUnits := bar.amountWritten / bar.barUnit
	if toUnits > bar.addedUnits {
		_ = bar.bar.Add64(toUnits - bar.addedUnits)
		bar.addedUnits = toUnits
	}
	return
}

// copyWithProgressBar is like io.Copy, but displays a progress bar. It requires the length of
// the contents.
func copyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64) (n int64, err error) {
	bar := newCopyBytesBar(dst, contentLength)
	n, err = io.Copy(bar, src)
	if bar.addedUnits < bar.numUnits {
		_ = bar.bar.Add64(bar.numUnits - bar.addedUnits)
	}
	_ = bar.bar.Close()
	fmt.Println()
	return
}

// Download fetches url into filePath, creating its directory if needed. The progress bar is
// only displayed if showProgressBar is set and the server reports the content length.
func Download(ctx context.Context, url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath = ReplaceTildeInDir(filePath)
	if err = os.MkdirAll(filepath.Dir(filePath), 0o777); err != nil {
		return 0, errors.Wrapf(err, "failed to create the directory for %q", filePath)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid url %q", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed creating file %q", filePath)
	}
	if showProgressBar && resp.ContentLength > 0 {
		size, err = copyWithProgressBar(file, resp.Body, resp.ContentLength)
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(filePath)
		return 0, errors.Wrapf(err, "downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed closing %q", filePath)
	}
	klog.V(1).Infof("downloaded %s from %q to %q", humanize.IBytes(uint64(size)), url, filePath)
	return size, nil
}

// DownloadIfMissing downloads url into filePath, if it doesn't exist yet. If checkHash is not
// empty, the sha256 of the file must match it.
func DownloadIfMissing(ctx context.Context, url, filePath, checkHash string, showProgressBar bool) error {
	filePath = ReplaceTildeInDir(filePath)
	exists, err := FileExists(filePath)
	if err != nil {
		return err
	}
	if !exists {
		klog.Infof("downloading %s ...", url)
		if _, err = Download(ctx, url, filePath, showProgressBar); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return ValidateChecksum(filePath, checkHash)
}

// Untar extracts tarFile into baseDir, using the decompression implied by its suffix:
// ".gz"/".tgz" for gzip, ".bz2" for bzip2.
func Untar(ctx context.Context, baseDir, tarFile string) error {
	compressionFlag := ""
	if strings.HasSuffix(tarFile, ".gz") || strings.HasSuffix(tarFile, ".tgz") {
		compressionFlag = "z"
	} else if strings.HasSuffix(tarFile, ".bz2") {
		compressionFlag = "j"
	}
	cmd := exec.CommandContext(ctx, "tar", fmt.Sprintf("x%sf", compressionFlag), tarFile)
	cmd.Dir = baseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "failed to run %q: %s", cmd, output)
	}
	return nil
}

// Unzip extracts zipFile into baseDir.
func Unzip(ctx context.Context, baseDir, zipFile string) error {
	cmd := exec.CommandContext(ctx, "unzip", "-u", "-o", zipFile)
	cmd.Dir = baseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "failed to run %q: %s", cmd, output)
	}
	return nil
}
