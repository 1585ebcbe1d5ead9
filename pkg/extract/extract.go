// Package extract unpacks downloaded build archives into the deployment
// tree. Extraction goes to a sibling temporary directory and the target is
// replaced by rename, so a concurrent reader of the deployment tree never
// observes a half-extracted state and the prior contents survive any failure.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Error taxonomy. Callers test with errors.Is.
var (
	// ErrCorruptArchive means the archive is unreadable, truncated, or
	// contains unsafe entries.
	ErrCorruptArchive = errors.New("extract: corrupt archive")

	// ErrFilesystem covers space, permission, and other local I/O
	// failures.
	ErrFilesystem = errors.New("extract: filesystem error")
)

// Options control the atomic swap.
type Options struct {
	// RetirePath, when non-empty, receives the prior targetDir contents by
	// rename instead of deletion, so the retention manager can prune them
	// later.
	RetirePath string
}

// Extract unpacks archivePath into targetDir. The archive format is chosen by
// file extension (.tar.gz, .tgz, .zip). On success targetDir contains exactly
// the archive contents; on failure targetDir is untouched.
func Extract(archivePath, targetDir string, opts Options) error {
	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: create parent directory: %v", ErrFilesystem, err)
	}

	tmpDir, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return fmt.Errorf("%w: create temp directory: %v", ErrFilesystem, err)
	}
	defer os.RemoveAll(tmpDir)

	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		err = extractTarGz(archivePath, tmpDir)
	case strings.HasSuffix(archivePath, ".zip"):
		err = extractZip(archivePath, tmpDir)
	default:
		return fmt.Errorf("%w: unsupported archive format %q", ErrCorruptArchive, filepath.Base(archivePath))
	}
	if err != nil {
		return err
	}

	return swap(tmpDir, targetDir, opts.RetirePath)
}

// swap atomically replaces targetDir with newDir. The prior tree is either
// renamed to retirePath or removed after the swap completes.
func swap(newDir, targetDir, retirePath string) error {
	var displaced string
	if _, err := os.Stat(targetDir); err == nil {
		displaced = retirePath
		if displaced == "" {
			displaced = targetDir + ".old"
		}
		if err := os.MkdirAll(filepath.Dir(displaced), 0o755); err != nil {
			return fmt.Errorf("%w: prepare retire directory: %v", ErrFilesystem, err)
		}
		os.RemoveAll(displaced)
		if err := os.Rename(targetDir, displaced); err != nil {
			return fmt.Errorf("%w: displace prior tree: %v", ErrFilesystem, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat target: %v", ErrFilesystem, err)
	}

	if err := os.Rename(newDir, targetDir); err != nil {
		// Put the prior tree back; the deployment must stay consistent.
		if displaced != "" {
			if restoreErr := os.Rename(displaced, targetDir); restoreErr != nil {
				return fmt.Errorf("%w: swap failed (%v) and restore failed: %v", ErrFilesystem, err, restoreErr)
			}
		}
		return fmt.Errorf("%w: swap target: %v", ErrFilesystem, err)
	}

	if displaced != "" && retirePath == "" {
		os.RemoveAll(displaced)
	}
	return nil
}

func extractTarGz(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrFilesystem, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read tar entry: %v", ErrCorruptArchive, err)
		}

		path, err := securePath(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("%w: create directory: %v", ErrFilesystem, err)
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, header.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Symlinks and special files are not part of build
			// archives; skip them.
		}
	}
}

func extractZip(archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		path, err := securePath(dir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("%w: create directory: %v", ErrFilesystem, err)
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("%w: open zip entry %s: %v", ErrCorruptArchive, file.Name, err)
		}
		err = writeFile(path, rc, file.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// securePath joins an archive entry name under dir, rejecting traversal
// outside the extraction root.
func securePath(dir, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes extraction root", ErrCorruptArchive, name)
	}
	return filepath.Join(dir, clean), nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrFilesystem, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrFilesystem, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		// A short read here is a truncated archive, not a local disk
		// problem.
		return fmt.Errorf("%w: write %s: %v", ErrCorruptArchive, filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close file: %v", ErrFilesystem, err)
	}
	return nil
}
