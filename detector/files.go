package detector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cryptoscan/extract"
	"cryptoscan/models"
	"cryptoscan/utils"
)

// FileError records a file that could not be scanned during a directory walk.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// DirectoryResult is the outcome of DetectDirectory.
type DirectoryResult struct {
	Files   int
	Matches []models.Match
	Errors  []FileError
}

// ProgressFunc is called before each file of a directory scan; current counts
// from 1 to total.
type ProgressFunc func(current, total int, path string)

// DetectFile scans one local file. HTML files are reduced to their inline
// scripts first; anything else is treated as script text.
func (d *Detector) DetectFile(path string) ([]models.Match, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", models.ErrIO, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory, not a file", models.ErrNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrIO, path, err)
	}
	content := strings.ToValidUTF8(string(data), "")
	d.logger.Debug("file read", "path", path, "bytes", len(data))

	code := content
	if utils.IsHTMLFile(path) {
		code = extract.ExtractScripts(content)
		d.logger.Debug("inline scripts extracted", "path", path, "bytes", len(code))
	}

	matches, _ := d.Detect(code, path)
	return matches, nil
}

// DetectDirectory scans every .js/.mjs/.cjs/.html/.htm file under dir, one at
// a time in lexical walk order. Files that fail are recorded in the result and
// skipped.
func (d *Detector) DetectDirectory(dir string, progress ProgressFunc) (*DirectoryResult, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %s", models.ErrNotFound, dir)
	}

	result := &DirectoryResult{}
	var files []string
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warn("skipping unreadable path", "path", path, "error", err)
			result.Errors = append(result.Errors, FileError{Path: path, Err: fmt.Errorf("%w: %v", models.ErrIO, err)})
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !utils.IsScanFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", models.ErrIO, dir, err)
	}

	if len(files) == 0 {
		d.logger.Warn("no scannable files found", "dir", dir)
		return nil, fmt.Errorf("%w: no %s files under %s", models.ErrNoData, strings.Join(utils.ScanExtensions, " "), dir)
	}

	d.logger.Info("directory scan started", "dir", dir, "files", len(files))
	result.Files = len(files)
	for i, path := range files {
		if progress != nil {
			progress(i+1, len(files), path)
		}
		matches, err := d.DetectFile(path)
		if err != nil {
			d.logger.Warn("file scan failed", "path", path, "error", err)
			result.Errors = append(result.Errors, FileError{Path: path, Err: err})
			continue
		}
		result.Matches = append(result.Matches, matches...)
	}

	d.logger.Info("directory scan finished", "dir", dir, "files", len(files), "matches", len(result.Matches), "errors", len(result.Errors))
	return result, nil
}
