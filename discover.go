package jpegconv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtensions is the directory-mode allow-list, lower case and without dot.
var DefaultExtensions = []string{
	"avif", "heic", "heif", "hif",
	"dng", "arw", "raw",
	"tif", "tiff", "exr",
	"png", "webp", "jpg", "jpeg",
}

// Candidate is one input file selected for conversion.
type Candidate struct {
	Path     string
	Ext      string // lower case, without dot
	Strategy Strategy
}

// InputKind tells whether the classified path was a file or a directory.
type InputKind int

const (
	// InputFile is a single named file.
	InputFile InputKind = iota
	// InputDir is a directory whose immediate children were scanned.
	InputDir
)

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func newCandidate(path string) Candidate {
	ext := extOf(path)
	return Candidate{Path: path, Ext: ext, Strategy: Dispatch(ext)}
}

// Classify resolves path into candidates. A single file is always a
// candidate regardless of its extension. A directory yields its immediate
// regular-file children whose extension is in allow (DefaultExtensions when
// empty), in directory enumeration order.
func Classify(path string, allow []string) ([]Candidate, InputKind, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, InputFile, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return nil, InputFile, fmt.Errorf("%w: %s: %v", ErrPathNotFound, path, err)
	}

	if !info.IsDir() {
		return []Candidate{newCandidate(path)}, InputFile, nil
	}

	if len(allow) == 0 {
		allow = DefaultExtensions
	}
	allowed := make(map[string]bool, len(allow))
	for _, e := range allow {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, InputDir, fmt.Errorf("%w: read dir %s: %v", ErrPathNotFound, path, err)
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || !allowed[extOf(e.Name())] {
			continue
		}
		if !e.Type().IsRegular() {
			// Follow symlinks, skip sockets, devices and links to directories.
			fi, err := os.Stat(filepath.Join(path, e.Name()))
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
		}
		out = append(out, newCandidate(filepath.Join(path, e.Name())))
	}
	return out, InputDir, nil
}
