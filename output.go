package jpegconv

import (
	"path/filepath"
	"strings"
)

// DefaultOutputDirName is the folder created next to converted inputs.
const DefaultOutputDirName = "converted"

// OutputTarget is where a candidate is written.
type OutputTarget struct {
	Dir      string
	FileName string
}

// Path returns the full output path.
func (t OutputTarget) Path() string {
	return filepath.Join(t.Dir, t.FileName)
}

// DefaultOutputDir returns the output directory used without an explicit one:
// "converted" next to a file input, or inside a directory input.
func DefaultOutputDir(inputPath string, kind InputKind) string {
	if kind == InputDir {
		return filepath.Join(inputPath, DefaultOutputDirName)
	}
	return filepath.Join(filepath.Dir(inputPath), DefaultOutputDirName)
}

// ResolveOutput derives the output target of a candidate. An explicit
// directory always takes precedence over the derived default.
func ResolveOutput(candidatePath, inputPath string, kind InputKind, explicitDir string) OutputTarget {
	dir := explicitDir
	if dir == "" {
		dir = DefaultOutputDir(inputPath, kind)
	}
	base := filepath.Base(candidatePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return OutputTarget{Dir: dir, FileName: stem + ".jpg"}
}
