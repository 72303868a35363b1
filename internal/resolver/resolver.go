package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// buildOutputDirs are directory names that indicate the launcher binary is
// running from a development build tree rather than an installed layout.
var buildOutputDirs = []string{"debug", "release"}

// ResolutionError reports that the backend entry file was not found in any
// candidate working directory.
type ResolutionError struct {
	Entry   string
	Checked []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("backend entry %s not found; checked: %s", e.Entry, strings.Join(e.Checked, ", "))
}

// Resolver locates the backend working directory. Candidates are tried in
// order: the packaged resource directory, a directory derived from the
// launcher's own executable path, and finally the current working directory.
// The first candidate containing the entry file wins.
type Resolver struct {
	Entry       string // backend entry file name, e.g. app.py
	ResourceDir string // packaged resource directory; empty to skip

	// overridable for tests
	executable func() (string, error)
	getwd      func() (string, error)
}

func New(entry, resourceDir string) *Resolver {
	return &Resolver{
		Entry:       entry,
		ResourceDir: resourceDir,
		executable:  os.Executable,
		getwd:       os.Getwd,
	}
}

// Resolve returns the working directory for the backend process.
func (r *Resolver) Resolve() (string, error) {
	var checked []string
	for _, dir := range r.candidates() {
		if dir == "" {
			continue
		}
		entry := filepath.Join(dir, r.Entry)
		if fileExists(entry) {
			return dir, nil
		}
		checked = append(checked, entry)
	}
	return "", &ResolutionError{Entry: r.Entry, Checked: checked}
}

func (r *Resolver) candidates() []string {
	out := make([]string, 0, 3)
	if r.ResourceDir != "" {
		out = append(out, r.ResourceDir)
	}
	if dir := r.fromExecutable(); dir != "" {
		out = append(out, dir)
	}
	if cwd, err := r.getwd(); err == nil {
		out = append(out, cwd)
	}
	return out
}

// fromExecutable derives a candidate from the launcher binary's location.
// When the binary sits in a known build-output directory the project root is
// assumed three levels up; otherwise the binary's directory is used as-is.
func (r *Resolver) fromExecutable() string {
	exe, err := r.executable()
	if err != nil {
		return ""
	}
	parent := filepath.Dir(exe)
	base := filepath.Base(parent)
	for _, d := range buildOutputDirs {
		if base == d {
			return filepath.Dir(filepath.Dir(filepath.Dir(parent)))
		}
	}
	return parent
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
