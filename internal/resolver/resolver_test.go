package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const entry = "app.py"

func writeEntry(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, entry), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(resourceDir, exePath, cwd string) *Resolver {
	r := New(entry, resourceDir)
	r.executable = func() (string, error) { return exePath, nil }
	r.getwd = func() (string, error) { return cwd, nil }
	return r
}

func TestResolvePackagedLayout(t *testing.T) {
	res := t.TempDir()
	writeEntry(t, res)
	// entry also present in cwd; resource dir must still win
	cwd := t.TempDir()
	writeEntry(t, cwd)

	r := newTestResolver(res, filepath.Join(t.TempDir(), "bin", "appgate"), cwd)
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != res {
		t.Fatalf("expected packaged dir %s, got %s", res, got)
	}
}

func TestResolveDevLayoutWalksUpFromBuildDir(t *testing.T) {
	// <root>/shell/target/debug/appgate -> candidate is <root>
	root := t.TempDir()
	buildDir := filepath.Join(root, "shell", "target", "debug")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeEntry(t, root)

	r := newTestResolver("", filepath.Join(buildDir, "appgate"), t.TempDir())
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != root {
		t.Fatalf("expected project root %s, got %s", root, got)
	}
}

func TestResolveExecutableParentDirectly(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir)
	r := newTestResolver("", filepath.Join(dir, "appgate"), t.TempDir())
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != dir {
		t.Fatalf("expected exe parent %s, got %s", dir, got)
	}
}

func TestResolveFallsBackToCwd(t *testing.T) {
	cwd := t.TempDir()
	writeEntry(t, cwd)
	r := newTestResolver(t.TempDir(), filepath.Join(t.TempDir(), "appgate"), cwd)
	got, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != cwd {
		t.Fatalf("expected cwd %s, got %s", cwd, got)
	}
}

func TestResolveMissingEverywhere(t *testing.T) {
	res := t.TempDir()
	exeDir := t.TempDir()
	cwd := t.TempDir()
	r := newTestResolver(res, filepath.Join(exeDir, "appgate"), cwd)
	_, err := r.Resolve()
	if err == nil {
		t.Fatalf("expected ResolutionError")
	}
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ResolutionError, got %T: %v", err, err)
	}
	if len(re.Checked) != 3 {
		t.Fatalf("expected 3 checked paths, got %d: %v", len(re.Checked), re.Checked)
	}
	for _, p := range re.Checked {
		if !strings.HasSuffix(p, entry) {
			t.Fatalf("checked path %s does not name the entry file", p)
		}
	}
}

func TestEntryMustBeFileNotDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, entry), 0o755); err != nil {
		t.Fatal(err)
	}
	r := newTestResolver(dir, "", dir)
	if _, err := r.Resolve(); err == nil {
		t.Fatalf("a directory named like the entry file must not satisfy resolution")
	}
}
