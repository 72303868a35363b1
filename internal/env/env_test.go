package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMergePrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "backend.env")
	content := "# comment\nAPP_PORT=8000\nexport APP_MODE=\"packaged\"\nOVERRIDE=file\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New().AddFile(file).Set("OVERRIDE", "explicit")
	got, err := e.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	m := toMap(got)
	if m["APP_PORT"] != "8000" {
		t.Fatalf("APP_PORT=%q", m["APP_PORT"])
	}
	if m["APP_MODE"] != "packaged" {
		t.Fatalf("quotes not stripped: %q", m["APP_MODE"])
	}
	if m["OVERRIDE"] != "explicit" {
		t.Fatalf("explicit Set must win over file: %q", m["OVERRIDE"])
	}
}

func TestMergeEmptyMeansInherit(t *testing.T) {
	got, err := New().Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for empty env, got %v", got)
	}
}

func TestMergeUseOS(t *testing.T) {
	t.Setenv("APPGATE_TEST_VAR", "from-os")
	got, err := New().UseOS().Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if toMap(got)["APPGATE_TEST_VAR"] != "from-os" {
		t.Fatalf("OS env not included")
	}
}

func TestMergeMissingFileFails(t *testing.T) {
	if _, err := New().AddFile(filepath.Join(t.TempDir(), "nope.env")).Merge(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}
