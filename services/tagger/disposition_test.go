package tagger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisposeSuccessWithMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.csv")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := Dispose(path, "20240102-030405", true, []string{"B", "a"})
	if err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}

	wantRenamed := path + ".20240102-030405.success"
	wantMissing := path + ".20240102-030405.missing"
	if d.RenamedPath != wantRenamed || d.MissingPath != wantMissing {
		t.Fatalf("Dispose() = %+v", d)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file still present: %v", err)
	}
	if _, err := os.Stat(wantRenamed); err != nil {
		t.Fatalf("renamed file: %v", err)
	}
	data, err := os.ReadFile(wantMissing)
	if err != nil {
		t.Fatalf("read missing: %v", err)
	}
	if string(data) != "B\r\na\r\n" {
		t.Fatalf("missing file = %q", data)
	}
}

func TestDisposeFailedWithoutMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "owners.csv")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := Dispose(path, "20240102-030405", false, nil)
	if err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if d.RenamedPath != path+".20240102-030405.failed" {
		t.Fatalf("RenamedPath = %q", d.RenamedPath)
	}
	if d.MissingPath != "" {
		t.Fatalf("MissingPath = %q, want none", d.MissingPath)
	}
	if _, err := os.Stat(MissingPath(path, "20240102-030405")); !os.IsNotExist(err) {
		t.Fatalf("unexpected missing file: %v", err)
	}
}

func TestDisposeRenameError(t *testing.T) {
	if _, err := Dispose(filepath.Join(t.TempDir(), "absent.csv"), "s", true, nil); err == nil {
		t.Fatalf("Dispose() error = nil, want rename error")
	}
}

func TestDisposeRenamesWhenMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tags.csv")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(MissingPath(path, "S"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	d, err := Dispose(path, "S", true, []string{"Z"})
	if err == nil || !strings.Contains(err.Error(), "create missing file") {
		t.Fatalf("Dispose() error = %v, want missing file error", err)
	}
	if d.RenamedPath != OutcomePath(path, "S", true) {
		t.Fatalf("RenamedPath = %q", d.RenamedPath)
	}
	if d.MissingPath != "" {
		t.Fatalf("MissingPath = %q, want none", d.MissingPath)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("original file still present: %v", err)
	}
	if _, err := os.Stat(d.RenamedPath); err != nil {
		t.Fatalf("renamed file: %v", err)
	}
}
