package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotatesAtLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wsus.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected no third backup, got err=%v", err)
	}
}

func TestRotateFilesDropsOldest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	for i, content := range []string{"current", "one", "two"} {
		if err := os.WriteFile(BackupName(path, i), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if err := RotateFiles(path, 2); err != nil {
		t.Fatalf("RotateFiles: %v", err)
	}

	got, err := os.ReadFile(path + ".1")
	if err != nil || string(got) != "current" {
		t.Fatalf("path.1 = %q (err %v), want current", got, err)
	}
	got, err = os.ReadFile(path + ".2")
	if err != nil || string(got) != "one" {
		t.Fatalf("path.2 = %q (err %v), want one", got, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected path to be moved away, err=%v", err)
	}
}

func TestBackupName(t *testing.T) {
	if BackupName("a.log", 0) != "a.log" || BackupName("a.log", 2) != "a.log.2" {
		t.Fatal("unexpected backup names")
	}
}
