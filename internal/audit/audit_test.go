package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/breeze-rmm/wsus/internal/config"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(EventUpdateDeclined, "id-1", map[string]any{"rule": "superseded"})
	l.Failure("decline", "id-1", errors.New("boom"))
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() returned error: %v", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
	if l.Path() != "" {
		t.Fatalf("nil Path() = %q, want empty", l.Path())
	}
}

func TestNewLoggerDisabledReturnsNil(t *testing.T) {
	cfg := config.Default()
	cfg.AuditEnabled = false
	l, err := NewLogger(cfg)
	if err != nil || l != nil {
		t.Fatalf("NewLogger(disabled) = %v, %v; want nil, nil", l, err)
	}
}

func TestNewLoggerWritesToAuditDir(t *testing.T) {
	cfg := config.Default()
	cfg.Server = "wsus01"
	cfg.AuditDir = filepath.Join(t.TempDir(), "nested")

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Log(EventRunStarted, "", nil)
	l.Close()

	want := filepath.Join(cfg.AuditDir, FileName)
	if l.Path() != want {
		t.Fatalf("Path() = %q, want %q", l.Path(), want)
	}
	entries := readEntries(t, want)
	if len(entries) != 1 || entries[0].Server != "wsus01" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestLogWritesJSONLEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventUpdateDeclined, "3f1c", map[string]any{"rule": "arm64", "title": "Update for ARM64"})
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EventType != EventUpdateDeclined || e.UpdateID != "3f1c" || e.Server != "wsus-test" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.PrevHash != genesisHash {
		t.Fatalf("prevHash = %q, want genesis", e.PrevHash)
	}
	if e.EntryHash == "" {
		t.Fatal("entryHash is empty")
	}
	if e.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp = %q", e.Timestamp)
	}
}

func TestHashChainLinksAndVerifies(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventRunStarted, "", nil)
	l.Log(EventUpdateDeclined, "id-1", map[string]any{"rule": "superseded"})
	l.Log(EventUpdateDeleted, "id-1", nil)
	l.Failure("approve", "id-2", errors.New("access denied"))
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].EntryHash {
			t.Fatalf("entry[%d] not linked to entry[%d]", i, i-1)
		}
	}
	if entries[3].EventType != EventOperationFailed || entries[3].Details["operation"] != "approve" {
		t.Fatalf("unexpected failure entry: %+v", entries[3])
	}
	if err := Verify(entries); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventUpdateApproved, "id-1", map[string]any{"group": "All Computers"})
	l.Log(EventUpdateApproved, "id-2", map[string]any{"group": "All Computers"})
	l.Close()

	entries := readEntries(t, l.filePath)
	entries[0].UpdateID = "id-9"
	if err := Verify(entries); err == nil {
		t.Fatal("expected hash mismatch after tampering")
	}

	entries = readEntries(t, l.filePath)
	entries = entries[1:]
	entries = append(entries, entries[0])
	if err := Verify(entries); err == nil {
		t.Fatal("expected broken chain after reordering")
	}
}

func TestNewLoggerResumesChain(t *testing.T) {
	cfg := config.Default()
	cfg.AuditDir = t.TempDir()

	first, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	first.Log(EventRunStarted, "", nil)
	first.Log(EventRunFinished, "", nil)
	first.Close()

	second, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	second.Log(EventRunStarted, "", nil)
	second.Close()

	entries := readEntries(t, second.Path())
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if err := Verify(entries); err != nil {
		t.Fatalf("chain not resumed across runs: %v", err)
	}
}

func TestRotationSentinelCrossFileHashChain(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 200

	for i := 0; i < 10; i++ {
		l.Log(EventUpdateDeclined, "id-x", map[string]any{"i": i})
	}
	l.Close()

	entries := readEntries(t, l.filePath)
	if len(entries) == 0 {
		t.Fatal("no entries in current file after rotation")
	}
	if entries[0].EventType != EventLogRotated {
		t.Fatalf("first entry eventType = %q, want %q", entries[0].EventType, EventLogRotated)
	}
	if prev, _ := entries[0].Details["previousFile"].(string); prev != l.filePath+".1" {
		t.Fatalf("sentinel previousFile = %q", prev)
	}

	backup := readEntries(t, l.filePath+".1")
	if len(backup) == 0 {
		t.Fatal("no entries in backup file")
	}
	if entries[0].PrevHash != backup[len(backup)-1].EntryHash {
		t.Fatalf("sentinel prevHash = %q, want last backup hash %q",
			entries[0].PrevHash, backup[len(backup)-1].EntryHash)
	}
	if err := Verify(append(backup, entries...)); err != nil {
		t.Fatalf("cross-file chain: %v", err)
	}
	if _, err := os.Stat(l.filePath + ".4"); !os.IsNotExist(err) {
		t.Fatalf("expected at most 3 backups, stat .4: %v", err)
	}
}

func TestCriticalEventsSet(t *testing.T) {
	for _, e := range []string{EventRunStarted, EventRunFinished, EventUpdateDeleted, EventCleanupPerformed} {
		if !criticalEvents[e] {
			t.Errorf("event %q should be in criticalEvents", e)
		}
	}
	for _, e := range []string{EventUpdateDeclined, EventUpdateApproved, EventSyncStarted} {
		if criticalEvents[e] {
			t.Errorf("event %q should NOT be in criticalEvents", e)
		}
	}
}

func TestDroppedCountIncrementsOnWriteFailure(t *testing.T) {
	l := newTestLogger(t)

	l.file.Close()
	f, err := os.Open(l.filePath)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	l.file = f
	prev := l.prevHash

	l.Log(EventUpdateDeclined, "id-1", nil)

	if got := l.DroppedCount(); got != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", got)
	}
	if l.prevHash != prev {
		t.Fatal("hash chain advanced after failed write")
	}
	l.file.Close()
}

// --- helpers ---

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := &Logger{
		filePath:   filepath.Join(t.TempDir(), FileName),
		server:     "wsus-test",
		maxSize:    50 * 1024 * 1024,
		maxBackups: 3,
		prevHash:   genesisHash,
		now:        func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	if err := l.openFile(); err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return l
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	entries, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return entries
}
