package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/wsus/internal/config"
	"github.com/breeze-rmm/wsus/internal/logging"
)

var log = logging.L("audit")

// FileName is the audit log file name inside the audit directory.
const FileName = "wsus-audit.jsonl"

// Event types recorded for a maintenance run.
const (
	EventRunStarted       = "run_started"
	EventRunFinished      = "run_finished"
	EventCleanupPerformed = "cleanup_performed"
	EventSyncStarted      = "sync_started"
	EventSyncFinished     = "sync_finished"
	EventUpdateDeclined   = "update_declined"
	EventUpdateApproved   = "update_approved"
	EventUpdateDeleted    = "update_deleted"
	EventOperationFailed  = "operation_failed"
	EventLogRotated       = "log_rotated"
)

const genesisHash = "genesis"

// criticalEvents are fsynced after writing.
var criticalEvents = map[string]bool{
	EventRunStarted:       true,
	EventRunFinished:      true,
	EventUpdateDeleted:    true,
	EventCleanupPerformed: true,
}

// Entry is a single audit log record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	Server    string         `json:"server,omitempty"`
	UpdateID  string         `json:"updateId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger writes a JSONL audit trail of server changes, chained with SHA-256.
// After rotation the first record of the new file is an EventLogRotated
// sentinel whose prevHash is the last hash of the old file.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	server     string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
	now        func() time.Time
}

// NewLogger opens {AuditDir}/wsus-audit.jsonl. It returns nil, nil when
// auditing is disabled; a nil *Logger is safe to use.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if !cfg.AuditEnabled {
		return nil, nil
	}
	dir := cfg.AuditDir
	if dir == "" {
		dir = config.GetDataDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	maxSize := cfg.AuditMaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxBackups := cfg.AuditMaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}

	l := &Logger{
		filePath:   filepath.Join(dir, FileName),
		server:     cfg.Server,
		maxSize:    int64(maxSize) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
		now:        time.Now,
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	if last, err := lastHash(l.filePath); err != nil {
		log.Warn("could not resume audit hash chain, starting a new one", "path", l.filePath, "error", err)
	} else if last != "" {
		l.prevHash = last
	}

	log.Info("audit logger started", "path", l.filePath)
	return l, nil
}

// Path returns the active audit file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Log appends one entry. The chain only advances after a successful write,
// so a failed write leaves the next entry linked to the same prevHash.
// Safe to call on a nil receiver.
func (l *Logger) Log(eventType, updateID string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Server:    l.server,
		UpdateID:  updateID,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	if err := l.append(entry, true); err != nil {
		log.Error("failed to write audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
	}
}

// Failure records a failed operation against an update.
func (l *Logger) Failure(op, updateID string, err error) {
	l.Log(EventOperationFailed, updateID, map[string]any{"operation": op, "error": err.Error()})
}

// Close closes the audit file. Safe to call on a nil receiver.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount returns the number of entries that failed to write, or -1
// for a nil logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

func (l *Logger) append(entry Entry, mayRotate bool) error {
	hash, err := computeHash(entry)
	if err != nil {
		return err
	}
	entry.EntryHash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	if mayRotate && l.written > 0 && l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		// the sentinel moved the chain; relink
		entry.PrevHash = l.prevHash
		return l.append(entry, false)
	}

	if l.file == nil {
		return fmt.Errorf("audit log closed")
	}
	n, err := l.file.Write(data)
	if err != nil {
		return err
	}
	l.written += int64(n)
	l.prevHash = entry.EntryHash

	if criticalEvents[entry.EventType] {
		if err := l.file.Sync(); err != nil {
			log.Error("failed to fsync audit entry", logging.KeyError, err, "eventType", entry.EventType)
		}
	}
	return nil
}

func (l *Logger) openFile() error {
	f, size, err := logging.OpenAppend(l.filePath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	l.file, l.written = f, size
	return nil
}

func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := logging.RotateFiles(l.filePath, l.maxBackups); err != nil {
		log.Warn("audit log rotation incomplete", logging.KeyError, err)
	}
	if err := l.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		Server:    l.server,
		PrevHash:  l.prevHash,
		Details:   map[string]any{"previousFile": logging.BackupName(l.filePath, 1)},
	}
	if err := l.append(sentinel, false); err != nil {
		log.Error("rotation sentinel write failed, hash chain broken", logging.KeyError, err)
		l.dropped.Add(1)
		l.prevHash = "chain-broken"
	}
	return nil
}

// computeHash hashes the length-prefixed fields so that no delimiter inside
// a field can produce a colliding input.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.Server, entry.UpdateID, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		detailBytes, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(detailBytes))
		h.Write(detailBytes)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// lastHash returns the entryHash of the final record in path, or "" if the
// file is empty.
func lastHash(path string) (string, error) {
	entries, err := ReadFile(path)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].EntryHash, nil
}

// ReadFile parses every entry of an audit file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Verify checks that every entry hashes correctly and links to its
// predecessor. The first entry may link to anything, since the file can
// start with a rotation sentinel or a resumed chain.
func Verify(entries []Entry) error {
	for i, e := range entries {
		want, err := computeHash(e)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if e.EntryHash != want {
			return fmt.Errorf("entry %d: hash mismatch", i)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return fmt.Errorf("entry %d: chain broken", i)
		}
	}
	return nil
}
