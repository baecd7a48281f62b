// Package wal implements the write-ahead log that gives multi-file state
// mutations crash-atomicity: a transaction stages backups and
// staged payloads and logs an entry per write, commits by copying staged
// files over their targets, and on startup either replays committed
// transactions or rolls back incomplete ones.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// entryKind distinguishes staged writes from commit markers in the log.
type entryKind string

const (
	kindEntry  entryKind = "entry"
	kindCommit entryKind = "commit"
)

// logRecord is one JSON-per-line record in wal.log.
type logRecord struct {
	Kind       entryKind `json:"kind"`
	TxID       string    `json:"tx_id"`
	Seq        int       `json:"seq,omitempty"`
	Path       string    `json:"path,omitempty"`
	BackupPath string    `json:"backup_path,omitempty"`
	StagedPath string    `json:"staged_path,omitempty"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// WAL is the append-only log rooted at a wal/ directory.
type WAL struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger
}

// Open opens (creating if necessary) the WAL at dir and runs crash
// recovery before returning.
func Open(dir string, logger zerolog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	w := &WAL{dir: dir, logger: logger}
	if err := w.recover(); err != nil {
		return nil, fmt.Errorf("wal recovery: %w", err)
	}
	return w, nil
}

func (w *WAL) logPath() string { return filepath.Join(w.dir, "wal.log") }

func (w *WAL) stagedPath(txID string, seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.staged", txID, seq))
}

func (w *WAL) backupPath(txID string, seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%d.backup", txID, seq))
}

func (w *WAL) appendRecord(rec logRecord) error {
	f, err := os.OpenFile(w.logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open wal log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal wal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append wal record: %w", err)
	}
	return f.Sync()
}

func (w *WAL) readAllRecords() ([]logRecord, error) {
	f, err := os.Open(w.logPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open wal log: %w", err)
	}
	defer f.Close()

	var records []logRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line from a crash mid-append is tolerated and skipped.
			w.logger.Warn().Err(err).Msg("wal: skipping malformed log line")
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan wal log: %w", err)
	}
	return records, nil
}

// rewriteLogWithout rewrites wal.log containing every record except
// those belonging to txID, used after a transaction finishes cleanup.
func (w *WAL) rewriteLogWithout(txID string) error {
	records, err := w.readAllRecords()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.TxID != txID {
			kept = append(kept, r)
		}
	}

	tmp := w.logPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create wal log temp file: %w", err)
	}
	for _, r := range kept {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshal wal record: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("rewrite wal log: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync wal log: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, w.logPath())
}

// groupedTx buckets log records by transaction id, preserving per-tx
// sequence order.
func groupedTx(records []logRecord) map[string][]logRecord {
	byTx := make(map[string][]logRecord)
	for _, r := range records {
		byTx[r.TxID] = append(byTx[r.TxID], r)
	}
	for tx := range byTx {
		sort.SliceStable(byTx[tx], func(i, j int) bool {
			return byTx[tx][i].Seq < byTx[tx][j].Seq
		})
	}
	return byTx
}

func newTxID() string {
	return uuid.NewString()
}
