package wal

import (
	"fmt"
	"os"
	"time"
)

// Tx stages a set of file writes that commit or roll back together.
// Callers obtain one via WAL.Begin and must call either Commit or
// Rollback exactly once.
type Tx struct {
	w      *WAL
	id     string
	seq    int
	staged []stagedWrite
	done   bool
}

type stagedWrite struct {
	targetPath string
	stagedPath string
}

// Begin starts a new transaction. Every wal.log append and rewrite is
// made under the WAL's lock; two transactions that stage the same target
// path concurrently are not ordered against each other.
func (w *WAL) Begin() *Tx {
	return &Tx{w: w, id: newTxID()}
}

// WriteJSON stages path to be atomically overwritten with the marshaled
// form of v when the transaction commits: any existing
// content at path is first backed up, the new content is staged, and an
// entry record is appended and fsynced before WriteJSON returns.
func (tx *Tx) WriteJSON(path string, v any) error {
	data, err := marshalIndent(v)
	if err != nil {
		return fmt.Errorf("marshal staged write for %s: %w", path, err)
	}
	return tx.WriteBytes(path, data)
}

// WriteBytes is WriteJSON for already-encoded payloads.
func (tx *Tx) WriteBytes(path string, data []byte) error {
	if tx.done {
		return fmt.Errorf("transaction %s already finished", tx.id)
	}
	tx.seq++
	seq := tx.seq

	backupPath := tx.w.backupPath(tx.id, seq)
	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(backupPath, existing, 0644); err != nil {
			return fmt.Errorf("back up %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read existing %s: %w", path, err)
	}

	stagedPath := tx.w.stagedPath(tx.id, seq)
	if err := os.WriteFile(stagedPath, data, 0644); err != nil {
		return fmt.Errorf("stage write for %s: %w", path, err)
	}

	tx.w.mu.Lock()
	err := tx.w.appendRecord(logRecord{
		Kind:        kindEntry,
		TxID:        tx.id,
		Seq:         seq,
		Path:        path,
		BackupPath:  backupPath,
		StagedPath:  stagedPath,
		TimestampMs: time.Now().UnixMilli(),
	})
	tx.w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("log staged write: %w", err)
	}

	tx.staged = append(tx.staged, stagedWrite{targetPath: path, stagedPath: stagedPath})
	return nil
}

// Commit appends a commit marker, copies every staged file over its
// target, and cleans up backups/staged files/log entries for this
// transaction.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction %s already finished", tx.id)
	}
	defer func() { tx.done = true }()

	tx.w.mu.Lock()
	defer tx.w.mu.Unlock()

	if err := tx.w.appendRecord(logRecord{
		Kind:        kindCommit,
		TxID:        tx.id,
		TimestampMs: time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("write commit marker: %w", err)
	}

	for _, sw := range tx.staged {
		if err := applyStaged(sw.stagedPath, sw.targetPath); err != nil {
			return fmt.Errorf("apply staged write for %s: %w", sw.targetPath, err)
		}
	}

	return tx.cleanupLocked()
}

// Rollback restores every backup over its target in reverse order and
// discards staged files.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	defer func() { tx.done = true }()

	tx.w.mu.Lock()
	defer tx.w.mu.Unlock()

	for i := len(tx.staged) - 1; i >= 0; i-- {
		seq := i + 1
		backupPath := tx.w.backupPath(tx.id, seq)
		if _, err := os.Stat(backupPath); err == nil {
			if err := applyStaged(backupPath, tx.staged[i].targetPath); err != nil {
				return fmt.Errorf("restore backup for %s: %w", tx.staged[i].targetPath, err)
			}
		} else if os.IsNotExist(err) {
			// No backup means the target did not exist before the transaction.
			os.Remove(tx.staged[i].targetPath)
		}
	}

	return tx.cleanupLocked()
}

func (tx *Tx) cleanupLocked() error {
	for i := range tx.staged {
		seq := i + 1
		os.Remove(tx.w.stagedPath(tx.id, seq))
		os.Remove(tx.w.backupPath(tx.id, seq))
	}
	return tx.w.rewriteLogWithout(tx.id)
}

// applyStaged atomically copies src over dst (fsync then rename via a
// same-directory temp file, so the replacement is atomic on POSIX).
func applyStaged(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".apply-tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
