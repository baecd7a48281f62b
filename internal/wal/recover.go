package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// recover replays committed transactions and rolls back incomplete ones
// ("Recovery"), then truncates the log and removes orphan
// staged/backup files left over from a crash.
func (w *WAL) recover() error {
	records, err := w.readAllRecords()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return w.removeOrphanFiles(nil)
	}

	byTx := groupedTx(records)
	for txID, recs := range byTx {
		committed := false
		for _, r := range recs {
			if r.Kind == kindCommit {
				committed = true
				break
			}
		}
		if committed {
			if err := w.replayCommitted(recs); err != nil {
				return fmt.Errorf("replay committed tx %s: %w", txID, err)
			}
			w.logger.Info().Str("tx_id", txID).Msg("wal: replayed committed transaction on recovery")
		} else {
			if err := w.rollbackUncommitted(recs); err != nil {
				return fmt.Errorf("roll back uncommitted tx %s: %w", txID, err)
			}
			w.logger.Warn().Str("tx_id", txID).Msg("wal: rolled back uncommitted transaction on recovery")
		}
	}

	if err := os.Remove(w.logPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate wal log: %w", err)
	}

	return w.removeOrphanFiles(byTx)
}

func (w *WAL) replayCommitted(recs []logRecord) error {
	for _, r := range recs {
		if r.Kind != kindEntry {
			continue
		}
		if _, err := os.Stat(r.StagedPath); err != nil {
			// Staged file already applied and cleaned up in a prior run.
			continue
		}
		if err := applyStaged(r.StagedPath, r.Path); err != nil {
			return err
		}
	}
	return w.removeTxArtifacts(recs)
}

func (w *WAL) rollbackUncommitted(recs []logRecord) error {
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Kind != kindEntry {
			continue
		}
		if _, err := os.Stat(r.BackupPath); err == nil {
			if err := applyStaged(r.BackupPath, r.Path); err != nil {
				return err
			}
		}
	}
	return w.removeTxArtifacts(recs)
}

func (w *WAL) removeTxArtifacts(recs []logRecord) error {
	for _, r := range recs {
		if r.StagedPath != "" {
			os.Remove(r.StagedPath)
		}
		if r.BackupPath != "" {
			os.Remove(r.BackupPath)
		}
	}
	return nil
}

// removeOrphanFiles deletes any .staged/.backup file under dir whose
// transaction no longer appears in byTx (left behind by a crash that
// happened before any entry was logged, or after an earlier recovery
// partially cleaned up).
func (w *WAL) removeOrphanFiles(byTx map[string][]logRecord) error {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list wal dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".staged") && !strings.HasSuffix(name, ".backup") {
			continue
		}
		full := filepath.Join(w.dir, name)
		txID := txIDFromArtifactName(name)
		if byTx != nil {
			if _, ok := byTx[txID]; ok {
				continue
			}
		}
		w.logger.Warn().Str("file", name).Msg("wal: removing orphan staged/backup file")
		os.Remove(full)
	}
	return nil
}

func txIDFromArtifactName(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".staged"), ".backup")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return base
	}
	return base[:idx]
}
