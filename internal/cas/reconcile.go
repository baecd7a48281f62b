package cas

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/lbm/pkg/crypto"
)

// reconcile runs the startup consistency pass:
//   - drop index entries whose object file is missing (stale)
//   - for any on-disk object absent from the index, re-hash it: if the
//     file name matches its content, re-insert a best-effort metadata
//     entry (orphan_added); otherwise delete the corrupt file.
func (s *Store) reconcile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash := range s.index {
		path, err := s.objectPath(hash)
		if err != nil {
			delete(s.index, hash)
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			s.logger.Warn().Str("hash", hash).Msg("cas: stale index entry, object file missing")
			delete(s.index, hash)
		}
	}

	onDisk := make(map[string]string) // hash -> path
	err := filepath.WalkDir(s.objectsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		hash := filepath.Base(path)
		onDisk[hash] = path
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for hash, path := range onDisk {
		if _, ok := s.index[hash]; ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn().Str("hash", hash).Err(err).Msg("cas: orphan object unreadable, deleting")
			os.Remove(path)
			continue
		}
		if crypto.SHA256Hex(data) != hash {
			s.logger.Warn().Str("hash", hash).Msg("cas: orphan object content mismatch, deleting corrupt file")
			os.Remove(path)
			continue
		}
		s.logger.Info().Str("hash", hash).Msg("cas: orphan object re-indexed")
		s.index[hash] = Meta{
			Visibility: VisibilityPublic,
			Kind:       "unknown",
			CreatedMs:  time.Now().UnixMilli(),
			Size:       int64(len(data)),
		}
	}

	return s.writeIndexLocked()
}
