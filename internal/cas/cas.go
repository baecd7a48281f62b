// Package cas implements the content-addressed byte store: objects
// keyed by their SHA-256 hash under objects/<aa>/<bb>/<hash>, with a
// disk-resident index.json side-car and a startup reconciliation pass.
package cas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Klingon-tech/lbm/internal/lberr"
	"github.com/Klingon-tech/lbm/pkg/crypto"
	"github.com/rs/zerolog"
)

// DefaultMaxObjectSize is the default per-blob size cap (100 MiB).
const DefaultMaxObjectSize = 100 * 1024 * 1024

// Visibility controls who may fetch an object over the P2P layer.
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	// VisibilityGroup(gid) is encoded as "group:<gid>".
)

// GroupVisibility returns the restricted-visibility tag for a group.
func GroupVisibility(groupID string) Visibility {
	return Visibility("group:" + groupID)
}

// Meta is the side-car metadata stored for every object.
type Meta struct {
	Visibility Visibility `json:"visibility"`
	Kind       string     `json:"kind"`
	GroupID    string     `json:"group_id,omitempty"`
	CreatedMs  int64      `json:"created_ms"`
	Size       int64      `json:"size"`
}

// VisibleTo reports whether a caller who is a member of memberGroups (or
// not, for the public case) may read this object.
func (m Meta) VisibleTo(memberGroups map[string]bool) bool {
	if m.Visibility == VisibilityPublic {
		return true
	}
	gid, ok := groupIDFromVisibility(m.Visibility)
	if !ok {
		return false
	}
	return memberGroups[gid]
}

func groupIDFromVisibility(v Visibility) (string, bool) {
	const prefix = "group:"
	s := string(v)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// Stats summarizes store occupancy.
type Stats struct {
	ObjectCount int   `json:"object_count"`
	TotalBytes  int64 `json:"total_bytes"`
}

// Store is a single re-entrant-style mutex-guarded content-addressed
// store rooted at a directory.
type Store struct {
	mu            sync.Mutex
	root          string
	maxObjectSize int64
	index         map[string]Meta
	logger        zerolog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxObjectSize overrides DefaultMaxObjectSize.
func WithMaxObjectSize(n int64) Option {
	return func(s *Store) { s.maxObjectSize = n }
}

// WithLogger attaches a component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (creating if necessary) a CAS rooted at dir, running the
// startup reconciliation pass before returning.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		root:          dir,
		maxObjectSize: DefaultMaxObjectSize,
		index:         make(map[string]Meta),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.objectsDir(), 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.reconcile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) objectsDir() string { return filepath.Join(s.root, "objects") }
func (s *Store) indexPath() string  { return filepath.Join(s.root, "index.json") }

func (s *Store) objectPath(hash string) (string, error) {
	if len(hash) < 4 {
		return "", fmt.Errorf("malformed hash %q", hash)
	}
	return filepath.Join(s.objectsDir(), hash[:2], hash[2:4], hash), nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cas index: %w", err)
	}
	var idx map[string]Meta
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cas index: %w", err)
	}
	s.index = idx
	return nil
}

func (s *Store) writeIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cas index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create cas index temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write cas index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync cas index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cas index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return fmt.Errorf("rename cas index: %w", err)
	}
	return nil
}

// Put stores data, keyed by its SHA-256 hash, returning the hex hash.
// Writing the same hash twice is a no-op (CAS objects are write-once).
func (s *Store) Put(data []byte, meta Meta) (string, error) {
	if int64(len(data)) > s.maxObjectSize {
		return "", lberr.Validation(fmt.Sprintf("object exceeds max size %d", s.maxObjectSize), nil)
	}
	hash := crypto.SHA256Hex(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[hash]; ok {
		return hash, nil
	}

	path, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := atomicWrite(path, data); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}

	meta.Size = int64(len(data))
	s.index[hash] = meta
	if err := s.writeIndexLocked(); err != nil {
		return "", err
	}
	return hash, nil
}

// PutJSON marshals v and stores it as a JSON blob.
func (s *Store) PutJSON(v any, meta Meta) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json blob: %w", err)
	}
	return s.Put(data, meta)
}

// Get returns the raw bytes for hash without re-verifying content
// (hot-path latency); use Verify to recheck.
func (s *Store) Get(hash string) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.index[hash]
	s.mu.Unlock()
	if !ok {
		return nil, lberr.ErrNotFound
	}
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, lberr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// GetJSON reads and unmarshals a JSON blob into v.
func (s *Store) GetJSON(hash string, v any) error {
	data, err := s.Get(hash)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal json blob: %w", err)
	}
	return nil
}

// Has reports whether hash is present in the index.
func (s *Store) Has(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[hash]
	return ok
}

// MetaOf returns the metadata recorded for hash.
func (s *Store) MetaOf(hash string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[hash]
	return m, ok
}

// Verify recomputes the hash of the stored object and reports whether it
// still matches hash.
func (s *Store) Verify(hash string) (bool, error) {
	data, err := s.Get(hash)
	if err != nil {
		return false, err
	}
	return crypto.SHA256Hex(data) == hash, nil
}

// StatsOf summarizes the store.
func (s *Store) StatsOf() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	st.ObjectCount = len(s.index)
	for _, m := range s.index {
		st.TotalBytes += m.Size
	}
	return st
}

// atomicWrite writes data to path via tmp+fsync+rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
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
	return os.Rename(tmp, path)
}
