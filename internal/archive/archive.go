// Package archive keeps the phase results and catalog of each study session
// in an in-memory LevelDB.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/delphibot/internal/types"
)

// Key scheme, "|" separated; session IDs have "|" replaced.
//
//	p|<session>|e         → exploratory PhaseResult JSON
//	p|<session>|s|<0001>  → structured PhaseResult JSON, in append order
//	c|<session>           → catalog text
const (
	prefixPhase   = "p|"
	prefixCatalog = "c|"
)

// ErrNotFound is returned when a session has no such record.
var ErrNotFound = errors.New("archive: not found")

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex // serialises sequence allocation in AppendStructured
	db *leveldb.DB
}

// Open creates an empty in-memory store.
func Open() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutExploratory stores (or replaces) the exploratory result of session.
func (s *Store) PutExploratory(session string, r types.PhaseResult) error {
	return s.putJSON(exploratoryKey(session), r)
}

// Exploratory returns the exploratory result of session or ErrNotFound.
func (s *Store) Exploratory(session string) (types.PhaseResult, error) {
	var r types.PhaseResult
	data, err := s.db.Get([]byte(exploratoryKey(session)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("archive: get exploratory: %w", err)
	}
	return r, json.Unmarshal(data, &r)
}

// DeleteExploratory removes the exploratory result of session. Deleting a
// missing record is not an error.
func (s *Store) DeleteExploratory(session string) error {
	if err := s.db.Delete([]byte(exploratoryKey(session)), nil); err != nil {
		return fmt.Errorf("archive: delete exploratory: %w", err)
	}
	return nil
}

// AppendStructured stores r after the structured results already held for
// session and returns its 1-indexed position.
//
// Expectations:
//   - Positions are consecutive per session starting at 1
//   - Sessions do not share positions
func (s *Store) AppendStructured(session string, r types.PhaseResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.count(structuredPrefix(session)) + 1
	if err := s.putJSON(structuredKey(session, n), r); err != nil {
		return 0, err
	}
	slog.Debug("[ARCHIVE] appended structured result", "session", session, "seq", n, "persona", r.PersonaName)
	return n, nil
}

// Structured returns the structured results of session in append order.
func (s *Store) Structured(session string) ([]types.PhaseResult, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(structuredPrefix(session))), nil)
	defer iter.Release()
	var out []types.PhaseResult
	for iter.Next() {
		var r types.PhaseResult
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			slog.Warn("[ARCHIVE] skipping unreadable structured result", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return out, fmt.Errorf("archive: scan structured: %w", err)
	}
	return out, nil
}

// PutCatalog stores (or replaces) the catalog of session.
func (s *Store) PutCatalog(session, catalog string) error {
	if err := s.db.Put([]byte(catalogKey(session)), []byte(catalog), nil); err != nil {
		return fmt.Errorf("archive: put catalog: %w", err)
	}
	return nil
}

// Catalog returns the catalog of session or ErrNotFound.
func (s *Store) Catalog(session string) (string, error) {
	data, err := s.db.Get([]byte(catalogKey(session)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("archive: get catalog: %w", err)
	}
	return string(data), nil
}

// Purge deletes every record of session and returns the number of keys removed.
func (s *Store) Purge(session string) (int, error) {
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(phasePrefix(session))), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("archive: scan for purge: %w", err)
	}
	if ok, _ := s.db.Has([]byte(catalogKey(session)), nil); ok {
		batch.Delete([]byte(catalogKey(session)))
	}
	n := batch.Len()
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("archive: purge: %w", err)
	}
	slog.Info("[ARCHIVE] purged session", "session", session, "keys", n)
	return n, nil
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) count(prefix string) int {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

func phasePrefix(session string) string {
	return prefixPhase + safeKeyPart(session) + "|"
}

func exploratoryKey(session string) string {
	return phasePrefix(session) + "e"
}

func structuredPrefix(session string) string {
	return phasePrefix(session) + "s|"
}

// structuredKey zero-pads seq so lexical order is append order.
func structuredKey(session string, seq int) string {
	return fmt.Sprintf("%s%04d", structuredPrefix(session), seq)
}

func catalogKey(session string) string {
	return prefixCatalog + safeKeyPart(session)
}

func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
