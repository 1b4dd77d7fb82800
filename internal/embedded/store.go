package embedded

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
)

type Header struct {
	Height     uint64    `json:"height"`
	Hash       string    `json:"hash"`
	PrevHash   string    `json:"prev_hash"`
	Timestamp  time.Time `json:"timestamp"`
	Difficulty uint64    `json:"difficulty"`

	// Cumulative difficulty up to and including this header. Set by the store.
	TotalDifficulty uint64 `json:"total_difficulty"`
}

const (
	headerPrefix = "header/"
	headKey      = "meta/head"
)

// chainStore keeps accepted headers in badger, keyed by height, plus a
// pointer to the current head.
type chainStore struct {
	logger *slog.Logger
	dir    string
	db     *badger.DB
}

func openChainStore(logger *slog.Logger, dir string) (*chainStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(newBadgerLogger(logger.WithGroup("badger"))))
	if err != nil {
		return nil, &ErrInternal{Err: fmt.Errorf("open chain store at %s: %w", dir, err)}
	}
	return &chainStore{
		logger: logger,
		dir:    dir,
		db:     db,
	}, nil
}

func headerKey(height uint64) []byte {
	key := make([]byte, len(headerPrefix)+8)
	copy(key, headerPrefix)
	binary.BigEndian.PutUint64(key[len(headerPrefix):], height)
	return key
}

// head returns the current head, or false if no header has been accepted.
func (s *chainStore) head() (Header, bool, error) {
	var h Header
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(headKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return &ErrInternal{Err: err}
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		if err := json.Unmarshal(raw, &h); err != nil {
			return &ErrInternal{Err: err}
		}
		found = true
		return nil
	})
	return h, found, err
}

// appendHeader stores h as the new head. The caller has already checked that
// h extends the current head.
func (s *chainStore) appendHeader(h Header) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(headerKey(h.Height), raw); err != nil {
			return &ErrInternal{Err: err}
		}
		if err := txn.Set([]byte(headKey), raw); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *chainStore) headerAt(height uint64) (Header, error) {
	var h Header
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(headerKey(height))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("no header at height %d: %w", height, err)
			}
			return &ErrInternal{Err: err}
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &h)
		})
	})
	return h, err
}

// diskUsage walks the store directory. Files vanishing mid walk are skipped.
func (s *chainStore) diskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (s *chainStore) close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing chain store", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}
