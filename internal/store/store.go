// Package store persists normalized reports in bbolt.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/vahti/pkg/finding"
)

// ErrNotFound means no report exists under the id.
var ErrNotFound = errors.New("report not found")

var bucketReports = []byte("reports")

// Record is a stored report.
type Record struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Report    finding.Report `json:"report"`
}

type indexEntry struct {
	createdAt int64
	id        string
}

func lessEntry(a, b indexEntry) bool {
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.id < b.id
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps reports on disk with an in-memory index by creation time.
type Store struct {
	mu sync.RWMutex

	// In-memory index, oldest first
	index *btree.BTreeG[indexEntry]
	byID  map[string]indexEntry

	// On-disk storage
	db *bbolt.DB

	now func() time.Time
}

// Open opens or creates the store under dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "vahti.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{
		index: btree.NewG[indexEntry](32, lessEntry),
		byID:  make(map[string]indexEntry),
		db:    db,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a report under a new id.
func (s *Store) Put(report finding.Report) (Record, error) {
	rec := Record{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Report:    report,
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).Put([]byte(rec.ID), value)
	})
	if err != nil {
		return Record{}, fmt.Errorf("store report: %w", err)
	}

	s.insert(indexEntry{createdAt: rec.CreatedAt.UnixNano(), id: rec.ID})
	return rec, nil
}

// Get loads a report by id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("load report %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, s.index.Len())
	s.index.Descend(func(e indexEntry) bool {
		ids = append(ids, e.id)
		return limit <= 0 || len(ids) < limit
	})

	out := make([]Record, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReports)
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode report %s: %w", id, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a report.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}

	s.index.Delete(entry)
	delete(s.byID, id)
	return nil
}

// Len returns the number of stored reports.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func (s *Store) insert(e indexEntry) {
	s.index.ReplaceOrInsert(e)
	s.byID[e.id] = e
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketReports).ForEach(func(k, v []byte) error {
			var head struct {
				CreatedAt time.Time `json:"created_at"`
			}
			if err := json.Unmarshal(v, &head); err != nil {
				return fmt.Errorf("rebuild index: decode %s: %w", k, err)
			}
			s.insert(indexEntry{createdAt: head.CreatedAt.UnixNano(), id: string(k)})
			return nil
		})
	})
}
