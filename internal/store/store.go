// Package store provides a thin bbolt wrapper for kwchart's local data store.
//
// The store holds what a user chose to keep: chart definitions they
// imported and chart results they saved with `load --save`. The chart engine
// itself never reads from it; every load fetches fresh data.
//
// Buckets:
//
//	definitions: chart definitions keyed by UUID
//	snapshots:   saved chart results keyed by definition+period+ref+interval
//	_meta:       internal: schema version, created_at
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 1

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

var (
	bucketDefinitions = []byte("definitions")
	bucketSnapshots   = []byte("snapshots")
	bucketInternal    = []byte("_meta")
)

// AllBuckets lists every user-facing bucket for stats and clear operations.
var AllBuckets = []string{"definitions", "snapshots"}

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDefinitions, bucketSnapshots, bucketInternal} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketInternal)
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(strconv.Itoa(schemaVersion))); err != nil {
				return err
			}
			if err := meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Definitions ──────────────────────────────────────────────────────────────

// PutDefinition stores d, assigning a new UUID when d.ID is empty, and
// returns the ID. d must already be valid.
func (s *Store) PutDefinition(d *chartdef.Definition) (string, error) {
	rec := d.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding definition: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDefinitions).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// GetDefinition retrieves a definition by ID.
// Returns (def, true, nil) if found, (nil, false, nil) if not found.
func (s *Store) GetDefinition(id string) (*chartdef.Definition, bool, error) {
	var d *chartdef.Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDefinitions).Get([]byte(id))
		if v == nil {
			return nil
		}
		parsed, err := chartdef.Parse(v)
		if err != nil {
			return err
		}
		d = parsed
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return d, d != nil, nil
}

// FindDefinition resolves ref as an ID first and then as a unique name.
func (s *Store) FindDefinition(ref string) (*chartdef.Definition, error) {
	if d, ok, err := s.GetDefinition(ref); err != nil || ok {
		return d, err
	}
	defs, err := s.ListDefinitions()
	if err != nil {
		return nil, err
	}
	var match *chartdef.Definition
	for _, d := range defs {
		if d.Name != ref {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("definition name %q is ambiguous; use its ID", ref)
		}
		match = d
	}
	if match == nil {
		return nil, fmt.Errorf("definition %q: %w", ref, ErrNotFound)
	}
	return match, nil
}

// ListDefinitions returns all stored definitions sorted by name, then ID.
func (s *Store) ListDefinitions() ([]*chartdef.Definition, error) {
	var defs []*chartdef.Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDefinitions).ForEach(func(k, v []byte) error {
			d, err := chartdef.Parse(v)
			if err != nil {
				return fmt.Errorf("definition %s: %w", k, err)
			}
			defs = append(defs, d)
			return nil
		})
	})
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].ID < defs[j].ID
	})
	return defs, err
}

// DeleteDefinition removes a definition by ID.
func (s *Store) DeleteDefinition(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDefinitions)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("definition %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// ─── Snapshots ────────────────────────────────────────────────────────────────

// Snapshot is a saved chart result.
type Snapshot struct {
	Key     string          `json:"key"`
	SavedAt time.Time       `json:"saved_at"`
	Ref     int64           `json:"ref"`
	Chart   model.ChartData `json:"chart"`
}

// SnapshotKey builds the canonical key for a saved result.
// Format: chart:<name>|period:<p>|ref:<unix>|int:<iv>
func SnapshotKey(name, periodName string, ref int64, interval string) string {
	return "chart:" + name + "|period:" + periodName + "|ref:" + strconv.FormatInt(ref, 10) + "|int:" + interval
}

// PutSnapshot saves snap under snap.Key, replacing any earlier save.
func (s *Store) PutSnapshot(snap Snapshot) error {
	if snap.Key == "" {
		return errors.New("snapshot key is required")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.Key), b)
	})
}

// GetSnapshot retrieves a snapshot by key.
func (s *Store) GetSnapshot(key string) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get([]byte(key))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &snap)
	})
	if err != nil {
		return snap, false, err
	}
	return snap, snap.Key != "", nil
}

// ListSnapshotKeys returns the keys of every snapshot of chart name, in key
// order. Pass name="" to list all.
func (s *Store) ListSnapshotKeys(name string) ([]string, error) {
	prefix := "chart:"
	if name != "" {
		prefix += name + "|"
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// DeleteSnapshot removes a snapshot by key.
func (s *Store) DeleteSnapshot(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(key))
	})
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count and byte size for a single bucket.
type BucketStats struct {
	Name  string
	Count int
	Bytes int64
}

// Stats returns row counts and approximate sizes for all user buckets, in
// AllBuckets order.
func (s *Store) Stats() ([]BucketStats, error) {
	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			st := BucketStats{Name: name}
			b.ForEach(func(k, v []byte) error {
				st.Count++
				st.Bytes += int64(len(k) + len(v))
				return nil
			})
			stats = append(stats, st)
		}
		return nil
	})
	return stats, err
}

// ClearBucket deletes all entries in the named bucket.
func (s *Store) ClearBucket(name string) error {
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}
