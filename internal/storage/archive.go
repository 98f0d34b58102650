// Package storage keeps a history of inventory runs in a bbolt database.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketRows = []byte("rows")
	bucketMeta = []byte("meta")

	keyCurrentRevision = []byte("current_revision")
)

// ErrNotFound is returned when a run or instance is not in the archive.
var ErrNotFound = errors.New("not found")

// Run is the archived summary of one inventory run. Each run is a revision.
type Run struct {
	Revision  int64                    `json:"revision"`
	Mode      resource.Mode            `json:"mode"`
	Query     string                   `json:"query"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Regions   []resource.RegionSummary `json:"regions"`
	Rows      int                      `json:"rows"`
}

// InstanceState tracks an instance across runs in the index. Query is the
// fingerprint of the run that last reported it. An instance leaves the
// result set when a later run with the same query scans its region cleanly
// and does not report it; that covers termination as well as an instance
// that no longer matches (for example one that gained an owner tag).
type InstanceState struct {
	InstanceID   string
	Name         string
	InstanceType string
	Region       string
	Annotation   resource.Annotation
	Query        string
	FirstSeenRev int64
	LastSeenRev  int64
	LeftRev      int64
	Present      bool
}

// Archive implements a revisioned run history: runs and rows on disk,
// per-instance state in an in-memory btree rebuilt on open.
type Archive struct {
	mu sync.RWMutex

	// In-memory index for fast lookups
	index *btree.BTreeG[*InstanceState]

	// On-disk storage
	db *bbolt.DB

	// Current revision number
	currentRev int64

	path string
}

// Open opens or creates the archive database at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketRows, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive buckets: %w", err)
	}

	a := &Archive{
		index: newIndex(),
		db:    db,
		path:  path,
	}

	if err := a.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func newIndex() *btree.BTreeG[*InstanceState] {
	return btree.NewG[*InstanceState](32, func(a, b *InstanceState) bool {
		return a.InstanceID < b.InstanceID
	})
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the archive.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordRun stores the report as a new revision and updates the index.
func (a *Archive) RecordRun(report *resource.Report) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rev := a.currentRev + 1
	run := Run{
		Revision:  rev,
		Mode:      report.Mode,
		Query:     report.Query,
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
		Regions:   report.Regions,
		Rows:      len(report.Rows),
	}

	err := a.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(makeRunKey(rev), value); err != nil {
			return err
		}

		rows := tx.Bucket(bucketRows)
		for i, row := range report.Rows {
			value, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := rows.Put(makeRowKey(rev, i), value); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}

	a.currentRev = rev
	a.applyRun(run, report.Rows)
	return rev, nil
}

// Runs returns every archived run, oldest first.
func (a *Archive) Runs() ([]Run, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var runs []Run
	err := a.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Rows returns the rows recorded by run rev, in report order.
func (a *Archive) Rows(rev int64) ([]resource.Row, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var rows []resource.Row
	err := a.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRuns).Get(makeRunKey(rev)) == nil {
			return fmt.Errorf("run %d: %w", rev, ErrNotFound)
		}
		var err error
		rows, err = readRows(tx, rev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Instance returns the current state of an instance.
func (a *Archive) Instance(id string) (*InstanceState, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	existing, found := a.index.Get(&InstanceState{InstanceID: id})
	if !found {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	state := *existing
	return &state, nil
}

// Instances returns every indexed instance ordered by ID.
func (a *Archive) Instances() []InstanceState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	states := make([]InstanceState, 0, a.index.Len())
	a.index.Ascend(func(s *InstanceState) bool {
		states = append(states, *s)
		return true
	})
	return states
}

// Compact removes all but the newest keep runs and rebuilds the index from
// what remains.
func (a *Archive) Compact(keep int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.currentRev - keep
	if keep < 0 || cutoff <= 0 {
		return nil
	}

	err := a.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketRows} {
			bucket := tx.Bucket(name)
			c := bucket.Cursor()

			var toDelete [][]byte
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if parseRevision(k) <= cutoff {
					toDelete = append(toDelete, k)
				}
			}
			for _, key := range toDelete {
				if err := bucket.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact archive: %w", err)
	}

	a.index = newIndex()
	return a.rebuildIndex()
}

// applyRun folds one run into the index. Instances last reported under the
// same query and absent from a region that scanned cleanly leave the result
// set. Instances seen under another query are left untouched, since this
// run could not have returned them.
func (a *Archive) applyRun(run Run, rows []resource.Row) {
	for _, row := range rows {
		existing, found := a.index.Get(&InstanceState{InstanceID: row.InstanceID})
		if !found {
			existing = &InstanceState{
				InstanceID:   row.InstanceID,
				FirstSeenRev: run.Revision,
			}
		}
		existing.Name = row.Name
		existing.InstanceType = row.InstanceType
		existing.Region = row.Region
		existing.Annotation = row.Annotation
		existing.Query = run.Query
		existing.LastSeenRev = run.Revision
		existing.LeftRev = 0
		existing.Present = true
		a.index.ReplaceOrInsert(existing)
	}

	scanned := make(map[string]bool, len(run.Regions))
	for _, s := range run.Regions {
		if s.Error == "" {
			scanned[s.Region] = true
		}
	}
	a.index.Ascend(func(s *InstanceState) bool {
		if s.Present && s.LastSeenRev < run.Revision && scanned[s.Region] && s.Query == run.Query {
			s.Present = false
			s.LeftRev = run.Revision
		}
		return true
	})
}

func (a *Archive) load() error {
	err := a.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyCurrentRevision); data != nil {
			a.currentRev = bytesToInt64(data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load revision: %w", err)
	}
	return a.rebuildIndex()
}

// rebuildIndex replays every archived run in revision order.
func (a *Archive) rebuildIndex() error {
	err := a.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			rows, err := readRows(tx, run.Revision)
			if err != nil {
				return err
			}
			a.applyRun(run, rows)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}

func readRows(tx *bbolt.Tx, rev int64) ([]resource.Row, error) {
	var rows []resource.Row
	prefix := append(makeRunKey(rev), ':')
	c := tx.Bucket(bucketRows).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var row resource.Row
		if err := json.Unmarshal(v, &row); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", k, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Helper functions

func makeRunKey(rev int64) []byte {
	return []byte(fmt.Sprintf("%016d", rev))
}

func makeRowKey(rev int64, pos int) []byte {
	return []byte(fmt.Sprintf("%016d:%08d", rev, pos))
}

func parseRevision(key []byte) int64 {
	var rev int64
	_, _ = fmt.Sscanf(string(key), "%016d", &rev)
	return rev
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
