// Package revindex maps (record, revision) to the payload pointer of that
// revision.
package revindex

import (
	"fmt"
	"sync"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

// Records reports whether a record id has been assigned.
type Records interface {
	Exists(id models.RecordID) bool
}

type key struct {
	rec models.RecordID
	rev models.RevisionID
}

// Index is safe for concurrent use.
type Index struct {
	records Records

	mu      sync.RWMutex
	entries map[key]models.PayloadRef
}

// New returns an empty index that only accepts records known to records.
func New(records Records) *Index {
	return &Index{
		records: records,
		entries: make(map[key]models.PayloadRef),
	}
}

// Check validates a Put without applying it.
func (x *Index) Check(rec models.RecordID, rev models.RevisionID, ref models.PayloadRef) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.check(rec, rev, ref)
}

func (x *Index) check(rec models.RecordID, rev models.RevisionID, ref models.PayloadRef) error {
	if !x.records.Exists(rec) {
		return fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}
	if prev, ok := x.entries[key{rec, rev}]; ok && prev.Digest != ref.Digest {
		return fmt.Errorf("%w: revision %s of record %s already maps to %s, got %s",
			constants.ErrHashCollision, rev, rec, prev.Digest, ref.Digest)
	}
	return nil
}

// Put stores ref for (rec, rev). Storing the same digest twice is a no-op.
func (x *Index) Put(rec models.RecordID, rev models.RevisionID, ref models.PayloadRef) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.check(rec, rev, ref); err != nil {
		return err
	}
	x.entries[key{rec, rev}] = ref
	return nil
}

// Get returns the payload pointer of (rec, rev).
func (x *Index) Get(rec models.RecordID, rev models.RevisionID) (models.PayloadRef, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ref, ok := x.entries[key{rec, rev}]
	return ref, ok
}

// Evict drops the pointer. Only compaction calls this.
func (x *Index) Evict(rec models.RecordID, rev models.RevisionID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.entries, key{rec, rev})
}

// Len returns the number of stored pointers.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.entries)
}
