// Package identifier assigns and resolves stable record identifiers.
package identifier

import (
	"fmt"
	"sync"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

// maxAssignAttempts bounds the retry loop on a duplicate random id.
const maxAssignAttempts = 8

// Index maps record ids to their location. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[models.RecordID]models.Location
	seq     uint64

	// generate is swapped in tests to force collisions.
	generate func() (models.RecordID, error)
}

// New returns an empty index.
func New() *Index {
	return &Index{
		entries:  make(map[models.RecordID]models.Location),
		generate: models.NewRecordID,
	}
}

// Assign returns a fresh record id for recordType. An id is never handed out
// twice.
func (x *Index) Assign(recordType string) (models.RecordID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for range maxAssignAttempts {
		id, err := x.generate()
		if err != nil {
			return models.RecordID{}, err
		}
		if _, taken := x.entries[id]; taken {
			continue
		}
		x.put(id, recordType)
		return id, nil
	}
	return models.RecordID{}, fmt.Errorf("%w: could not assign a unique record id after %d attempts", constants.ErrConflict, maxAssignAttempts)
}

// Register adopts an id assigned elsewhere. Registering the same id with the
// same type again is a no-op.
func (x *Index) Register(id models.RecordID, recordType string) error {
	_, err := x.Adopt(id, recordType)
	return err
}

// Adopt is Register that also reports whether id was added by this call.
func (x *Index) Adopt(id models.RecordID, recordType string) (bool, error) {
	if id.IsZero() {
		return false, fmt.Errorf("%w: zero record id", constants.ErrInvariantViolation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if loc, ok := x.entries[id]; ok {
		if loc.Type != recordType {
			return false, fmt.Errorf("%w: record %s is registered as %q, not %q", constants.ErrConflict, id, loc.Type, recordType)
		}
		return false, nil
	}
	x.put(id, recordType)
	return true, nil
}

// Forget releases an id whose first write failed. Forgetting an unknown id
// is a no-op.
func (x *Index) Forget(id models.RecordID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.entries, id)
}

func (x *Index) put(id models.RecordID, recordType string) {
	x.seq++
	x.entries[id] = models.Location{Type: recordType, Seq: x.seq}
}

// Resolve returns where id lives, or an error wrapping constants.ErrNotFound.
func (x *Index) Resolve(id models.RecordID) (models.Location, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	loc, ok := x.entries[id]
	if !ok {
		return models.Location{}, fmt.Errorf("%w: record %s", constants.ErrNotFound, id)
	}
	return loc, nil
}

// Exists reports whether id has been assigned or registered.
func (x *Index) Exists(id models.RecordID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	_, ok := x.entries[id]
	return ok
}

// Len returns the number of known ids.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.entries)
}
