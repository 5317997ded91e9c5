package revtree

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

type slot struct {
	mu   sync.Mutex
	tree atomic.Pointer[Tree]
}

// Index holds the published tree of every record. Writes to one record are
// serialized; writes to different records never wait on each other.
type Index struct {
	slots sync.Map // models.RecordID -> *slot
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{}
}

func (x *Index) slot(rec models.RecordID) *slot {
	if s, ok := x.slots.Load(rec); ok {
		return s.(*slot)
	}
	s, _ := x.slots.LoadOrStore(rec, &slot{})
	return s.(*slot)
}

// Snapshot returns the published tree of rec without locking. The tree must
// not be modified.
func (x *Index) Snapshot(rec models.RecordID) (*Tree, bool) {
	s, ok := x.slots.Load(rec)
	if !ok {
		return nil, false
	}
	t := s.(*slot).tree.Load()
	return t, t != nil
}

// Records returns every record that has a published tree, sorted.
func (x *Index) Records() []models.RecordID {
	var out []models.RecordID
	x.slots.Range(func(k, v any) bool {
		if v.(*slot).tree.Load() != nil {
			out = append(out, k.(models.RecordID))
		}
		return true
	})
	slices.SortFunc(out, func(a, b models.RecordID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Update runs fn on a private copy of the tree of rec while holding the
// record lock. The copy is published if fn returns nil and dropped otherwise,
// so a failed fn leaves no trace.
func (x *Index) Update(rec models.RecordID, fn func(t *Tree) error) (*Tree, error) {
	s := x.slot(rec)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.tree.Load()
	var next *Tree
	if cur != nil {
		next = cur.Clone()
	} else {
		next = NewTree(rec)
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	if cur == nil && next.IsEmpty() {
		// nothing to publish for a record without revisions
		return next, nil
	}
	s.tree.Store(next)
	return next, nil
}

// Prepare picks the parent and id of a new revision from the locked tree.
type Prepare func(t *Tree) (parent, id models.RevisionID, err error)

// Commit runs on the changed tree after winners were recomputed and before it
// is published. An error drops the change.
type Commit func(t *Tree) error

// At prepares a revision whose parent and id are already known.
func At(parent, id models.RevisionID) Prepare {
	return func(*Tree) (models.RevisionID, models.RevisionID, error) {
		return parent, id, nil
	}
}

// InsertRevision inserts the revision chosen by prepare into ws, recomputes
// winners and runs commit, all under the record lock.
func (x *Index) InsertRevision(rec models.RecordID, ws models.WorkspaceID, v Visibility, prepare Prepare, commit Commit) (*Tree, error) {
	return x.add(rec, ws, v, prepare, commit, false)
}

// MarkTombstone is InsertRevision for a deleted leaf under an existing
// parent.
func (x *Index) MarkTombstone(rec models.RecordID, ws models.WorkspaceID, v Visibility, prepare Prepare, commit Commit) (*Tree, error) {
	return x.add(rec, ws, v, prepare, commit, true)
}

func (x *Index) add(rec models.RecordID, ws models.WorkspaceID, v Visibility, prepare Prepare, commit Commit, deleted bool) (*Tree, error) {
	return x.Update(rec, func(t *Tree) error {
		parent, id, err := prepare(t)
		if err != nil {
			return err
		}
		if deleted {
			_, err = t.Tombstone(parent, id, ws)
		} else {
			_, err = t.Insert(parent, id, id.Generation(), false, ws)
		}
		if err != nil {
			return err
		}
		if err := t.Recompute(v); err != nil {
			return err
		}
		if commit != nil {
			return commit(t)
		}
		return nil
	})
}

// Merged describes what a MergeBranch changed.
type Merged struct {
	// Exposed are the revisions that became visible in the target, in
	// insertion order.
	Exposed []models.RevisionID
	// Inserted are the incoming revisions that were new to the tree.
	Inserted map[models.RevisionID]bool
}

// MergeBranch merges foreign revisions into target, recomputes winners and
// runs commit before publishing. It returns the selection of target
// afterwards.
func (x *Index) MergeBranch(rec models.RecordID, incoming []models.Revision, target models.WorkspaceID, v Visibility, commit func(t *Tree, m Merged) error) (Selection, error) {
	t, err := x.Update(rec, func(t *Tree) error {
		m := Merged{Inserted: make(map[models.RevisionID]bool)}
		for _, rev := range incoming {
			if !t.Has(rev.ID) {
				m.Inserted[rev.ID] = true
			}
		}
		var err error
		if m.Exposed, err = t.Merge(incoming, target); err != nil {
			return err
		}
		if err := t.Recompute(v); err != nil {
			return err
		}
		if commit != nil {
			return commit(t, m)
		}
		return nil
	})
	if err != nil {
		return Selection{}, err
	}
	sel, _ := t.Selection(target)
	return sel, nil
}

// Compact compacts rec. keep may be nil. evict is called for each revision
// before it is marked compacted; compaction stops at the first failure and
// publishes only the revisions evicted so far, returning them together with
// the error.
func (x *Index) Compact(rec models.RecordID, keep func(t *Tree) (map[models.RevisionID]bool, error), evict func(id models.RevisionID) error) ([]models.RevisionID, error) {
	var (
		removed  []models.RevisionID
		evictErr error
	)
	_, err := x.Update(rec, func(t *Tree) error {
		var k map[models.RevisionID]bool
		if keep != nil {
			var err error
			if k, err = keep(t); err != nil {
				return err
			}
		}
		if t.IsEmpty() {
			return fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
		}
		protected := t.Protected()
		for _, id := range t.Compactable(k, protected) {
			if evict != nil {
				if evictErr = evict(id); evictErr != nil {
					break
				}
			}
			removed = append(removed, id)
		}
		return t.Prune(removed, protected)
	})
	if err != nil {
		return nil, err
	}
	return removed, evictErr
}
