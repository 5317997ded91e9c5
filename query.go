package multiversion

import (
	"context"
	"fmt"
	"iter"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// Document is the current state of a record in a workspace.
type Document struct {
	Revision  models.Revision
	Payload   []byte
	Conflicts []models.RevisionID
}

func (m *Manager) selection(rec models.RecordID, ws models.WorkspaceID) (revtree.Selection, *revtree.Tree, error) {
	t, ok := m.trees.Snapshot(rec)
	if !ok {
		return revtree.Selection{}, nil, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}
	sel, ok := t.Selection(ws)
	if !ok {
		if _, err := m.spaces.Get(ws); err != nil {
			return revtree.Selection{}, nil, err
		}
		return revtree.Selection{}, nil, fmt.Errorf("%w: record %s has no revision visible in workspace %s", constants.ErrNotFound, rec, ws)
	}
	return sel, t, nil
}

// Current returns the winner of rec in ws. The winner may be a tombstone.
func (m *Manager) Current(rec models.RecordID, ws models.WorkspaceID) (models.RevisionID, error) {
	sel, _, err := m.selection(rec, ws)
	if err != nil {
		return "", err
	}
	return sel.Winner, nil
}

// Conflicts returns the live leaves of rec in ws that lost to the winner.
func (m *Manager) Conflicts(rec models.RecordID, ws models.WorkspaceID) ([]models.RevisionID, error) {
	sel, _, err := m.selection(rec, ws)
	if err != nil {
		return nil, err
	}
	return sel.Conflicts, nil
}

// Tree returns the published revision tree of rec. It must not be modified.
func (m *Manager) Tree(rec models.RecordID) (*revtree.Tree, error) {
	t, ok := m.trees.Snapshot(rec)
	if !ok {
		return nil, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}
	return t, nil
}

// History yields every revision of rec ordered by generation, then id. The
// sequence reads a fresh snapshot each time it is ranged over, so it can be
// restarted. Compacted revisions are included with Compacted set.
func (m *Manager) History(rec models.RecordID) iter.Seq2[models.Revision, error] {
	return func(yield func(models.Revision, error) bool) {
		t, ok := m.trees.Snapshot(rec)
		if !ok {
			yield(models.Revision{}, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec))
			return
		}
		for _, n := range t.Revisions() {
			rev := n.Revision(rec)
			rev.Payload, _ = m.revs.Get(rec, n.ID)
			if !yield(rev, nil) {
				return
			}
		}
	}
}

// Revision returns one revision of rec with its payload. A compacted revision
// is returned with an error wrapping constants.ErrNotFound.
func (m *Manager) Revision(ctx context.Context, rec models.RecordID, id models.RevisionID) (models.Revision, []byte, error) {
	t, ok := m.trees.Snapshot(rec)
	if !ok {
		return models.Revision{}, nil, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}
	n, ok := t.Node(id)
	if !ok {
		return models.Revision{}, nil, fmt.Errorf("%w: revision %s of record %s", constants.ErrNotFound, id, rec)
	}
	rev := n.Revision(rec)
	if n.Compacted {
		return rev, nil, fmt.Errorf("%w: revision %s of record %s was compacted", constants.ErrNotFound, id, rec)
	}
	rev.Payload, _ = m.revs.Get(rec, id)
	payload, err := m.adaptor.Load(ctx, rec, id)
	if err != nil {
		return rev, nil, err
	}
	return rev, payload, nil
}

// Get returns the winner of rec in ws with its payload and conflicts. A record
// whose winner is a tombstone is reported as not found.
func (m *Manager) Get(ctx context.Context, rec models.RecordID, ws models.WorkspaceID) (Document, error) {
	sel, t, err := m.selection(rec, ws)
	if err != nil {
		return Document{}, err
	}
	n, _ := t.Node(sel.Winner)
	if n.Deleted {
		return Document{}, fmt.Errorf("%w: record %s is deleted in workspace %s", constants.ErrNotFound, rec, ws)
	}
	rev, payload, err := m.Revision(ctx, rec, sel.Winner)
	if err != nil {
		return Document{}, err
	}
	return Document{Revision: rev, Payload: payload, Conflicts: sel.Conflicts}, nil
}
