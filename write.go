package multiversion

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// Create assigns a new record id and writes its root revision in ws. If the
// root write fails the id is released again.
func (m *Manager) Create(ctx context.Context, ws models.WorkspaceID, recordType string, payload []byte) (models.RecordID, models.RevisionID, error) {
	rec, err := m.ids.Assign(recordType)
	if err != nil {
		return models.RecordID{}, "", err
	}
	rev, err := m.root(ctx, rec, ws, recordType, payload)
	if err != nil {
		return models.RecordID{}, "", err
	}
	return rec, rev, nil
}

// CreateWithID writes the root revision of a record whose id was assigned
// elsewhere, for example by an importer keeping legacy ids stable. It fails
// with constants.ErrConflict if rec is already known. If the root write fails
// rec is released again.
func (m *Manager) CreateWithID(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, recordType string, payload []byte) (models.RevisionID, error) {
	added, err := m.ids.Adopt(rec, recordType)
	if err != nil {
		return "", err
	}
	if !added {
		return "", fmt.Errorf("%w: record %s already exists", constants.ErrConflict, rec)
	}
	return m.root(ctx, rec, ws, recordType, payload)
}

func (m *Manager) root(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, recordType string, payload []byte) (rev models.RevisionID, err error) {
	defer func() {
		if err != nil {
			m.release(ctx, rec)
		}
	}()
	if m.catalog != nil {
		if err := m.catalog.PersistRecord(ctx, rec, recordType); err != nil {
			return "", err
		}
	}
	return m.Write(ctx, rec, ws, "", payload)
}

// register adopts rec for a replicated branch. It reports whether rec was new
// so a failed merge can release it.
func (m *Manager) register(ctx context.Context, rec models.RecordID, recordType string) (bool, error) {
	added, err := m.ids.Adopt(rec, recordType)
	if err != nil || !added {
		return false, err
	}
	if m.catalog != nil {
		if err := m.catalog.PersistRecord(ctx, rec, recordType); err != nil {
			m.release(ctx, rec)
			return false, err
		}
	}
	return true, nil
}

// release undoes the registration of a record whose first write failed. A
// record that meanwhile got revisions is kept.
func (m *Manager) release(ctx context.Context, rec models.RecordID) {
	if _, ok := m.trees.Snapshot(rec); ok {
		return
	}
	m.ids.Forget(rec)
	if m.catalog == nil {
		return
	}
	if err := m.catalog.DeleteRecord(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Error().Err(err).Str("record", rec.String()).Msg("failed to release record")
	}
}

// Write adds a revision with payload on top of the current winner of rec in
// ws. If base is not empty it must equal that winner, otherwise the write
// fails with constants.ErrConflict. A record without revisions gets a root.
func (m *Manager) Write(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, base models.RevisionID, payload []byte) (models.RevisionID, error) {
	return m.write(ctx, "Write", rec, ws, base, payload, false)
}

// Delete adds a tombstone on top of the current winner of rec in ws. The
// tombstone is an ordinary revision: it replicates and can be written over.
func (m *Manager) Delete(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, base models.RevisionID) (models.RevisionID, error) {
	return m.write(ctx, "Delete", rec, ws, base, nil, true)
}

func (m *Manager) write(ctx context.Context, op string, rec models.RecordID, ws models.WorkspaceID, base models.RevisionID, payload []byte, deleted bool) (id models.RevisionID, err error) {
	ctx, span, finish := m.startSpan(ctx, op,
		attribute.String("record", rec.String()),
		attribute.String("workspace", ws.String()),
		attribute.String("base", base.String()),
	)
	defer func() { finish(err) }()

	m.scopeMu.RLock()
	defer m.scopeMu.RUnlock()

	if !m.ids.Exists(rec) {
		return "", fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}
	if _, err := m.spaces.Get(ws); err != nil {
		return "", err
	}
	if payload == nil {
		payload = []byte{}
	}

	prepare := func(t *revtree.Tree) (models.RevisionID, models.RevisionID, error) {
		var parent models.RevisionID
		sel, visible := t.Selection(ws)
		if visible {
			parent = sel.Winner
		}
		if !base.IsZero() && base != parent {
			return "", "", fmt.Errorf("%w: %s in %s is at %q, not %s", constants.ErrConflict, rec, ws, parent, base)
		}
		if !visible && !t.IsEmpty() {
			return "", "", fmt.Errorf("%w: record %s has no revision visible in workspace %s", constants.ErrNotFound, rec, ws)
		}
		if deleted {
			if !visible {
				return "", "", fmt.Errorf("%w: record %s has no revisions", constants.ErrNotFound, rec)
			}
			if n, _ := t.Node(parent); n.Deleted {
				return "", "", fmt.Errorf("%w: record %s is already deleted in %s", constants.ErrNotFound, rec, ws)
			}
		}
		var err error
		id, err = models.ComputeRevisionID(parent.Generation()+1, parent, deleted, payload)
		return parent, id, err
	}
	commit := func(t *revtree.Tree) error {
		n, _ := t.Node(id)
		rev := n.Revision(rec)
		rev.Content = payload
		return m.persist(ctx, rec, []models.Revision{rev}, []models.Edge{models.EdgeOf(rev, ws)})
	}

	add := m.trees.InsertRevision
	if deleted {
		add = m.trees.MarkTombstone
	}
	if _, err = add(rec, ws, m.spaces, prepare, commit); err != nil {
		return "", err
	}

	kind := "write"
	if deleted {
		kind = "tombstone"
	}
	revisionsTotal.WithLabelValues(kind).Inc()
	span.SetAttributes(attribute.String("revision", id.String()))
	m.logger.Debug().
		Str("record", rec.String()).
		Str("workspace", ws.String()).
		Str("revision", id.String()).
		Bool("deleted", deleted).
		Msg("revision written")
	return id, nil
}

// persist writes the payloads of revs, then edges, through the adaptor and
// only then records the payload pointers. It runs inside the record's
// critical section before the new tree is published, so a failure at any
// step leaves the indices as they were.
func (m *Manager) persist(ctx context.Context, rec models.RecordID, revs []models.Revision, edges []models.Edge) error {
	refs := make([]models.PayloadRef, len(revs))
	for i, rev := range revs {
		refs[i] = models.NewPayloadRef(rev.Content)
		if err := m.revs.Check(rec, rev.ID, refs[i]); err != nil {
			return err
		}
	}
	for _, rev := range revs {
		if err := m.adaptor.Persist(ctx, rec, rev.ID, rev.Content); err != nil {
			return err
		}
	}
	for _, edge := range edges {
		if err := m.adaptor.PersistTreeEdge(ctx, edge); err != nil {
			return err
		}
	}
	for i, rev := range revs {
		if err := m.revs.Put(rec, rev.ID, refs[i]); err != nil {
			for _, done := range revs[:i] {
				m.revs.Evict(rec, done.ID)
			}
			return err
		}
	}
	return nil
}

type replicateConfig struct {
	target     models.WorkspaceID
	recordType string
}

type ReplicateOption func(c *replicateConfig)

// IntoWorkspace merges into ws instead of the default workspace.
func IntoWorkspace(ws models.WorkspaceID) ReplicateOption {
	return func(c *replicateConfig) {
		c.target = ws
	}
}

// AsType registers a record unknown to this replica with the given type
// instead of failing with constants.ErrNotFound.
func AsType(recordType string) ReplicateOption {
	return func(c *replicateConfig) {
		c.recordType = recordType
	}
}

// ReplicateIn merges revisions received from another replica or workspace
// into the tree of rec. Each revision must carry its Content so its id can be
// verified. Revisions already present only become visible in the target
// workspace, so replicating the same revisions twice changes nothing. It
// returns the conflicts of rec in the target workspace after the merge.
func (m *Manager) ReplicateIn(ctx context.Context, rec models.RecordID, subtree []models.Revision, opts ...ReplicateOption) (conflicts []models.RevisionID, err error) {
	cfg := replicateConfig{target: m.DefaultWorkspace()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span, finish := m.startSpan(ctx, "ReplicateIn",
		attribute.String("record", rec.String()),
		attribute.String("workspace", cfg.target.String()),
		attribute.Int("incoming", len(subtree)),
	)
	defer func() { finish(err) }()

	m.scopeMu.RLock()
	defer m.scopeMu.RUnlock()

	if _, err := m.spaces.Get(cfg.target); err != nil {
		return nil, err
	}
	if !m.ids.Exists(rec) {
		if cfg.recordType == "" {
			return nil, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
		}
		added, rerr := m.register(ctx, rec, cfg.recordType)
		if rerr != nil {
			return nil, rerr
		}
		if added {
			defer func() {
				if err != nil {
					m.release(ctx, rec)
				}
			}()
		}
	}

	content := make(map[models.RevisionID]models.Revision, len(subtree))
	for _, rev := range subtree {
		ok, err := rev.Verify()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s of record %s", constants.ErrRevisionMismatch, rev.ID, rec)
		}
		rev.Record = rec
		content[rev.ID] = rev
	}

	var inserted int
	sel, err := m.trees.MergeBranch(rec, subtree, cfg.target, m.spaces, func(t *revtree.Tree, merged revtree.Merged) error {
		for id, rev := range content {
			if merged.Inserted[id] {
				continue
			}
			if _, present := m.revs.Get(rec, id); present {
				if err := m.revs.Check(rec, id, models.NewPayloadRef(rev.Content)); err != nil {
					return err
				}
			}
		}

		var (
			fresh []models.Revision
			edges []models.Edge
		)
		for _, id := range merged.Exposed {
			n, _ := t.Node(id)
			rev := n.Revision(rec)
			if merged.Inserted[id] {
				rev.Content = content[id].Content
				fresh = append(fresh, rev)
				// the first edge carries the origin so Restore rebuilds it
				edges = append(edges, models.EdgeOf(rev, rev.Workspace))
				if rev.Workspace == cfg.target {
					continue
				}
			}
			edges = append(edges, models.EdgeOf(rev, cfg.target))
		}
		if err := m.persist(ctx, rec, fresh, edges); err != nil {
			return err
		}
		inserted = len(fresh)
		return nil
	})
	if err != nil {
		return nil, err
	}

	revisionsTotal.WithLabelValues("replicated").Add(float64(inserted))
	conflictLeaves.Observe(float64(len(sel.Conflicts)))
	span.SetAttributes(attribute.Int("inserted", inserted), attribute.Int("conflicts", len(sel.Conflicts)))
	m.logger.Debug().
		Str("record", rec.String()).
		Str("workspace", cfg.target.String()).
		Int("inserted", inserted).
		Int("conflicts", len(sel.Conflicts)).
		Msg("branch merged")
	return sel.Conflicts, nil
}
