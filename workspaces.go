package multiversion

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// CreateWorkspace adds a child of parent (the default workspace when nil)
// that sees everything its parent sees plus its own writes.
func (m *Manager) CreateWorkspace(ctx context.Context, parent *models.WorkspaceID, name string) (ws models.Workspace, err error) {
	ctx, _, finish := m.startSpan(ctx, "CreateWorkspace", attribute.String("name", name))
	defer func() { finish(err) }()

	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()

	ws, err = m.spaces.Create(parent, name)
	if err != nil {
		return models.Workspace{}, err
	}
	return ws, m.registerWorkspace(ctx, ws)
}

// ForkWorkspace adds a child of parent that starts from the parent's current
// winners and does not see later writes to the parent.
func (m *Manager) ForkWorkspace(ctx context.Context, parent models.WorkspaceID, name string) (ws models.Workspace, err error) {
	ctx, span, finish := m.startSpan(ctx, "ForkWorkspace", attribute.String("name", name))
	defer func() { finish(err) }()

	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()

	if _, err := m.spaces.Get(parent); err != nil {
		return models.Workspace{}, err
	}
	points := make(map[models.RecordID]models.RevisionID)
	for _, rec := range m.trees.Records() {
		t, _ := m.trees.Snapshot(rec)
		if sel, ok := t.Selection(parent); ok {
			points[rec] = sel.Winner
		}
	}
	span.SetAttributes(attribute.Int("fork_points", len(points)))

	ws, err = m.spaces.Fork(parent, name, points)
	if err != nil {
		return models.Workspace{}, err
	}
	return ws, m.registerWorkspace(ctx, ws)
}

func (m *Manager) registerWorkspace(ctx context.Context, ws models.Workspace) error {
	if m.catalog != nil {
		if err := m.catalog.PersistWorkspace(ctx, ws); err != nil {
			if derr := m.spaces.Delete(ws.ID); derr != nil {
				m.logger.Error().Err(derr).Str("workspace", ws.ID.String()).Msg("failed to drop unpersisted workspace")
			}
			return err
		}
	}
	if err := m.refresh(); err != nil {
		return err
	}
	m.logger.Info().Str("workspace", ws.ID.String()).Str("name", ws.Name).Bool("forked", ws.Forked).Msg("workspace created")
	return nil
}

// DeleteWorkspace removes ws. It fails with constants.ErrHasDependents while
// ws has child workspaces and with constants.ErrPinnedWinner if some record's
// winner in ws is visible in no other workspace, since deleting ws would make
// that revision unreachable.
func (m *Manager) DeleteWorkspace(ctx context.Context, ws models.WorkspaceID) (err error) {
	ctx, _, finish := m.startSpan(ctx, "DeleteWorkspace", attribute.String("workspace", ws.String()))
	defer func() { finish(err) }()

	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()

	if ws == m.DefaultWorkspace() {
		return constants.ErrDefaultWorkspace
	}
	w, err := m.spaces.Get(ws)
	if err != nil {
		return err
	}
	if kids := m.spaces.Children(ws); len(kids) > 0 {
		return fmt.Errorf("%w: %d child workspace(s)", constants.ErrHasDependents, len(kids))
	}
	if rec, rev, pinned, err := m.pinned(ws); err != nil {
		return err
	} else if pinned {
		return fmt.Errorf("%w: %s of record %s", constants.ErrPinnedWinner, rev, rec)
	}

	// the catalog goes first so a restart never brings back a deleted workspace
	if m.catalog != nil {
		if err := m.catalog.DeleteWorkspace(ctx, ws); err != nil {
			return err
		}
	}
	if err := m.spaces.Delete(ws); err != nil {
		if m.catalog != nil {
			if perr := m.catalog.PersistWorkspace(context.WithoutCancel(ctx), w); perr != nil {
				m.logger.Error().Err(perr).Str("workspace", ws.String()).Msg("failed to restore workspace in catalog")
			}
		}
		return err
	}
	if err := m.refresh(); err != nil {
		return err
	}
	m.logger.Info().Str("workspace", ws.String()).Msg("workspace deleted")
	return nil
}

// pinned finds a record whose winner in ws no other workspace can see.
func (m *Manager) pinned(ws models.WorkspaceID) (models.RecordID, models.RevisionID, bool, error) {
	others := m.spaces.Workspaces()
	for _, rec := range m.trees.Records() {
		t, _ := m.trees.Snapshot(rec)
		sel, ok := t.Selection(ws)
		if !ok {
			continue
		}
		seen := false
		for _, other := range others {
			if other == ws {
				continue
			}
			visible, err := m.spaces.Visible(t, other, sel.Winner)
			if err != nil {
				return models.RecordID{}, "", false, err
			}
			if visible {
				seen = true
				break
			}
		}
		if !seen {
			return rec, sel.Winner, true, nil
		}
	}
	return models.RecordID{}, "", false, nil
}

// refresh recomputes the selections of every record after the set of
// workspaces changed. The caller holds scopeMu exclusively.
func (m *Manager) refresh() error {
	for _, rec := range m.trees.Records() {
		if _, err := m.trees.Update(rec, func(t *revtree.Tree) error {
			return t.Recompute(m.spaces)
		}); err != nil {
			return err
		}
	}
	return nil
}
