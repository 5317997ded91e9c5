package multiversion

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// Restore rebuilds the in-memory indices from the adaptor's catalog. It is
// meant to run once at startup, before any other call.
func (m *Manager) Restore(ctx context.Context) (err error) {
	ctx, span, finish := m.startSpan(ctx, "Restore")
	defer func() { finish(err) }()

	if m.catalog == nil {
		return errors.New("storage adaptor does not implement storage.Catalog")
	}

	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()

	spaces, err := m.catalog.Workspaces(ctx)
	if err != nil {
		return err
	}
	for _, ws := range spaces {
		if ws.IsDefault || ws.ID == m.DefaultWorkspace() {
			continue
		}
		if err := m.spaces.Restore(ws); err != nil {
			return err
		}
	}

	records, err := m.catalog.Records(ctx)
	if err != nil {
		return err
	}
	for _, entry := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.ids.Register(entry.ID, entry.Type); err != nil {
			return err
		}
		if err := m.restoreRecord(ctx, entry.ID); err != nil {
			return fmt.Errorf("failed to restore record %s: %w", entry.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("records", len(records)), attribute.Int("workspaces", len(spaces)))
	m.logger.Info().Int("records", len(records)).Int("workspaces", len(spaces)).Msg("indices restored")
	return nil
}

func (m *Manager) restoreRecord(ctx context.Context, rec models.RecordID) error {
	edges, err := m.catalog.Edges(ctx, rec)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	slices.SortStableFunc(edges, func(a, b models.Edge) int {
		return int(a.Generation) - int(b.Generation)
	})

	_, err = m.trees.Update(rec, func(t *revtree.Tree) error {
		for _, e := range edges {
			rev := models.Revision{
				ID:         e.Revision,
				Record:     rec,
				Generation: e.Generation,
				Parent:     e.Parent,
				Deleted:    e.Deleted,
				Workspace:  e.Workspace,
			}
			if _, err := t.Merge([]models.Revision{rev}, e.Workspace); err != nil {
				return err
			}
		}

		var evicted []models.RevisionID
		refs := make(map[models.RevisionID]models.PayloadRef)
		for _, n := range t.Revisions() {
			payload, err := m.adaptor.Load(ctx, rec, n.ID)
			if errors.Is(err, constants.ErrNotFound) {
				evicted = append(evicted, n.ID)
				continue
			}
			if err != nil {
				return err
			}
			refs[n.ID] = models.NewPayloadRef(payload)
		}
		if err := t.Prune(evicted, nil); err != nil {
			return err
		}
		if err := t.Recompute(m.spaces); err != nil {
			return err
		}
		for id, ref := range refs {
			if err := m.revs.Put(rec, id, ref); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}
