package multiversion

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revtree"
)

// CompactionPolicy chooses which interior revisions of a tree keep their
// payload. Revisions on the history of a live winner or conflict are kept
// regardless.
type CompactionPolicy interface {
	Keep(t *revtree.Tree) (map[models.RevisionID]bool, error)
}

// KeepNone compacts everything compaction is allowed to touch.
type KeepNone struct{}

func (KeepNone) Keep(*revtree.Tree) (map[models.RevisionID]bool, error) { return nil, nil }

// CompactStats summarizes a CompactAll run.
type CompactStats struct {
	Records   int
	Compacted int
}

// Compact drops the payload of every interior revision of rec that is not in
// keep and not on the history of a live winner or conflict. The revisions
// stay in the tree as stubs. It returns the compacted ids. If the adaptor
// fails to evict a payload, the revisions evicted before it are still
// returned, along with the error.
func (m *Manager) Compact(ctx context.Context, rec models.RecordID, keep map[models.RevisionID]bool) ([]models.RevisionID, error) {
	return m.compact(ctx, rec, func(*revtree.Tree) (map[models.RevisionID]bool, error) { return keep, nil })
}

func (m *Manager) compact(ctx context.Context, rec models.RecordID, keep func(*revtree.Tree) (map[models.RevisionID]bool, error)) (removed []models.RevisionID, err error) {
	ctx, span, finish := m.startSpan(ctx, "Compact", attribute.String("record", rec.String()))
	defer func() { finish(err) }()

	if _, ok := m.trees.Snapshot(rec); !ok {
		return nil, fmt.Errorf("%w: record %s", constants.ErrNotFound, rec)
	}

	// only revisions whose payload was evicted get marked compacted
	removed, err = m.trees.Compact(rec, keep, func(id models.RevisionID) error {
		return m.adaptor.Evict(ctx, rec, id)
	})
	for _, id := range removed {
		m.revs.Evict(rec, id)
	}

	compactedTotal.Add(float64(len(removed)))
	span.SetAttributes(attribute.Int("compacted", len(removed)))
	if len(removed) > 0 {
		m.logger.Debug().Str("record", rec.String()).Int("compacted", len(removed)).Msg("record compacted")
	}
	return removed, err
}

// CompactAll compacts every record with policy. It checks ctx between
// records and returns what it did so far when ctx is done.
func (m *Manager) CompactAll(ctx context.Context, policy CompactionPolicy) (CompactStats, error) {
	var stats CompactStats
	for _, rec := range m.trees.Records() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		removed, err := m.compact(ctx, rec, policy.Keep)
		if err != nil {
			return stats, err
		}
		stats.Records++
		stats.Compacted += len(removed)
	}
	m.logger.Info().Int("records", stats.Records).Int("compacted", stats.Compacted).Msg("compaction finished")
	return stats, nil
}
