// Package storage defines what the multiversion core needs from a durable
// backend.
//
// The core calls an Adaptor synchronously from inside a record's critical
// section and publishes nothing until the call returns nil. Errors are passed
// back to the caller unmodified.
package storage

import (
	"context"

	"github.com/surrealdb/multiversion/pkg/models"
)

// Adaptor persists revision payloads and tree edges.
type Adaptor interface {
	// Persist stores the payload of a revision. Persisting the same revision
	// twice must succeed.
	Persist(ctx context.Context, rec models.RecordID, rev models.RevisionID, payload []byte) error
	// Load returns the payload of a revision, or an error wrapping
	// constants.ErrNotFound if it was never stored or has been evicted.
	Load(ctx context.Context, rec models.RecordID, rev models.RevisionID) ([]byte, error)
	// PersistTreeEdge records that a revision became visible in a workspace.
	// Persisting the same edge twice must succeed.
	PersistTreeEdge(ctx context.Context, edge models.Edge) error
	// Evict drops the payload of a compacted revision. Its edges stay.
	Evict(ctx context.Context, rec models.RecordID, rev models.RevisionID) error
}

// RecordEntry is a record as remembered by a Catalog.
type RecordEntry struct {
	ID   models.RecordID
	Type string
}

// Catalog is implemented by adaptors that can list what they hold, so a
// process can rebuild its in-memory indices after a restart.
type Catalog interface {
	PersistRecord(ctx context.Context, rec models.RecordID, recordType string) error
	// DeleteRecord forgets rec together with every payload and edge stored
	// for it. It is used to release a record whose first write failed.
	// Deleting an unknown record must succeed.
	DeleteRecord(ctx context.Context, rec models.RecordID) error
	Records(ctx context.Context) ([]RecordEntry, error)
	// Edges returns the edges of rec in the order they were persisted.
	Edges(ctx context.Context, rec models.RecordID) ([]models.Edge, error)

	PersistWorkspace(ctx context.Context, ws models.Workspace) error
	DeleteWorkspace(ctx context.Context, id models.WorkspaceID) error
	// Workspaces returns every persisted workspace, parents before children.
	Workspaces(ctx context.Context) ([]models.Workspace, error)
}
