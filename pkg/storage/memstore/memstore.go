// Package memstore is an in-memory storage.Adaptor and storage.Catalog.
//
// Edges are kept CBOR-encoded with the canonical codec so that what a test
// reads back went through the same encoding a durable backend would use.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/surrealdb/multiversion/internal/codec"
	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/storage"
)

type key struct {
	rec models.RecordID
	rev models.RevisionID
}

type edgeKey struct {
	rec models.RecordID
	rev models.RevisionID
	ws  models.WorkspaceID
}

type Store struct {
	mu       sync.RWMutex
	payloads map[key][]byte
	edges    map[models.RecordID][][]byte
	seen     map[edgeKey]bool
	records  []storage.RecordEntry
	spaces   []models.Workspace
}

var (
	_ storage.Adaptor = (*Store)(nil)
	_ storage.Catalog = (*Store)(nil)
)

func New() *Store {
	return &Store{
		payloads: make(map[key][]byte),
		edges:    make(map[models.RecordID][][]byte),
		seen:     make(map[edgeKey]bool),
	}
}

func (s *Store) Persist(_ context.Context, rec models.RecordID, rev models.RevisionID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payloads[key{rec, rev}] = slices.Clone(payload)
	return nil
}

func (s *Store) Load(_ context.Context, rec models.RecordID, rev models.RevisionID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payloads[key{rec, rev}]
	if !ok {
		return nil, fmt.Errorf("%w: payload of %s@%s", constants.ErrNotFound, rec, rev)
	}
	return slices.Clone(p), nil
}

func (s *Store) PersistTreeEdge(_ context.Context, edge models.Edge) error {
	data, err := codec.Canonical().Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to encode edge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := edgeKey{edge.Record, edge.Revision, edge.Workspace}
	if s.seen[k] {
		return nil
	}
	s.seen[k] = true
	s.edges[edge.Record] = append(s.edges[edge.Record], data)
	return nil
}

func (s *Store) Evict(_ context.Context, rec models.RecordID, rev models.RevisionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.payloads, key{rec, rev})
	return nil
}

func (s *Store) PersistRecord(_ context.Context, rec models.RecordID, recordType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.ContainsFunc(s.records, func(e storage.RecordEntry) bool { return e.ID == rec }) {
		return nil
	}
	s.records = append(s.records, storage.RecordEntry{ID: rec, Type: recordType})
	return nil
}

func (s *Store) DeleteRecord(_ context.Context, rec models.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = slices.DeleteFunc(s.records, func(e storage.RecordEntry) bool { return e.ID == rec })
	delete(s.edges, rec)
	for k := range s.payloads {
		if k.rec == rec {
			delete(s.payloads, k)
		}
	}
	for k := range s.seen {
		if k.rec == rec {
			delete(s.seen, k)
		}
	}
	return nil
}

func (s *Store) Records(context.Context) ([]storage.RecordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.records), nil
}

func (s *Store) Edges(_ context.Context, rec models.RecordID) ([]models.Edge, error) {
	s.mu.RLock()
	raw := slices.Clone(s.edges[rec])
	s.mu.RUnlock()

	out := make([]models.Edge, 0, len(raw))
	for _, data := range raw {
		var e models.Edge
		if err := codec.Canonical().Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode edge of %s: %w", rec, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) PersistWorkspace(_ context.Context, ws models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.IndexFunc(s.spaces, func(w models.Workspace) bool { return w.ID == ws.ID }); i >= 0 {
		s.spaces[i] = ws
		return nil
	}
	s.spaces = append(s.spaces, ws)
	return nil
}

func (s *Store) DeleteWorkspace(_ context.Context, id models.WorkspaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spaces = slices.DeleteFunc(s.spaces, func(w models.Workspace) bool { return w.ID == id })
	return nil
}

func (s *Store) Workspaces(context.Context) ([]models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.spaces), nil
}
