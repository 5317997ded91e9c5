package memstore

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/storage"
)

var rec = models.MustParseRecordID("3b241101-e2bb-4255-8caf-4136c566a962")

func TestPayloadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	payload := []byte(`{"a":1}`)
	require.NoError(t, s.Persist(ctx, rec, "1-aa", payload))
	require.NoError(t, s.Persist(ctx, rec, "1-aa", payload))

	payload[0] = 'X'
	got, err := s.Load(ctx, rec, "1-aa")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got), "the store keeps its own copy")

	require.NoError(t, s.Evict(ctx, rec, "1-aa"))
	_, err = s.Load(ctx, rec, "1-aa")
	require.ErrorIs(t, err, constants.ErrNotFound)
}

func TestEdgesRoundTripInOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	live := models.NewNamedWorkspaceID("live")
	draft := models.NewNamedWorkspaceID("draft")

	edges := []models.Edge{
		{Record: rec, Revision: "1-aa", Generation: 1, Workspace: live},
		{Record: rec, Revision: "2-bb", Parent: "1-aa", Generation: 2, Workspace: live},
		{Record: rec, Revision: "2-bb", Parent: "1-aa", Generation: 2, Workspace: draft},
		{Record: rec, Revision: "3-cc", Parent: "2-bb", Generation: 3, Deleted: true, Workspace: draft},
	}
	for _, e := range edges {
		require.NoError(t, s.PersistTreeEdge(ctx, e))
	}
	// duplicates are ignored
	require.NoError(t, s.PersistTreeEdge(ctx, edges[1]))

	got, err := s.Edges(ctx, rec)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(edges, got, cmp.Comparer(func(a, b models.WorkspaceID) bool { return a == b })))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.PersistRecord(ctx, rec, "note"))
	require.NoError(t, s.PersistRecord(ctx, rec, "note"))
	records, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.RecordEntry{{ID: rec, Type: "note"}}, records)

	ws := models.Workspace{ID: models.NewWorkspaceID(), Name: "draft"}
	require.NoError(t, s.PersistWorkspace(ctx, ws))
	ws.Name = "renamed"
	require.NoError(t, s.PersistWorkspace(ctx, ws))

	list, err := s.Workspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)

	require.NoError(t, s.DeleteWorkspace(ctx, ws.ID))
	list, err = s.Workspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteRecordDropsEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	other := models.MustParseRecordID("9f1c2d8a-5a4b-4c3d-8e2f-1a2b3c4d5e6f")
	live := models.NewNamedWorkspaceID("live")

	for _, r := range []models.RecordID{rec, other} {
		require.NoError(t, s.PersistRecord(ctx, r, "note"))
		require.NoError(t, s.Persist(ctx, r, "1-aa", []byte("a")))
		require.NoError(t, s.PersistTreeEdge(ctx, models.Edge{Record: r, Revision: "1-aa", Generation: 1, Workspace: live}))
	}

	require.NoError(t, s.DeleteRecord(ctx, rec))
	require.NoError(t, s.DeleteRecord(ctx, rec), "deleting twice succeeds")

	records, err := s.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.RecordEntry{{ID: other, Type: "note"}}, records)
	_, err = s.Load(ctx, rec, "1-aa")
	require.ErrorIs(t, err, constants.ErrNotFound)
	edges, err := s.Edges(ctx, rec)
	require.NoError(t, err)
	assert.Empty(t, edges)

	_, err = s.Load(ctx, other, "1-aa")
	require.NoError(t, err)

	// a released record can be stored again from scratch
	require.NoError(t, s.PersistTreeEdge(ctx, models.Edge{Record: rec, Revision: "1-aa", Generation: 1, Workspace: live}))
	edges, err = s.Edges(ctx, rec)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}
