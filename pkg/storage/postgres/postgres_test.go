package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/models"
)

// StoreSuite runs against a real database named by MV_POSTGRES_DSN.
type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	if os.Getenv("MV_POSTGRES_DSN") == "" {
		t.Skip("MV_POSTGRES_DSN is not set")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	store, err := New(os.Getenv("MV_POSTGRES_DSN"))
	s.Require().NoError(err)
	s.Require().NoError(store.Migrate(s.ctx))
	s.store = store
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func (s *StoreSuite) newRecord() models.RecordID {
	rec, err := models.NewRecordID()
	s.Require().NoError(err)
	s.Require().NoError(s.store.PersistRecord(s.ctx, rec, "note"))
	return rec
}

func (s *StoreSuite) TestPayloadLifecycle() {
	rec := s.newRecord()
	rev, err := models.ComputeRevisionID(1, "", false, []byte("hello"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Persist(s.ctx, rec, rev, []byte("hello")))
	s.Require().NoError(s.store.Persist(s.ctx, rec, rev, []byte("hello")), "persist is idempotent")

	got, err := s.store.Load(s.ctx, rec, rev)
	s.Require().NoError(err)
	s.Equal("hello", string(got))

	s.Require().NoError(s.store.Evict(s.ctx, rec, rev))
	_, err = s.store.Load(s.ctx, rec, rev)
	s.ErrorIs(err, constants.ErrNotFound)
}

func (s *StoreSuite) TestEdgesKeepInsertionOrder() {
	rec := s.newRecord()
	live := models.NewNamedWorkspaceID("live")
	draft := models.NewWorkspaceID()

	r1, err := models.ComputeRevisionID(1, "", false, []byte("a"))
	s.Require().NoError(err)
	r2, err := models.ComputeRevisionID(2, r1, false, []byte("b"))
	s.Require().NoError(err)

	edges := []models.Edge{
		{Record: rec, Revision: r1, Generation: 1, Workspace: live},
		{Record: rec, Revision: r2, Parent: r1, Generation: 2, Workspace: draft},
		{Record: rec, Revision: r2, Parent: r1, Generation: 2, Workspace: live},
	}
	for _, e := range edges {
		s.Require().NoError(s.store.PersistTreeEdge(s.ctx, e))
	}
	s.Require().NoError(s.store.PersistTreeEdge(s.ctx, edges[0]))

	got, err := s.store.Edges(s.ctx, rec)
	s.Require().NoError(err)
	s.Equal(edges, got)
}

func (s *StoreSuite) TestWorkspaces() {
	parent := models.NewNamedWorkspaceID("live")
	rec := s.newRecord()
	ws := models.Workspace{
		ID:         models.NewWorkspaceID(),
		Name:       "fork-" + rec.String(),
		Parent:     &parent,
		Forked:     true,
		ForkPoints: map[models.RecordID]models.RevisionID{rec: "1-00000000000000000000000000000000"},
	}
	s.Require().NoError(s.store.PersistWorkspace(s.ctx, ws))

	list, err := s.store.Workspaces(s.ctx)
	s.Require().NoError(err)
	var found *models.Workspace
	for i := range list {
		if list[i].ID == ws.ID {
			found = &list[i]
		}
	}
	s.Require().NotNil(found)
	s.Equal(ws.ForkPoints, found.ForkPoints)
	s.Equal(parent, *found.Parent)

	s.Require().NoError(s.store.DeleteWorkspace(s.ctx, ws.ID))
}

func (s *StoreSuite) TestDeleteRecord() {
	rec := s.newRecord()
	rev, err := models.ComputeRevisionID(1, "", false, []byte("a"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Persist(s.ctx, rec, rev, []byte("a")))
	s.Require().NoError(s.store.PersistTreeEdge(s.ctx, models.Edge{Record: rec, Revision: rev, Generation: 1, Workspace: models.NewNamedWorkspaceID("live")}))

	s.Require().NoError(s.store.DeleteRecord(s.ctx, rec))
	s.Require().NoError(s.store.DeleteRecord(s.ctx, rec))

	_, err = s.store.Load(s.ctx, rec, rev)
	s.ErrorIs(err, constants.ErrNotFound)
	edges, err := s.store.Edges(s.ctx, rec)
	s.Require().NoError(err)
	s.Empty(edges)
	records, err := s.store.Records(s.ctx)
	s.Require().NoError(err)
	for _, r := range records {
		s.NotEqual(rec, r.ID)
	}
}
