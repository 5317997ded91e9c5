package negotiator

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/workspace"
)

func TestDefault(t *testing.T) {
	spaces := workspace.New("")
	d := Default{ID: spaces.DefaultWorkspace().ID}

	r := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	assert.True(t, d.Applies(r))
	id, err := d.WorkspaceID(r)
	require.NoError(t, err)
	assert.Equal(t, spaces.DefaultWorkspace().ID, id)
}

func TestHeaderResolvesNameAndID(t *testing.T) {
	spaces := workspace.New("")
	draft, err := spaces.Create(nil, "draft")
	require.NoError(t, err)
	h := Header{Resolver: spaces}

	byName := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	byName.Header.Set(constants.WorkspaceHeader, "draft")
	require.True(t, h.Applies(byName))
	id, err := h.WorkspaceID(byName)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, id)

	byID := httptest.NewRequest(http.MethodGet, "/api/records?workspace="+draft.ID.String(), nil)
	require.True(t, h.Applies(byID))
	id, err = h.WorkspaceID(byID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, id)

	unknown := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	unknown.Header.Set(constants.WorkspaceHeader, "missing")
	_, err = h.WorkspaceID(unknown)
	require.ErrorIs(t, err, constants.ErrNotFound)

	assert.False(t, h.Applies(httptest.NewRequest(http.MethodGet, "/api/records", nil)))
}

func TestHeaderPrefersHeaderOverQuery(t *testing.T) {
	spaces := workspace.New("")
	a, err := spaces.Create(nil, "a")
	require.NoError(t, err)
	_, err = spaces.Create(nil, "b")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/records?workspace=b", nil)
	r.Header.Set(constants.WorkspaceHeader, "a")
	id, err := Header{Resolver: spaces}.WorkspaceID(r)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}

func TestChainFallsBackToDefault(t *testing.T) {
	spaces := workspace.New("")
	draft, err := spaces.Create(nil, "draft")
	require.NoError(t, err)
	chain := Chain{Header{Resolver: spaces}, Default{ID: spaces.DefaultWorkspace().ID}}

	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, chain.Applies(plain))
	id, err := chain.WorkspaceID(plain)
	require.NoError(t, err)
	assert.Equal(t, spaces.DefaultWorkspace().ID, id)

	scoped := httptest.NewRequest(http.MethodGet, "/", nil)
	scoped.Header.Set(constants.WorkspaceHeader, "draft")
	id, err = chain.WorkspaceID(scoped)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, id)

	require.NoError(t, chain.Persist(draft.ID))

	_, err = Chain{}.WorkspaceID(plain)
	require.ErrorIs(t, err, constants.ErrNotFound)
}
