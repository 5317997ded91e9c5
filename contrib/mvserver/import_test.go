package mvserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/constants"
)

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"legacy_id":"1","type":"note","payload":{"n":1}}
{"legacy_id":"1","payload":{"n":2}}
`), 0o600))

	require.NoError(t, app.Import(ctx, &ImportCommand{File: path}))
	records := app.Manager().Records()
	require.Len(t, records, 1)
	doc, err := app.Manager().Get(ctx, records[0], app.Manager().DefaultWorkspace())
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc.Payload))

	require.ErrorIs(t, app.Import(ctx, &ImportCommand{File: path, Workspace: "missing"}), constants.ErrNotFound)
	require.Error(t, app.Import(ctx, &ImportCommand{File: filepath.Join(t.TempDir(), "missing.jsonl")}))
}

func TestImportRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)
	m := app.Manager()

	err := app.importFrom(ctx, strings.NewReader(`{"legacy_id":"1","type":"note","payload":{"n":1}}
{"legacy_id":"2","payload":{"n":2}}
`), m.DefaultWorkspace())
	require.ErrorContains(t, err, "line 2")

	records := m.Records()
	require.Len(t, records, 1)
	_, err = m.Get(ctx, records[0], m.DefaultWorkspace())
	require.ErrorIs(t, err, constants.ErrNotFound, "the imported record was tombstoned again")
}
