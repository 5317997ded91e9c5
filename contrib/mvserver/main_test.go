package mvserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/multiversion/pkg/constants"
)

func TestMainRunStopsWithContext(t *testing.T) {
	clearEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, Main(ctx, []string{"-listen", "127.0.0.1:0", "-log-level", "error", "run"}))
}

func TestMainTreeOfUnknownRecord(t *testing.T) {
	clearEnv(t)

	err := Main(context.Background(), []string{"-log-level", "error", "tree", "-record", "3b241101-e2bb-4255-8caf-4136c566a962"})
	require.ErrorIs(t, err, constants.ErrNotFound)
}

func TestMainReportsParseErrors(t *testing.T) {
	clearEnv(t)

	err := Main(context.Background(), nil)
	require.ErrorContains(t, err, "failed to parse configuration")
}
