package mvserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/surrealdb/multiversion/pkg/importer"
	"github.com/surrealdb/multiversion/pkg/models"
)

// Import loads the rows of cmd.File. If a row fails, everything the run
// created is tombstoned again before the error is returned.
func (a *App) Import(ctx context.Context, cmd *ImportCommand) error {
	ws := a.manager.DefaultWorkspace()
	if cmd.Workspace != "" {
		w, err := a.manager.Workspaces().Lookup(cmd.Workspace)
		if err != nil {
			return err
		}
		ws = w.ID
	}

	f, err := os.Open(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cmd.File, err)
	}
	defer f.Close()

	return a.importFrom(ctx, f, ws)
}

func (a *App) importFrom(ctx context.Context, r io.Reader, ws models.WorkspaceID) error {
	im := importer.New(a.manager, ws, importer.WithLogger(a.logger))
	stats, err := im.Import(ctx, r)
	if err != nil {
		a.logger.Warn().Err(err).Int("rows", stats.Rows).Msg("import failed, rolling back")
		if rbErr := im.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	a.logger.Info().
		Int("rows", stats.Rows).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Msg("import finished")
	return nil
}
