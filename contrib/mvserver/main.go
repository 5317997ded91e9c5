// Package mvserver is a small HTTP server and command line tool around a
// multiversion.Manager.
package mvserver

import (
	"context"
	"fmt"
	"os"
)

// Main parses args and runs the selected command. It can be called from
// tests without building the binary; cancelling ctx shuts the server down.
//
//	mvserver run
//	mvserver -dsn postgres://localhost/mv migrate
//	mvserver import -file legacy.jsonl
//	mvserver tree -record 3b241101-e2bb-4255-8caf-4136c566a962
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	app, err := New(config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	if _, ok := cmd.(*MigrateCommand); !ok {
		if err := app.Open(ctx); err != nil {
			return err
		}
	}

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *ImportCommand:
		if err := app.Import(ctx, c); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
	case *TreeCommand:
		if err := app.Tree(ctx, c, os.Stdout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
	return nil
}
