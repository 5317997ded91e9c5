package mvserver

import "github.com/surrealdb/multiversion/pkg/models"

// Command is one sub-command of mvserver.
type Command interface {
	Name() string
}

// RunCommand serves the HTTP API until the context is cancelled.
type RunCommand struct{}

func (RunCommand) Name() string { return "run" }

// MigrateCommand creates or extends the PostgreSQL schema.
type MigrateCommand struct{}

func (MigrateCommand) Name() string { return "migrate" }

// ImportCommand loads legacy rows from a JSON lines file.
type ImportCommand struct {
	File string
	// Workspace to import into, by name. Empty means the default workspace.
	Workspace string
}

func (ImportCommand) Name() string { return "import" }

// TreeCommand prints the revision tree of one record.
type TreeCommand struct {
	Record models.RecordID
}

func (TreeCommand) Name() string { return "tree" }
