package mvserver

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/surrealdb/multiversion/pkg/models"
)

const usage = `subcommand required

Usage: mvserver [flags] <command> [command flags]

Commands:
  run                       Serve the HTTP API
  migrate                   Create or extend the PostgreSQL schema
  import -file rows.jsonl   Import legacy rows
  tree -record <uuid>       Print the revision tree of a record

Environment:
  MV_POSTGRES_DSN           PostgreSQL connection string (default: in memory)
  MV_DEFAULT_WORKSPACE      Name of the default workspace (default: live)
  MV_LISTEN                 Listen address (default: :8080)`

// Parse parses command line arguments and returns the command to execute
// and the configuration shared by all commands.
func Parse(args []string) (Command, *Config, error) {
	flagSet := flag.NewFlagSet("mvserver", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var (
		configFile = flagSet.String("config", "", "YAML config file")
		listen     = flagSet.String("listen", "", "Listen address")
		dsn        = flagSet.String("dsn", "", "PostgreSQL connection string")
		workspace  = flagSet.String("workspace", "", "Name of the default workspace")
		logLevel   = flagSet.String("log-level", "", "Log level")
		logFile    = flagSet.String("log-file", "", "Append logs to this file")
	)
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	config := NewConfig()
	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			return nil, nil, err
		}
	}
	config.LoadEnv()
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.Listen = *listen
		case "dsn":
			config.PostgresDSN = *dsn
		case "workspace":
			config.DefaultWorkspace = *workspace
		case "log-level":
			config.LogLevel = *logLevel
		case "log-file":
			config.LogFile = *logFile
		}
	})
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		return nil, nil, errors.New(usage)
	}

	var cmd Command
	switch remaining[0] {
	case "run":
		cmd = &RunCommand{}
	case "migrate":
		if config.PostgresDSN == "" {
			return nil, nil, errors.New("migrate needs a PostgreSQL connection string")
		}
		cmd = &MigrateCommand{}
	case "import":
		sub := flag.NewFlagSet("import", flag.ContinueOnError)
		sub.SetOutput(io.Discard)
		file := sub.String("file", "", "JSON lines file to import")
		into := sub.String("into", "", "Workspace to import into")
		if err := sub.Parse(remaining[1:]); err != nil {
			return nil, nil, err
		}
		if *file == "" {
			return nil, nil, errors.New("import needs -file")
		}
		cmd = &ImportCommand{File: *file, Workspace: *into}
	case "tree":
		sub := flag.NewFlagSet("tree", flag.ContinueOnError)
		sub.SetOutput(io.Discard)
		record := sub.String("record", "", "Record id")
		if err := sub.Parse(remaining[1:]); err != nil {
			return nil, nil, err
		}
		rec, err := models.ParseRecordID(*record)
		if err != nil {
			return nil, nil, fmt.Errorf("tree needs a valid -record: %w", err)
		}
		cmd = &TreeCommand{Record: rec}
	default:
		return nil, nil, fmt.Errorf("unknown command: %s\n\nValid commands: run, migrate, import, tree", remaining[0])
	}
	return cmd, config, nil
}
