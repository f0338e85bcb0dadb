package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openctemio/invitations/internal/infra/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *postgres.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down STEPS",
	Short: "Roll back the given number of migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := strconv.Atoi(args[0])
		if err != nil || steps < 1 {
			return fmt.Errorf("STEPS must be a positive integer, got %q", args[0])
		}
		return withMigrator(func(m *postgres.Migrator) error {
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(m)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(printVersion)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withMigrator(fn func(*postgres.Migrator) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	m, err := postgres.NewMigrator(e.db)
	if err != nil {
		return err
	}
	return fn(m)
}

// SchemaVersion is the output of the migrate commands.
type SchemaVersion struct {
	Version uint `json:"version" yaml:"version"`
	Dirty   bool `json:"dirty" yaml:"dirty"`
}

func printVersion(m *postgres.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	resp := SchemaVersion{Version: v, Dirty: dirty}

	switch flagOutput {
	case outputJSON:
		return printJSON(resp)
	case outputYAML:
		return printYAML(resp)
	default:
		state := "clean"
		if dirty {
			state = "DIRTY"
		}
		fmt.Printf("Schema version %d (%s)\n", v, state)
	}
	return nil
}
