package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/internal/repository"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.migrateUp()
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default: one step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return a.withMigrator(func(m *repository.Migrator) error {
					return m.Down(steps)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withMigrator(func(m *repository.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), a.output, map[string]any{
						"version": version,
						"dirty":   dirty,
					})
				})
			},
		},
	)
	return cmd
}

func (a *app) withMigrator(fn func(*repository.Migrator) error) error {
	m, err := repository.NewMigrator(a.cfg.Database.Postgres.ConnString())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
