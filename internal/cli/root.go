// Package cli implements the ledger command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/internal/config"
)

// app carries state shared by every command.
type app struct {
	cfgFile string
	output  string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the ledger command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ledger",
		Short: "Event ledger and projection service",
		Long: `ledger consumes resource events from the queue, stores them once per
delivery and keeps agreement, payout and transaction projections up to date.

Run "ledger serve" for the consumer and read API, or use the other commands
to inspect and repair projections from the terminal.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml or /etc/ledger/config.yaml)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", formatJSON, "output format: json, yaml")

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newGetCommand(a),
		newEventsCommand(a),
		newReprojectCommand(a),
		newSeedCommand(a),
	)
	return root
}

// Execute runs the ledger command line.
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) init() error {
	if err := validateFormat(a.output); err != nil {
		return err
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ledger"))
	logging.SetDefault(logger)
	a.logger = logger.Logger
	return nil
}
