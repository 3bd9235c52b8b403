package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/seeder"
)

func newSeedCommand(a *app) *cobra.Command {
	var (
		count       int
		types       []string
		refundRatio float64
		shuffle     bool
		live        bool
		seed        int64
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish generated resource events to the queue",
		Long: `Generates realistic payment, refund, dispute, payout and agreement
lifecycles and publishes them to the event stream. --shuffle sends events
in random order to exercise out-of-order arrival; --dry-run prints the
events instead of publishing them.

Examples:
  ledger seed --count 100 --shuffle
  ledger seed --types payout --count 5 --dry-run -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			cfg := seeder.Config{
				Count:       count,
				RefundRatio: refundRatio,
				Shuffle:     shuffle,
				Live:        live,
			}
			for _, t := range types {
				rt := models.ParseResourceType(t)
				if !rt.Known() || rt == models.ResourceRefund {
					return fmt.Errorf("cannot seed resource type %q", t)
				}
				cfg.Types = append(cfg.Types, rt)
			}

			events := seeder.NewGenerator(seed).Generate(cfg)
			if dryRun {
				return render(cmd.OutOrStdout(), a.output, events)
			}

			ctx := cmd.Context()
			js, err := a.connectJetStream(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = js.Drain() }()

			n, err := seeder.Publish(ctx, js, events)
			if err != nil {
				return fmt.Errorf("published %d of %d events: %w", n, len(events), err)
			}
			return render(cmd.OutOrStdout(), a.output, map[string]any{"published": n})
		},
	}

	defaults := seeder.DefaultConfig()
	cmd.Flags().IntVar(&count, "count", defaults.Count, "number of root resources to generate")
	cmd.Flags().StringSliceVar(&types, "types", nil, "resource types to generate: payment, payout, agreement, dispute")
	cmd.Flags().Float64Var(&refundRatio, "refund-ratio", defaults.RefundRatio, "share of successful payments that are refunded")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "publish events in random order")
	cmd.Flags().BoolVar(&live, "live", false, "mark events as live")
	cmd.Flags().Int64Var(&seed, "seed", 0, "faker seed (0 picks a random seed)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the events instead of publishing them")
	return cmd
}
