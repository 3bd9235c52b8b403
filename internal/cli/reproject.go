package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/seeder"
)

func newReprojectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reproject <external_id>",
		Short: "Ask the consumer to rebuild and store a resource's projection",
		Long: `Publishes the latest stored event of the resource again with the
reproject flag set. The consumer finds the event already stored, rebuilds
the projection from the full history and upserts it, so the write path stays
with the consumer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			repo, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			events, err := repo.EventsFor(ctx, id)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events stored for %s", id)
			}
			latest := events[len(events)-1]
			if _, ok := projection.DefaultRegistry().ForResource(latest.ResourceType); !ok {
				return fmt.Errorf("resource type %q has no projection", latest.ResourceType)
			}

			js, err := a.connectJetStream(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = js.Drain() }()

			if err := seeder.PublishEvent(ctx, js, latest, true); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, map[string]any{
				"resource_external_id": id,
				"resource_type":        latest.ResourceType,
				"delivery_id":          latest.DeliveryID,
				"event_count":          len(events),
				"requested":            true,
			})
		},
	}
}
