package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/internal/projection"
	"github.com/alphagov/pay-ledger-sub002/internal/service"
)

func newGetCommand(a *app) *cobra.Command {
	var (
		consistent bool
		accountID  string
	)

	cmd := &cobra.Command{
		Use:   "get <agreement|payout|transaction> <external_id>",
		Short: "Show the projection of a resource",
		Long: `Reads a projection straight from the database. With --consistent the
stored snapshot is compared with the event history and rebuilt in memory
when it is behind; the rebuilt projection is printed but not stored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := projection.ParseKind(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			var opts []service.ReadOption
			if accountID != "" {
				opts = append(opts, service.ForGatewayAccount(accountID))
			}
			res, err := service.NewReconciler(repo, repo, nil, a.logger).Read(ctx, kind, args[1], consistent, opts...)
			if err != nil {
				return err
			}
			if res.Outcome == service.NotFound {
				return fmt.Errorf("%s %s not found", kind, args[1])
			}
			return render(cmd.OutOrStdout(), a.output, map[string]any{
				"source":     res.Source.String(),
				"projection": res.Projection,
			})
		},
	}
	cmd.Flags().BoolVar(&consistent, "consistent", false, "rebuild from the event history when the snapshot is stale")
	cmd.Flags().StringVar(&accountID, "account-id", "", "only show the resource if it belongs to this gateway account")
	return cmd
}

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events <external_id>",
		Short: "List the stored events of a resource in fold order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			events, err := service.NewReconciler(repo, repo, nil, a.logger).Events(ctx, args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no events stored for %s", args[0])
			}
			return render(cmd.OutOrStdout(), a.output, events)
		},
	}
}
