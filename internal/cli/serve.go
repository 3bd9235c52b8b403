package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alphagov/pay-ledger-sub002/common/logging"
	"github.com/alphagov/pay-ledger-sub002/internal/auth"
	"github.com/alphagov/pay-ledger-sub002/internal/consumer"
	"github.com/alphagov/pay-ledger-sub002/internal/handlers"
	"github.com/alphagov/pay-ledger-sub002/internal/server"
	"github.com/alphagov/pay-ledger-sub002/internal/service"
)

func newServeCommand(a *app) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue consumer and the read API",
		Long: `Starts the worker pool that drains the event queue into the event store
and the HTTP read API. Pending migrations are applied first unless
--skip-migrations is set. SIGINT or SIGTERM drains in-flight messages and
shuts the server down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func (a *app) serve(parent context.Context, skipMigrations bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("starting ledger service",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.Logging.Level),
		slog.Bool("nats_enabled", a.cfg.NATS.Enabled),
		slog.Bool("redis_enabled", a.cfg.Redis.Enabled),
	)

	if !skipMigrations {
		if err := a.migrateUp(); err != nil {
			return err
		}
	}

	repo, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	projector := service.NewProjector(repo, repo, nil, locker, a.logger)
	reconciler := service.NewReconciler(repo, repo, nil, a.logger)

	var (
		cons *consumer.Consumer
		h    *handlers.Handler
	)
	if a.cfg.NATS.Enabled {
		js, err := a.connectJetStream(ctx, true)
		if err != nil {
			return err
		}
		defer js.Close()

		fetcher, err := js.Fetcher(ctx, a.cfg.NATS.Stream, a.cfg.NATS.Consumer)
		if err != nil {
			return err
		}
		cons = consumer.New(fetcher, service.NewIngestor(repo, projector, a.logger), a.consumerConfig(), a.logger)
		h = handlers.NewHandler(reconciler, repo, cons, a.logger).WithBroker(js)
	} else {
		a.logger.Warn("nats disabled, serving reads only")
		h = handlers.NewHandler(reconciler, repo, nil, a.logger)
	}

	var verifier *auth.Verifier
	if a.cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer)
	} else {
		a.logger.Warn("auth.jwt_secret not set, read API is unauthenticated")
	}

	srv := server.NewServer(a.cfg.Server, server.NewRouter(h, verifier, a.logger))

	var wg sync.WaitGroup
	if cons != nil {
		wg.Go(func() {
			if err := cons.Run(ctx); err != nil {
				a.logger.Error("consumer stopped with error", logging.Error(err))
			}
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("ledger read API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("server error", logging.Error(err))
			runErr = err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server forced to shutdown", logging.Error(err))
	}

	wg.Wait()
	a.logger.Info("ledger service stopped")
	return runErr
}
