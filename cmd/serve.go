package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/handler"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/reconcile"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		withWorker  bool
		withSweeper bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

By default the fulfillment worker and the pending-payment sweeper run in
the same process (QUEUE_EMBEDDED_WORKER, SWEEP_ENABLED). Disable them to
run "worker" and "sweep" as separate processes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("worker") {
				withWorker = a.cfg.Queue.EmbeddedWorker
			}
			if !cmd.Flags().Changed("sweeper") {
				withSweeper = a.cfg.Sweep.Enabled
			}
			return runServe(cmd.Context(), a, withWorker, withSweeper)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "worker", true, "run the fulfillment worker in-process")
	cmd.Flags().BoolVar(&withSweeper, "sweeper", true, "run the pending-payment sweeper in-process")
	return cmd
}

func runServe(ctx context.Context, a *app, withWorker, withSweeper bool) error {
	log := a.log
	q := a.jobQueue()
	rec := a.newReconciler(q)

	regSvc := service.NewRegistrationService(a.roster, a.ledger, a.directory, log, a.metrics)
	paySvc := service.NewPaymentService(a.directory, a.ledger, a.gatewayClient(), a.pdfRenderer(), log)

	router := handler.NewRouter(handler.RouterConfig{
		Events:        handler.NewEventHandler(regSvc, log),
		Payments:      handler.NewPaymentHandler(paySvc, rec, a.cfg.ClientBaseURL, log),
		Auth:          a.cfg.Auth,
		AllowedOrigin: a.cfg.ClientBaseURL,
		Gatherer:      a.registry,
		Metrics:       a.metrics,
		Log:           log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Block until a signal or a failed component, then drain.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})

	if withWorker {
		w := a.newWorker()
		g.Go(func() error { return ignoreCanceled(w.Run(gctx)) })
	}
	if withSweeper {
		s := reconcile.NewSweeper(a.ledger, rec, a.cfg.Sweep, log, a.metrics)
		g.Go(func() error { return ignoreCanceled(s.Run(gctx)) })
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
