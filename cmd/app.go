package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/database"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/fulfillment"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/logger"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/queue"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/reconcile"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	serviceName      = "event-registration"
	fulfillmentQueue = "fulfillment"
)

// ledger is every view of the payment ledger the components need.
type ledger interface {
	gateway.Ledger
	service.Ledger
	reconcile.Ledger
	fulfillment.Receipts
}

// app holds the shared dependencies of every command.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	rdb *redis.Client

	roster    service.Roster
	ledger    ledger
	directory service.Directory

	closers []func()
}

// newApp loads configuration and opens the stores and Redis. validate
// enforces the settings needed to talk to the payment provider.
func newApp(ctx context.Context, validate bool) (*app, error) {
	cfg := config.Load()
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log, err := logger.New(serviceName, cfg.Environment, cfg.Log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  metrics.New(registry),
	}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}

	rdb, err := database.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	ids, err := repository.NewPaymentIDGenerator(a.cfg.NodeID)
	if err != nil {
		return err
	}

	switch a.cfg.StoreDriver {
	case config.StoreMemory:
		store := memory.New(ids, memory.WithWaitlistPromotion(a.cfg.PromoteWaitlist))
		if a.cfg.SeedFile != "" {
			if err := store.LoadSeed(a.cfg.SeedFile); err != nil {
				return fmt.Errorf("load seed: %w", err)
			}
		}
		a.roster, a.ledger, a.directory = store, store, store
		a.log.Warn("using in-memory store, data is lost on restart")
		return nil

	case config.StorePostgres:
		pool, err := database.NewPool(ctx, a.cfg.Database, a.log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.log.Info("connected to postgres", zap.String("host", a.cfg.Database.Host))

		a.roster = repository.NewRosterRepository(pool, repository.RosterOptions{PromoteWaitlist: a.cfg.PromoteWaitlist})
		a.ledger = repository.NewLedgerRepository(pool, ids)
		a.directory = repository.NewDirectoryRepository(pool)
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.StoreDriver)
	}
}

func (a *app) jobQueue() *queue.RedisQueue {
	return queue.NewRedisQueue(a.rdb, fulfillmentQueue, a.cfg.Queue)
}

func (a *app) gatewayClient() *gateway.Client {
	return gateway.NewClient(a.cfg.Gateway, a.cfg.PublicBaseURL, a.ledger, a.log, a.metrics)
}

func (a *app) pdfRenderer() *fulfillment.PDFRenderer {
	return fulfillment.NewPDFRenderer(a.cfg.Mail.FromName, time.Local)
}

func (a *app) newReconciler(q reconcile.Enqueuer) *reconcile.Reconciler {
	return reconcile.NewReconciler(a.gatewayClient(), a.ledger, a.roster, q, a.log, a.metrics)
}

func (a *app) newWorker() *queue.Worker {
	var mailer fulfillment.Mailer
	if a.cfg.Mail.Enabled() {
		mailer = fulfillment.NewSMTPMailer(a.cfg.Mail)
	} else {
		a.log.Warn("SMTP_HOST not set, fulfillment emails are logged only")
		mailer = fulfillment.NewNoopMailer(a.log)
	}
	pipeline := fulfillment.NewPipeline(a.ledger, a.pdfRenderer(), mailer, a.log)
	return queue.NewWorker(a.jobQueue(), pipeline.Handle, a.cfg.Queue, a.log, a.metrics)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
