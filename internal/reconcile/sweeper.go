package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"go.uber.org/zap"
)

// Report summarises one sweep.
type Report struct {
	Checked int
	Paid    int
	Failed  int
	Skipped int
	// Requeued counts paid payments whose lost fulfillment job was queued
	// again.
	Requeued int
}

// Sweeper settles payments left pending because the payer never came back
// through the redirect and no callback arrived.
type Sweeper struct {
	ledger     Ledger
	reconciler *Reconciler
	interval   time.Duration
	pendingTTL time.Duration
	batchSize  int
	now        func() time.Time
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewSweeper constructs a Sweeper.
func NewSweeper(ledger Ledger, reconciler *Reconciler, cfg config.SweepConfig, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		ledger:     ledger,
		reconciler: reconciler,
		interval:   cfg.Interval,
		pendingTTL: cfg.PendingTTL,
		batchSize:  batch,
		now:        time.Now,
		log:        log.Named("sweeper"),
		metrics:    m,
	}
}

// RunOnce reconciles one batch of stale pending payments, then queues
// fulfillment for paid payments that never got a job. Payments the provider
// cannot be asked about right now are skipped until the next round.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	stale, err := s.ledger.ListStalePending(ctx, s.now().Add(-s.pendingTTL), s.batchSize)
	if err != nil {
		return report, err
	}

	for _, p := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		res, err := s.reconciler.Validate(ctx, p.ID)
		if err != nil && res == nil {
			report.Skipped++
			s.metrics.Swept("skipped")
			level := s.log.Warn
			if !errors.Is(err, gateway.ErrGatewayUnavailable) {
				level = s.log.Error
			}
			level("stale payment skipped", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		if err != nil {
			s.log.Error("stale payment reconciled with error", zap.String("payment_id", p.ID), zap.Error(err))
		}

		switch res.Status {
		case model.PaymentPaid:
			report.Paid++
		case model.PaymentFailed:
			report.Failed++
		}
		s.metrics.Swept(string(res.Status))
	}

	requeued, err := s.requeueUnfulfilled(ctx)
	report.Requeued = requeued
	if err != nil {
		return report, err
	}

	if report.Checked > 0 || report.Requeued > 0 {
		s.log.Info("sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("paid", report.Paid),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
			zap.Int("requeued", report.Requeued),
		)
	}
	return report, nil
}

func (s *Sweeper) requeueUnfulfilled(ctx context.Context) (int, error) {
	unfulfilled, err := s.ledger.ListUnfulfilled(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, p := range unfulfilled {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}
		queued, err := s.reconciler.EnsureFulfillment(ctx, p.ID)
		if err != nil {
			s.log.Error("requeue fulfillment failed", zap.String("payment_id", p.ID), zap.Error(err))
		}
		if queued {
			requeued++
			s.metrics.Swept("requeued")
		}
	}
	return requeued, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
