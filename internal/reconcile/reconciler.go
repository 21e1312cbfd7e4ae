// Package reconcile settles payments from the provider's status and applies
// the result to the roster and the fulfillment queue.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/queue"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"go.uber.org/zap"
)

// Gateway is the provider side of reconciliation.
type Gateway interface {
	QueryStatus(ctx context.Context, paymentID string) (*gateway.ProviderStatus, error)
	ParseCallback(body []byte, xVerify string) (*gateway.Callback, error)
}

// Ledger is the payment ledger.
type Ledger interface {
	Get(ctx context.Context, id string) (*model.Payment, error)
	Settle(ctx context.Context, id string, outcome model.PaymentStatus, providerRef string) (*model.Payment, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Payment, error)

	ClaimFulfillment(ctx context.Context, id string, lease time.Duration) (bool, error)
	ReleaseFulfillment(ctx context.Context, id string) error
	MarkFulfillmentQueued(ctx context.Context, id string) error
	ListUnfulfilled(ctx context.Context, before time.Time, limit int) ([]model.Payment, error)
}

// Roster enrolls paying users.
type Roster interface {
	TryEnroll(ctx context.Context, eventID, userID string) (model.EnrollOutcome, error)
}

// Enqueuer schedules fulfillment.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Result is the outcome of one reconciliation.
type Result struct {
	PaymentID string
	Status    model.PaymentStatus
	// Transitioned is true only for the call that moved the payment out of
	// pending.
	Transitioned bool
	// Enrollment is set for paid payments.
	Enrollment model.EnrollOutcome
	// FulfillmentQueued is true for the call that got the fulfillment job
	// accepted by the queue.
	FulfillmentQueued bool
}

// fulfillmentLease is how long a claim to enqueue fulfillment blocks other
// callers. A claim outlives it only when its holder died before marking the
// job queued.
const fulfillmentLease = 5 * time.Minute

// Reconciler applies provider outcomes.
type Reconciler struct {
	gateway Gateway
	ledger  Ledger
	roster  Roster
	queue   Enqueuer
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewReconciler constructs a Reconciler.
func NewReconciler(gw Gateway, ledger Ledger, roster Roster, q Enqueuer, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		gateway: gw,
		ledger:  ledger,
		roster:  roster,
		queue:   q,
		log:     log.Named("reconcile"),
		metrics: m,
	}
}

// Validate asks the provider for the payment's status and settles it.
//
// Redelivery is safe: settling with the same outcome is not an error, and
// enrollment is idempotent, so a repeat call re-applies the roster step.
// Every paid call also enqueues fulfillment until the ledger records the
// job as queued, so a failed enqueue is retried by the next redelivery or
// sweep. A provider outcome that contradicts the stored one returns
// repository.ErrSettlementConflict with the stored status.
func (r *Reconciler) Validate(ctx context.Context, paymentID string) (*Result, error) {
	if _, err := r.ledger.Get(ctx, paymentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("payment: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	status, err := r.gateway.QueryStatus(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("query provider status: %w", err)
	}
	return r.apply(ctx, paymentID, status)
}

// HandleCallback verifies a server-to-server notification and reconciles
// the payment it names. The provider's status API stays the source of
// truth; the callback body only identifies the payment.
func (r *Reconciler) HandleCallback(ctx context.Context, body []byte, xVerify string) (*Result, error) {
	cb, err := r.gateway.ParseCallback(body, xVerify)
	if err != nil {
		return nil, err
	}
	r.log.Info("provider callback received",
		zap.String("payment_id", cb.PaymentID),
		zap.String("code", cb.Status.Code),
	)
	return r.Validate(ctx, cb.PaymentID)
}

func (r *Reconciler) apply(ctx context.Context, paymentID string, status *gateway.ProviderStatus) (*Result, error) {
	outcome := model.PaymentFailed
	if status.Success {
		outcome = model.PaymentPaid
	}
	log := r.log.With(
		zap.String("payment_id", paymentID),
		zap.String("provider_code", status.Code),
	)

	payment, err := r.ledger.Settle(ctx, paymentID, outcome, status.ProviderReference)
	res := &Result{PaymentID: paymentID, Status: outcome}
	switch {
	case err == nil:
		res.Transitioned = true
		r.metrics.Settlement(string(outcome), metrics.ResultOK)
		log.Info("payment settled", zap.String("status", string(outcome)))
	case errors.Is(err, repository.ErrAlreadySettled):
		r.metrics.Settlement(string(outcome), metrics.ResultDup)
		log.Debug("payment already settled", zap.String("status", string(outcome)))
	case errors.Is(err, repository.ErrSettlementConflict):
		r.metrics.Settlement(string(outcome), metrics.ResultConflict)
		log.Error("provider outcome contradicts ledger",
			zap.String("provider_outcome", string(outcome)),
			zap.String("stored_status", string(payment.Status)),
		)
		res.Status = payment.Status
		return res, err
	default:
		r.metrics.Settlement(string(outcome), metrics.ResultError)
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	if outcome != model.PaymentPaid {
		return res, nil
	}

	enrollment, enrollErr := r.roster.TryEnroll(ctx, payment.EventID, payment.UserID)
	if enrollErr == nil {
		res.Enrollment = enrollment
		if enrollment == model.AddedWaitlist {
			log.Warn("paid user waitlisted, event full",
				zap.String("event_id", payment.EventID),
				zap.String("user_id", payment.UserID),
			)
		}
	}

	queued, err := r.EnsureFulfillment(ctx, paymentID)
	if err != nil {
		log.Error("fulfillment not queued, retried on next delivery", zap.Error(err))
	}
	res.FulfillmentQueued = queued

	if enrollErr != nil {
		return res, fmt.Errorf("enroll paid user: %w", enrollErr)
	}
	return res, nil
}

// EnsureFulfillment enqueues the fulfillment job of a paid payment unless
// the ledger already records it as queued or another caller holds the
// claim. It reports whether this call queued the job.
func (r *Reconciler) EnsureFulfillment(ctx context.Context, paymentID string) (bool, error) {
	claimed, err := r.ledger.ClaimFulfillment(ctx, paymentID, fulfillmentLease)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if err := r.queue.Enqueue(ctx, queue.Job{PaymentID: paymentID}); err != nil {
		if relErr := r.ledger.ReleaseFulfillment(ctx, paymentID); relErr != nil {
			r.log.Warn("release fulfillment claim failed",
				zap.String("payment_id", paymentID), zap.Error(relErr))
		}
		return false, fmt.Errorf("enqueue fulfillment: %w", err)
	}

	// The job is in the queue; a lost mark only risks a second delivery
	// once the lease expires.
	if err := r.ledger.MarkFulfillmentQueued(ctx, paymentID); err != nil {
		return true, err
	}
	return true, nil
}
