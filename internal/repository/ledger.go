package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OpenPayment describes a new payment attempt.
type OpenPayment struct {
	UserID   string
	EventID  string
	Amount   decimal.Decimal
	Currency string
	Provider string
}

// LedgerRepository stores payment attempts keyed by merchant transaction id.
type LedgerRepository struct {
	db  *pgxpool.Pool
	ids *PaymentIDGenerator
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *pgxpool.Pool, ids *PaymentIDGenerator) *LedgerRepository {
	return &LedgerRepository{db: db, ids: ids}
}

const paymentColumns = `id, user_id::text, event_id::text, amount::text, currency, status,
	provider, COALESCE(payment_link, ''), COALESCE(provider_reference, ''), created_at, settled_at,
	fulfillment_queued_at`

// Open records a pending payment under a fresh id.
func (r *LedgerRepository) Open(ctx context.Context, req OpenPayment) (*model.Payment, error) {
	p := &model.Payment{
		ID:        r.ids.NewID(),
		UserID:    req.UserID,
		EventID:   req.EventID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    model.PaymentPending,
		Provider:  req.Provider,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO payments (id, user_id, event_id, amount, currency, status, provider, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.EventID, p.Amount.String(), p.Currency, p.Status, p.Provider, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return p, nil
}

// AttachLink stores the provider's hosted checkout URL.
func (r *LedgerRepository) AttachLink(ctx context.Context, id, link string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET payment_link = $2 WHERE id = $1`,
		id, link,
	)
	if err != nil {
		return fmt.Errorf("attach payment link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Settle moves a pending payment to its terminal outcome. The conditional
// update is the only write path for status, so a record transitions once.
// A repeat with the same outcome returns the record and ErrAlreadySettled;
// a different outcome returns ErrSettlementConflict.
func (r *LedgerRepository) Settle(ctx context.Context, id string, outcome model.PaymentStatus, providerRef string) (*model.Payment, error) {
	if !outcome.IsTerminal() {
		return nil, ErrInvalidOutcome
	}

	p, err := scanPayment(r.db.QueryRow(ctx,
		`UPDATE payments
		 SET status = $2, provider_reference = NULLIF($3, ''), settled_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+paymentColumns,
		id, outcome, providerRef,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == outcome {
		return current, ErrAlreadySettled
	}
	return current, ErrSettlementConflict
}

// FindSuccessful returns the paid payment for the pair, or ErrNotFound.
func (r *LedgerRepository) FindSuccessful(ctx context.Context, userID, eventID string) (*model.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE user_id = $1 AND event_id = $2 AND status = 'paid'
		 ORDER BY settled_at DESC
		 LIMIT 1`,
		userID, eventID,
	))
}

// Discard deletes every payment record of the pair.
func (r *LedgerRepository) Discard(ctx context.Context, userID, eventID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM payments WHERE user_id = $1 AND event_id = $2`,
		userID, eventID,
	)
	if err != nil {
		return 0, fmt.Errorf("discard payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns a single payment or ErrNotFound.
func (r *LedgerRepository) Get(ctx context.Context, id string) (*model.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	))
}

// Receipt returns the payment joined with its user and event.
func (r *LedgerRepository) Receipt(ctx context.Context, id string) (*model.Receipt, error) {
	var (
		rc     model.Receipt
		amount string
	)
	err := r.db.QueryRow(ctx,
		`SELECT p.id, p.user_id::text, p.event_id::text, p.amount::text, p.currency, p.status,
		        p.provider, COALESCE(p.payment_link, ''), COALESCE(p.provider_reference, ''),
		        p.created_at, p.settled_at, p.fulfillment_queued_at,
		        u.id::text, u.name, u.email,
		        e.id::text, e.name, e.venue, e.starts_at
		 FROM payments p
		 JOIN users u ON u.id = p.user_id
		 JOIN events e ON e.id = p.event_id
		 WHERE p.id = $1`,
		id,
	).Scan(
		&rc.Payment.ID, &rc.Payment.UserID, &rc.Payment.EventID, &amount, &rc.Payment.Currency,
		&rc.Payment.Status, &rc.Payment.Provider, &rc.Payment.PaymentLink, &rc.Payment.ProviderReference,
		&rc.Payment.CreatedAt, &rc.Payment.SettledAt, &rc.Payment.FulfillmentQueuedAt,
		&rc.User.ID, &rc.User.Name, &rc.User.Email,
		&rc.Event.ID, &rc.Event.Name, &rc.Event.Venue, &rc.Event.StartsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if rc.Payment.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &rc, nil
}

// ListStalePending returns pending payments created before the cutoff,
// oldest first.
func (r *LedgerRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ClaimFulfillment takes the right to enqueue the fulfillment job of a paid
// payment. It fails when the job is already queued or another caller holds
// a claim younger than lease.
func (r *LedgerRepository) ClaimFulfillment(ctx context.Context, id string, lease time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET fulfillment_claimed_at = now()
		 WHERE id = $1 AND status = 'paid' AND fulfillment_queued_at IS NULL
		   AND (fulfillment_claimed_at IS NULL
		        OR fulfillment_claimed_at < now() - make_interval(secs => $2))`,
		id, lease.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("claim fulfillment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseFulfillment drops an unfinished claim so the next caller can
// enqueue without waiting for the lease.
func (r *LedgerRepository) ReleaseFulfillment(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payments SET fulfillment_claimed_at = NULL
		 WHERE id = $1 AND fulfillment_queued_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release fulfillment: %w", err)
	}
	return nil
}

// MarkFulfillmentQueued records that the queue accepted the job.
func (r *LedgerRepository) MarkFulfillmentQueued(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET fulfillment_queued_at = now(), fulfillment_claimed_at = NULL
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark fulfillment queued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnfulfilled returns paid payments settled before the cutoff whose
// fulfillment job was never queued, oldest first.
func (r *LedgerRepository) ListUnfulfilled(ctx context.Context, before time.Time, limit int) ([]model.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = 'paid' AND fulfillment_queued_at IS NULL AND settled_at < $1
		 ORDER BY settled_at ASC
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unfulfilled payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		amount string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.EventID, &amount, &p.Currency, &p.Status,
		&p.Provider, &p.PaymentLink, &p.ProviderReference, &p.CreatedAt, &p.SettledAt,
		&p.FulfillmentQueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &p, nil
}
