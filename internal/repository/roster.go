package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RosterOptions tunes roster behaviour.
type RosterOptions struct {
	// PromoteWaitlist moves the head of the waitlist into a freed
	// participant slot inside the same transaction as the removal.
	PromoteWaitlist bool
}

// RosterRepository holds event participants and waitlists.
type RosterRepository struct {
	db   *pgxpool.Pool
	opts RosterOptions
}

// NewRosterRepository constructs a RosterRepository.
func NewRosterRepository(db *pgxpool.Pool, opts RosterOptions) *RosterRepository {
	return &RosterRepository{db: db, opts: opts}
}

// TryEnroll adds the user to the participants if a slot is open, otherwise
// to the tail of the waitlist.
//
// The capacity check and the insert must be one atomic step. Reading the
// participant count and writing in two separate statements lets two
// requests for the last seat both see a free slot and both insert:
//
//	A: count = 9 (capacity 10)      B: count = 9
//	A: insert participant           B: insert participant  -> 11 of 10
//
// SELECT … FOR UPDATE on the event row serialises every enrollment and
// removal for that event, so the count read inside the transaction is the
// count the insert is applied against.
//
// Calling TryEnroll for a user who is already a participant or waitlisted
// returns the current outcome and changes nothing.
func (r *RosterRepository) TryEnroll(ctx context.Context, eventID, userID string) (model.EnrollOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	capacity, err := lockEvent(ctx, tx, eventID)
	if err != nil {
		return "", err
	}

	state, err := stateOf(ctx, tx, eventID, userID)
	if err != nil {
		return "", err
	}
	switch state {
	case model.Registered:
		return model.Enrolled, tx.Commit(ctx)
	case model.Waitlisted:
		return model.AddedWaitlist, tx.Commit(ctx)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_participants WHERE event_id = $1`,
		eventID,
	).Scan(&count); err != nil {
		return "", fmt.Errorf("count participants: %w", err)
	}

	outcome := model.Enrolled
	if count < capacity {
		_, err = tx.Exec(ctx,
			`INSERT INTO event_participants (event_id, user_id, joined_at)
			 VALUES ($1, $2, now())`,
			eventID, userID,
		)
	} else {
		outcome = model.AddedWaitlist
		_, err = tx.Exec(ctx,
			`INSERT INTO event_waitlist (event_id, user_id, queued_at)
			 VALUES ($1, $2, now())`,
			eventID, userID,
		)
	}
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", outcome, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return outcome, nil
}

// Remove deletes the user from both the participants and the waitlist.
// Removing a non-member is a no-op. When waitlist promotion is enabled and
// a participant slot was freed, the promoted user id is returned.
func (r *RosterRepository) Remove(ctx context.Context, eventID, userID string) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	capacity, err := lockEvent(ctx, tx, eventID)
	if err != nil {
		return "", err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM event_participants WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	)
	if err != nil {
		return "", fmt.Errorf("delete participant: %w", err)
	}
	freed := tag.RowsAffected() > 0

	if _, err := tx.Exec(ctx,
		`DELETE FROM event_waitlist WHERE event_id = $1 AND user_id = $2`,
		eventID, userID,
	); err != nil {
		return "", fmt.Errorf("delete waitlist entry: %w", err)
	}

	var promoted string
	if freed && r.opts.PromoteWaitlist {
		promoted, err = promoteHead(ctx, tx, eventID, capacity)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return promoted, nil
}

// State reports whether the user is registered, waitlisted, or neither.
func (r *RosterRepository) State(ctx context.Context, eventID, userID string) (model.RegistrationState, error) {
	return stateOf(ctx, r.db, eventID, userID)
}

// View returns the roster of an event: participants by join time and the
// waitlist in FIFO order.
func (r *RosterRepository) View(ctx context.Context, eventID string) (*model.Roster, error) {
	roster := &model.Roster{EventID: eventID}

	var fee string
	err := r.db.QueryRow(ctx,
		`SELECT capacity, registration_fee::text FROM events WHERE id = $1`,
		eventID,
	).Scan(&roster.Capacity, &fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if roster.RegistrationFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse registration fee: %w", err)
	}

	if roster.Participants, err = collectIDs(ctx, r.db,
		`SELECT user_id::text FROM event_participants
		 WHERE event_id = $1 ORDER BY joined_at ASC, user_id ASC`, eventID); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if roster.Waitlist, err = collectIDs(ctx, r.db,
		`SELECT user_id::text FROM event_waitlist
		 WHERE event_id = $1 ORDER BY id ASC`, eventID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return roster, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// lockEvent takes the row lock that serialises roster writes for an event.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID string) (int, error) {
	var capacity int
	err := tx.QueryRow(ctx,
		`SELECT capacity FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("lock event row: %w", err)
	}
	return capacity, nil
}

func stateOf(ctx context.Context, q querier, eventID, userID string) (model.RegistrationState, error) {
	var state string
	err := q.QueryRow(ctx,
		`SELECT CASE
		   WHEN EXISTS (SELECT 1 FROM event_participants WHERE event_id = $1 AND user_id = $2) THEN 'registered'
		   WHEN EXISTS (SELECT 1 FROM event_waitlist WHERE event_id = $1 AND user_id = $2) THEN 'waitlisted'
		   ELSE 'not_registered'
		 END`,
		eventID, userID,
	).Scan(&state)
	if err != nil {
		return "", fmt.Errorf("registration state: %w", err)
	}
	return model.RegistrationState(state), nil
}

func promoteHead(ctx context.Context, tx pgx.Tx, eventID string, capacity int) (string, error) {
	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_participants WHERE event_id = $1`,
		eventID,
	).Scan(&count); err != nil {
		return "", fmt.Errorf("count participants: %w", err)
	}
	if count >= capacity {
		return "", nil
	}

	var promoted string
	err := tx.QueryRow(ctx,
		`WITH head AS (
		   DELETE FROM event_waitlist
		   WHERE id = (SELECT id FROM event_waitlist WHERE event_id = $1 ORDER BY id ASC LIMIT 1)
		   RETURNING user_id
		 )
		 INSERT INTO event_participants (event_id, user_id, joined_at)
		 SELECT $1, user_id, now() FROM head
		 RETURNING user_id::text`,
		eventID,
	).Scan(&promoted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("promote waitlist head: %w", err)
	}
	return promoted, nil
}

func collectIDs(ctx context.Context, q querier, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
