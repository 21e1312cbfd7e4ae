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

// DirectoryRepository reads events and users. Both are owned by other
// services; this one never writes them.
type DirectoryRepository struct {
	db *pgxpool.Pool
}

// NewDirectoryRepository constructs a DirectoryRepository.
func NewDirectoryRepository(db *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// Event returns a single event or ErrNotFound.
func (r *DirectoryRepository) Event(ctx context.Context, id string) (*model.Event, error) {
	var (
		e   model.Event
		fee string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id::text, name, description, venue, starts_at, capacity,
		        registration_fee::text, currency, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.Venue, &e.StartsAt, &e.Capacity, &fee, &e.Currency, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if e.RegistrationFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse registration fee: %w", err)
	}
	return &e, nil
}

// User returns a single user or ErrNotFound.
func (r *DirectoryRepository) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.QueryRow(ctx,
		`SELECT id::text, name, email, COALESCE(phone, '') FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
