// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/google/uuid"
)

var (
	// ErrPaymentRequired is returned when a fee-bearing event is joined
	// without a successful payment.
	ErrPaymentRequired = errors.New("payment required")
	// ErrAlreadyPaid is returned when a user initiates a second payment for
	// an event they already paid for.
	ErrAlreadyPaid = errors.New("registration fee already paid")
	// ErrNotPaid is returned when documents are requested for an unpaid payment.
	ErrNotPaid = errors.New("payment is not completed")

	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// ValidationError reports a malformed request. Handlers map it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Roster is the capacity-bounded participant set and waitlist of events.
type Roster interface {
	TryEnroll(ctx context.Context, eventID, userID string) (model.EnrollOutcome, error)
	Remove(ctx context.Context, eventID, userID string) (string, error)
	State(ctx context.Context, eventID, userID string) (model.RegistrationState, error)
	View(ctx context.Context, eventID string) (*model.Roster, error)
}

// Ledger is the read side of payment records the services need.
type Ledger interface {
	FindSuccessful(ctx context.Context, userID, eventID string) (*model.Payment, error)
	Discard(ctx context.Context, userID, eventID string) (int64, error)
	Receipt(ctx context.Context, id string) (*model.Receipt, error)
}

// Directory looks up events and users owned by other services.
type Directory interface {
	Event(ctx context.Context, id string) (*model.Event, error)
	User(ctx context.Context, id string) (*model.User, error)
}

func parseID(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ValidationError{Field: field, Message: "is required"}
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return "", &ValidationError{Field: field, Message: "must be a valid UUID"}
	}
	return id.String(), nil
}

func requireUser(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrUnauthenticated
	}
	id, err := parseID("userId", userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return id, nil
}
