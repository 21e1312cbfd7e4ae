// Package model defines the core domain types for event registration and
// payment reconciliation.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the slice of an event that registration cares about. Event CRUD
// lives elsewhere; this service only reads it.
type Event struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Venue           string          `json:"venue"`
	StartsAt        time.Time       `json:"starts_at"`
	Capacity        int             `json:"capacity"`
	RegistrationFee decimal.Decimal `json:"registration_fee"`
	Currency        string          `json:"currency"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsPaid returns true when registration requires a successful payment.
func (e *Event) IsPaid() bool {
	return e.RegistrationFee.IsPositive()
}

// User is the read-only participant profile.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Roster is an event's capacity-bounded participant set and FIFO waitlist.
type Roster struct {
	EventID         string          `json:"event_id"`
	Capacity        int             `json:"capacity"`
	RegistrationFee decimal.Decimal `json:"registration_fee"`
	Participants    []string        `json:"participants"`
	Waitlist        []string        `json:"waitlist"`
}

// Remaining returns the number of open participant slots.
func (r *Roster) Remaining() int {
	if n := r.Capacity - len(r.Participants); n > 0 {
		return n
	}
	return 0
}

// IsFull returns true when no slots remain.
func (r *Roster) IsFull() bool {
	return len(r.Participants) >= r.Capacity
}

// RegistrationState is a user's position relative to one event.
type RegistrationState string

const (
	NotRegistered RegistrationState = "not_registered"
	Registered    RegistrationState = "registered"
	Waitlisted    RegistrationState = "waitlisted"
)

// EnrollOutcome is the result of an enrollment attempt.
type EnrollOutcome string

const (
	Enrolled      EnrollOutcome = "enrolled"
	AddedWaitlist EnrollOutcome = "waitlisted"
)

// PaymentStatus is monotonic: pending moves to paid or failed exactly once.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// Payment is one registration payment attempt. ID is the merchant
// transaction id shared with the provider.
type Payment struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	EventID           string          `json:"event_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	Provider          string          `json:"provider"`
	PaymentLink       string          `json:"payment_link,omitempty"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`
	// FulfillmentQueuedAt is set once the fulfillment job of a paid
	// payment has been accepted by the queue.
	FulfillmentQueuedAt *time.Time `json:"fulfillment_queued_at,omitempty"`
}

// UserSummary and EventSummary are the joined views returned with a payment.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type EventSummary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
}

// Receipt is a payment joined with its user and event. Invoices and
// tickets are rendered from it.
type Receipt struct {
	Payment Payment      `json:"payment"`
	User    UserSummary  `json:"user"`
	Event   EventSummary `json:"event"`
}

// RegistrationResult is the response of a register/unregister action.
type RegistrationResult struct {
	Message string            `json:"message"`
	State   RegistrationState `json:"state"`
	Event   *Roster           `json:"event"`
}

// RegistrationList is the participants and waitlist of one event.
type RegistrationList struct {
	EventID      string   `json:"event_id"`
	Participants []string `json:"participants"`
	Waitlist     []string `json:"waitlist"`
}

// Messages returned by the registration endpoint.
const (
	MessageRegistered   = "Registered"
	MessageWaitlisted   = "Added to waitlist"
	MessageUnregistered = "Unregistered"
)

// PaymentLinkResponse is returned by the payment initiation endpoint.
type PaymentLinkResponse struct {
	PaymentID   string `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
