package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkout starts a hosted payment with the provider.
type Checkout interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error)
}

// DocumentRenderer renders the PDFs attached to a paid registration.
type DocumentRenderer interface {
	Invoice(rc *model.Receipt) ([]byte, error)
	Ticket(rc *model.Receipt) ([]byte, error)
}

// DocumentKind selects which PDF Document renders.
type DocumentKind string

const (
	DocumentInvoice DocumentKind = "invoice"
	DocumentTicket  DocumentKind = "ticket"
)

// PaymentService validates payment initiation and serves the payment
// records back to their owners.
type PaymentService struct {
	directory Directory
	ledger    Ledger
	checkout  Checkout
	renderer  DocumentRenderer
	log       *zap.Logger
}

// NewPaymentService constructs a PaymentService with its dependencies.
func NewPaymentService(directory Directory, ledger Ledger, checkout Checkout, renderer DocumentRenderer, log *zap.Logger) *PaymentService {
	return &PaymentService{
		directory: directory,
		ledger:    ledger,
		checkout:  checkout,
		renderer:  renderer,
		log:       log.Named("payment"),
	}
}

// Initiate opens a payment for the event's registration fee and returns the
// provider checkout URL. The amount must equal the fee of a fee-bearing event.
func (s *PaymentService) Initiate(ctx context.Context, userID, eventID, amount string) (*model.PaymentLinkResponse, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	if eventID, err = parseID("eventId", eventID); err != nil {
		return nil, err
	}

	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, &ValidationError{Field: "amount", Message: "is required"}
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Message: "must be a decimal number"}
	}
	if !value.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}

	event, err := s.directory.Event(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("event: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if !event.IsPaid() {
		return nil, &ValidationError{Field: "eventId", Message: "event has no registration fee"}
	}
	if !value.Equal(event.RegistrationFee) {
		return nil, &ValidationError{Field: "amount", Message: "must equal the registration fee " + event.RegistrationFee.StringFixed(2)}
	}

	user, err := s.directory.User(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("user: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if _, err := s.ledger.FindSuccessful(ctx, userID, eventID); err == nil {
		return nil, ErrAlreadyPaid
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find payment: %w", err)
	}

	res, err := s.checkout.Initiate(ctx, gateway.InitiateRequest{
		UserID:       userID,
		EventID:      eventID,
		Amount:       event.RegistrationFee,
		MobileNumber: user.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	return &model.PaymentLinkResponse{PaymentID: res.PaymentID, RedirectURL: res.RedirectURL}, nil
}

// Transaction returns a payment with its user and event. Only the paying
// user may read it.
func (s *PaymentService) Transaction(ctx context.Context, userID, paymentID string) (*model.Receipt, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, &ValidationError{Field: "paymentId", Message: "is required"}
	}

	rc, err := s.ledger.Receipt(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("payment: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if rc.Payment.UserID != userID {
		s.log.Warn("payment read by non-owner",
			zap.String("payment_id", paymentID),
			zap.String("user_id", userID),
		)
		return nil, ErrForbidden
	}
	return rc, nil
}

// Document renders the invoice or ticket of a paid payment for its owner.
func (s *PaymentService) Document(ctx context.Context, userID, paymentID string, kind DocumentKind) ([]byte, error) {
	rc, err := s.Transaction(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if rc.Payment.Status != model.PaymentPaid {
		return nil, ErrNotPaid
	}

	switch kind {
	case DocumentInvoice:
		return s.renderer.Invoice(rc)
	case DocumentTicket:
		return s.renderer.Ticket(rc)
	default:
		return nil, &ValidationError{Field: "document", Message: "must be invoice or ticket"}
	}
}
