package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"go.uber.org/zap"
)

// RegistrationService decides whether a user may join an event and keeps
// the roster and the payment ledger consistent when they leave.
type RegistrationService struct {
	roster    Roster
	ledger    Ledger
	directory Directory
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(roster Roster, ledger Ledger, directory Directory, log *zap.Logger, m *metrics.Metrics) *RegistrationService {
	return &RegistrationService{
		roster:    roster,
		ledger:    ledger,
		directory: directory,
		log:       log.Named("registration"),
		metrics:   m,
	}
}

// Toggle unregisters a registered or waitlisted user and registers anyone else.
func (s *RegistrationService) Toggle(ctx context.Context, eventID, userID string) (*model.RegistrationResult, error) {
	eventID, userID, err := s.ids(eventID, userID)
	if err != nil {
		return nil, err
	}

	state, err := s.roster.State(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("registration state: %w", err)
	}
	if state == model.Registered || state == model.Waitlisted {
		return s.unregister(ctx, eventID, userID)
	}
	return s.register(ctx, eventID, userID)
}

// Register enrolls the user, or waitlists them when the event is full.
// Fee-bearing events require a successful payment first; without one it
// returns ErrPaymentRequired and changes nothing. Registering twice
// returns the current state.
func (s *RegistrationService) Register(ctx context.Context, eventID, userID string) (*model.RegistrationResult, error) {
	eventID, userID, err := s.ids(eventID, userID)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, eventID, userID)
}

// Unregister removes the user from the participants and the waitlist. For
// fee-bearing events the user's payment records are discarded too.
// Unregistering someone who is not registered succeeds.
func (s *RegistrationService) Unregister(ctx context.Context, eventID, userID string) (*model.RegistrationResult, error) {
	eventID, userID, err := s.ids(eventID, userID)
	if err != nil {
		return nil, err
	}
	return s.unregister(ctx, eventID, userID)
}

// Event returns the roster view of an event.
func (s *RegistrationService) Event(ctx context.Context, eventID string) (*model.Roster, error) {
	eventID, err := parseID("eventId", eventID)
	if err != nil {
		return nil, err
	}
	view, err := s.roster.View(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("event: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("view roster: %w", err)
	}
	return view, nil
}

func (s *RegistrationService) register(ctx context.Context, eventID, userID string) (*model.RegistrationResult, error) {
	event, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.User(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("user: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if event.IsPaid() {
		if _, err := s.ledger.FindSuccessful(ctx, userID, eventID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.metrics.Registration("register", "payment_required")
				return nil, ErrPaymentRequired
			}
			return nil, fmt.Errorf("find payment: %w", err)
		}
	}

	outcome, err := s.roster.TryEnroll(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	result := &model.RegistrationResult{Message: model.MessageRegistered, State: model.Registered}
	if outcome == model.AddedWaitlist {
		result.Message = model.MessageWaitlisted
		result.State = model.Waitlisted
	}
	s.metrics.Registration("register", string(result.State))
	s.log.Info("user registered",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.String("outcome", string(outcome)),
	)

	if result.Event, err = s.roster.View(ctx, eventID); err != nil {
		return nil, fmt.Errorf("view roster: %w", err)
	}
	return result, nil
}

func (s *RegistrationService) unregister(ctx context.Context, eventID, userID string) (*model.RegistrationResult, error) {
	event, err := s.event(ctx, eventID)
	if err != nil {
		return nil, err
	}

	promoted, err := s.roster.Remove(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("remove from roster: %w", err)
	}
	if promoted != "" {
		s.log.Info("waitlist head promoted",
			zap.String("event_id", eventID),
			zap.String("user_id", promoted),
		)
	}

	if event.IsPaid() {
		n, err := s.ledger.Discard(ctx, userID, eventID)
		if err != nil {
			return nil, fmt.Errorf("discard payments: %w", err)
		}
		s.log.Info("payments discarded",
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
			zap.Int64("count", n),
		)
	}
	s.metrics.Registration("unregister", string(model.NotRegistered))

	view, err := s.roster.View(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("view roster: %w", err)
	}
	return &model.RegistrationResult{
		Message: model.MessageUnregistered,
		State:   model.NotRegistered,
		Event:   view,
	}, nil
}

func (s *RegistrationService) event(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.directory.Event(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("event: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (s *RegistrationService) ids(eventID, userID string) (string, string, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return "", "", err
	}
	eventID, err = parseID("eventId", eventID)
	if err != nil {
		return "", "", err
	}
	return eventID, userID, nil
}
