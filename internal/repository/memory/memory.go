// Package memory is an in-process implementation of the roster, ledger and
// directory. It backs STORE_DRIVER=memory and the service tests. One mutex
// guards everything, which gives TryEnroll the same atomicity as the row
// lock in the Postgres repository.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
)

// IDGenerator issues payment ids.
type IDGenerator interface {
	NewID() string
}

type roster struct {
	participants map[string]time.Time
	waitlist     []string
}

// Store holds events, users, rosters and payments in memory.
type Store struct {
	mu       sync.Mutex
	ids      IDGenerator
	promote  bool
	now      func() time.Time
	events   map[string]model.Event
	users    map[string]model.User
	rosters  map[string]*roster
	payments map[string]model.Payment
	claims   map[string]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithWaitlistPromotion promotes the head of the waitlist when a
// participant is removed.
func WithWaitlistPromotion(enabled bool) Option {
	return func(s *Store) { s.promote = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(ids IDGenerator, opts ...Option) *Store {
	s := &Store{
		ids:      ids,
		now:      time.Now,
		events:   make(map[string]model.Event),
		users:    make(map[string]model.User),
		rosters:  make(map[string]*roster),
		payments: make(map[string]model.Payment),
		claims:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutEvent inserts or replaces an event.
func (s *Store) PutEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	if _, ok := s.rosters[e.ID]; !ok {
		s.rosters[e.ID] = &roster{participants: make(map[string]time.Time)}
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Seed is the on-disk format accepted by LoadSeed.
type Seed struct {
	Events []model.Event `json:"events"`
	Users  []model.User  `json:"users"`
}

// LoadSeed reads events and users from a JSON file.
func (s *Store) LoadSeed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, e := range seed.Events {
		s.PutEvent(e)
	}
	for _, u := range seed.Users {
		s.PutUser(u)
	}
	return nil
}

// ─── Directory ───────────────────────────────────────────────────────────────

func (s *Store) Event(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (s *Store) User(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// ─── Roster ──────────────────────────────────────────────────────────────────

func (s *Store) TryEnroll(_ context.Context, eventID, userID string) (model.EnrollOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return "", repository.ErrNotFound
	}
	r := s.rosters[eventID]

	switch s.stateLocked(r, userID) {
	case model.Registered:
		return model.Enrolled, nil
	case model.Waitlisted:
		return model.AddedWaitlist, nil
	}

	if len(r.participants) < e.Capacity {
		r.participants[userID] = s.now()
		return model.Enrolled, nil
	}
	r.waitlist = append(r.waitlist, userID)
	return model.AddedWaitlist, nil
}

func (s *Store) Remove(_ context.Context, eventID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return "", repository.ErrNotFound
	}
	r := s.rosters[eventID]

	_, freed := r.participants[userID]
	delete(r.participants, userID)
	r.waitlist = slices.DeleteFunc(r.waitlist, func(id string) bool { return id == userID })

	if !freed || !s.promote || len(r.waitlist) == 0 || len(r.participants) >= e.Capacity {
		return "", nil
	}
	head := r.waitlist[0]
	r.waitlist = r.waitlist[1:]
	r.participants[head] = s.now()
	return head, nil
}

func (s *Store) State(_ context.Context, eventID, userID string) (model.RegistrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rosters[eventID]
	if !ok {
		return model.NotRegistered, nil
	}
	return s.stateLocked(r, userID), nil
}

func (s *Store) View(_ context.Context, eventID string) (*model.Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r := s.rosters[eventID]

	participants := make([]string, 0, len(r.participants))
	for id := range r.participants {
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool {
		ti, tj := r.participants[participants[i]], r.participants[participants[j]]
		if ti.Equal(tj) {
			return participants[i] < participants[j]
		}
		return ti.Before(tj)
	})

	return &model.Roster{
		EventID:         e.ID,
		Capacity:        e.Capacity,
		RegistrationFee: e.RegistrationFee,
		Participants:    participants,
		Waitlist:        append([]string{}, r.waitlist...),
	}, nil
}

func (s *Store) stateLocked(r *roster, userID string) model.RegistrationState {
	if _, ok := r.participants[userID]; ok {
		return model.Registered
	}
	if slices.Contains(r.waitlist, userID) {
		return model.Waitlisted
	}
	return model.NotRegistered
}

// ─── Ledger ──────────────────────────────────────────────────────────────────

func (s *Store) Open(_ context.Context, req repository.OpenPayment) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := model.Payment{
		ID:        s.ids.NewID(),
		UserID:    req.UserID,
		EventID:   req.EventID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    model.PaymentPending,
		Provider:  req.Provider,
		CreatedAt: s.now().UTC(),
	}
	if _, dup := s.payments[p.ID]; dup {
		return nil, fmt.Errorf("insert payment: duplicate id %s", p.ID)
	}
	s.payments[p.ID] = p
	return &p, nil
}

func (s *Store) AttachLink(_ context.Context, id, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.PaymentLink = link
	s.payments[id] = p
	return nil
}

func (s *Store) Settle(_ context.Context, id string, outcome model.PaymentStatus, providerRef string) (*model.Payment, error) {
	if !outcome.IsTerminal() {
		return nil, repository.ErrInvalidOutcome
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status != model.PaymentPending {
		if p.Status == outcome {
			return &p, repository.ErrAlreadySettled
		}
		return &p, repository.ErrSettlementConflict
	}

	settled := s.now().UTC()
	p.Status = outcome
	p.ProviderReference = providerRef
	p.SettledAt = &settled
	s.payments[id] = p
	return &p, nil
}

func (s *Store) FindSuccessful(_ context.Context, userID, eventID string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.UserID == userID && p.EventID == eventID && p.Status == model.PaymentPaid {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) Discard(_ context.Context, userID, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.payments {
		if p.UserID == userID && p.EventID == eventID {
			delete(s.payments, id)
			delete(s.claims, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) Receipt(_ context.Context, id string) (*model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u, ok := s.users[p.UserID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e, ok := s.events[p.EventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.Receipt{
		Payment: p,
		User:    model.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email},
		Event:   model.EventSummary{ID: e.ID, Name: e.Name, Venue: e.Venue, StartsAt: e.StartsAt},
	}, nil
}

func (s *Store) ListStalePending(_ context.Context, before time.Time, limit int) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []model.Payment
	for _, p := range s.payments {
		if p.Status == model.PaymentPending && p.CreatedAt.Before(before) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Store) ClaimFulfillment(_ context.Context, id string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != model.PaymentPaid || p.FulfillmentQueuedAt != nil {
		return false, nil
	}
	now := s.now()
	if at, held := s.claims[id]; held && !at.Before(now.Add(-lease)) {
		return false, nil
	}
	s.claims[id] = now
	return true, nil
}

func (s *Store) ReleaseFulfillment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, id)
	return nil
}

func (s *Store) MarkFulfillmentQueued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	queued := s.now().UTC()
	p.FulfillmentQueuedAt = &queued
	s.payments[id] = p
	delete(s.claims, id)
	return nil
}

func (s *Store) ListUnfulfilled(_ context.Context, before time.Time, limit int) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, p := range s.payments {
		if p.Status == model.PaymentPaid && p.FulfillmentQueuedAt == nil && p.SettledAt != nil && p.SettledAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
