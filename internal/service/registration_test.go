package service

import (
	"context"
	"testing"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store *memory.Store
	svc   *RegistrationService
	free  string
	paid  string
	users []string
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	ids, err := repository.NewPaymentIDGenerator(1)
	require.NoError(t, err)
	store := memory.New(ids)

	f := &fixture{store: store, free: uuid.NewString(), paid: uuid.NewString()}
	store.PutEvent(model.Event{ID: f.free, Name: "Open meetup", Capacity: capacity, Currency: "INR"})
	store.PutEvent(model.Event{ID: f.paid, Name: "Workshop", Capacity: capacity, RegistrationFee: decimal.NewFromInt(500), Currency: "INR"})
	for i := 0; i < 4; i++ {
		u := model.User{ID: uuid.NewString(), Name: "user", Email: "user@example.com"}
		store.PutUser(u)
		f.users = append(f.users, u.ID)
	}
	f.svc = NewRegistrationService(store, store, store, zap.NewNop(), nil)
	return f
}

func (f *fixture) pay(t *testing.T, userID, eventID string) *model.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.Open(ctx, repository.OpenPayment{UserID: userID, EventID: eventID, Amount: decimal.NewFromInt(500), Currency: "INR"})
	require.NoError(t, err)
	p, err = f.store.Settle(ctx, p.ID, model.PaymentPaid, "T1")
	require.NoError(t, err)
	return p
}

func TestRegister_FreeEventFillsThenWaitlists(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, f.free, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.MessageRegistered, res.Message)
	assert.Equal(t, model.Registered, res.State)
	assert.Equal(t, []string{f.users[0]}, res.Event.Participants)

	res, err = f.svc.Register(ctx, f.free, f.users[1])
	require.NoError(t, err)
	assert.Equal(t, model.MessageWaitlisted, res.Message)
	assert.Equal(t, model.Waitlisted, res.State)
	assert.Equal(t, []string{f.users[1]}, res.Event.Waitlist)
}

func TestRegister_PaidEventRequiresPayment(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, f.paid, f.users[0])
	assert.ErrorIs(t, err, ErrPaymentRequired)

	view, err := f.svc.Event(ctx, f.paid)
	require.NoError(t, err)
	assert.Empty(t, view.Participants)
	assert.Empty(t, view.Waitlist)

	f.pay(t, f.users[0], f.paid)
	res, err := f.svc.Register(ctx, f.paid, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.Registered, res.State)
}

func TestUnregister_PaidEventDiscardsPayments(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	p := f.pay(t, f.users[0], f.paid)
	_, err := f.svc.Register(ctx, f.paid, f.users[0])
	require.NoError(t, err)

	res, err := f.svc.Unregister(ctx, f.paid, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.MessageUnregistered, res.Message)
	assert.Equal(t, model.NotRegistered, res.State)
	assert.Empty(t, res.Event.Participants)

	_, err = f.store.Get(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.Register(ctx, f.paid, f.users[0])
	assert.ErrorIs(t, err, ErrPaymentRequired)
}

func TestUnregister_FreeEventKeepsOtherPayments(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	p := f.pay(t, f.users[0], f.paid)
	_, err := f.svc.Register(ctx, f.free, f.users[0])
	require.NoError(t, err)

	_, err = f.svc.Unregister(ctx, f.free, f.users[0])
	require.NoError(t, err)

	_, err = f.store.Get(ctx, p.ID)
	assert.NoError(t, err)
}

func TestUnregister_NonMemberSucceeds(t *testing.T) {
	f := newFixture(t, 5)
	res, err := f.svc.Unregister(context.Background(), f.free, f.users[2])
	require.NoError(t, err)
	assert.Equal(t, model.NotRegistered, res.State)
}

func TestToggle(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	res, err := f.svc.Toggle(ctx, f.free, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.Registered, res.State)

	res, err = f.svc.Toggle(ctx, f.free, f.users[1])
	require.NoError(t, err)
	assert.Equal(t, model.Waitlisted, res.State)

	res, err = f.svc.Toggle(ctx, f.free, f.users[1])
	require.NoError(t, err)
	assert.Equal(t, model.NotRegistered, res.State)
	assert.Empty(t, res.Event.Waitlist)

	res, err = f.svc.Toggle(ctx, f.free, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.MessageUnregistered, res.Message)
	assert.Empty(t, res.Event.Participants)
}

func TestToggle_PaidEventWithoutPaymentChangesNothing(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Toggle(ctx, f.paid, f.users[0])
	assert.ErrorIs(t, err, ErrPaymentRequired)

	state, err := f.store.State(ctx, f.paid, f.users[0])
	require.NoError(t, err)
	assert.Equal(t, model.NotRegistered, state)
}

func TestRegistration_Validation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "not-a-uuid", f.users[0])
	assert.True(t, IsValidation(err))

	_, err = f.svc.Register(ctx, f.free, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Register(ctx, uuid.NewString(), f.users[0])
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.Register(ctx, f.free, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.svc.Event(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
