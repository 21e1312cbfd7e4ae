package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCheckout struct {
	mock.Mock
}

func (m *mockCheckout) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	args := m.Called(ctx, req)
	if res, ok := args.Get(0).(*gateway.InitiateResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

type stubRenderer struct{}

func (stubRenderer) Invoice(rc *model.Receipt) ([]byte, error) {
	return []byte("%PDF invoice " + rc.Payment.ID), nil
}
func (stubRenderer) Ticket(rc *model.Receipt) ([]byte, error) {
	return []byte("%PDF ticket " + rc.Payment.ID), nil
}

func newPaymentService(t *testing.T, f *fixture) (*PaymentService, *mockCheckout) {
	t.Helper()
	checkout := &mockCheckout{}
	return NewPaymentService(f.store, f.store, checkout, stubRenderer{}, zap.NewNop()), checkout
}

func TestInitiate(t *testing.T) {
	f := newFixture(t, 5)
	svc, checkout := newPaymentService(t, f)
	ctx := context.Background()

	checkout.On("Initiate", mock.Anything, mock.MatchedBy(func(req gateway.InitiateRequest) bool {
		return req.UserID == f.users[0] && req.EventID == f.paid && req.Amount.String() == "500"
	})).Return(&gateway.InitiateResult{PaymentID: "MT1", RedirectURL: "https://checkout.example/MT1"}, nil).Once()

	res, err := svc.Initiate(ctx, f.users[0], f.paid, "500.00")
	require.NoError(t, err)
	assert.Equal(t, "MT1", res.PaymentID)
	assert.Equal(t, "https://checkout.example/MT1", res.RedirectURL)
	checkout.AssertExpectations(t)
}

func TestInitiate_Rejections(t *testing.T) {
	f := newFixture(t, 5)
	svc, checkout := newPaymentService(t, f)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		event   string
		amount  string
		wantErr func(error) bool
	}{
		{"anonymous", "", f.paid, "500", func(err error) bool { return errors.Is(err, ErrUnauthenticated) }},
		{"missing amount", f.users[0], f.paid, "", IsValidation},
		{"not a number", f.users[0], f.paid, "five hundred", IsValidation},
		{"negative amount", f.users[0], f.paid, "-500", IsValidation},
		{"zero amount", f.users[0], f.paid, "0", IsValidation},
		{"wrong amount", f.users[0], f.paid, "499", IsValidation},
		{"free event", f.users[0], f.free, "500", IsValidation},
		{"unknown event", f.users[0], uuid.NewString(), "500", func(err error) bool { return errors.Is(err, repository.ErrNotFound) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Initiate(ctx, tc.user, tc.event, tc.amount)
			require.Error(t, err)
			assert.True(t, tc.wantErr(err), "unexpected error %v", err)
		})
	}
	checkout.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestInitiate_AlreadyPaid(t *testing.T) {
	f := newFixture(t, 5)
	svc, checkout := newPaymentService(t, f)
	f.pay(t, f.users[0], f.paid)

	_, err := svc.Initiate(context.Background(), f.users[0], f.paid, "500")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	checkout.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestInitiate_GatewayFailure(t *testing.T) {
	f := newFixture(t, 5)
	svc, checkout := newPaymentService(t, f)

	checkout.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, gateway.ErrGatewayUnavailable).Once()

	_, err := svc.Initiate(context.Background(), f.users[0], f.paid, "500")
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
}

func TestTransactionOwnership(t *testing.T) {
	f := newFixture(t, 5)
	svc, _ := newPaymentService(t, f)
	ctx := context.Background()
	p := f.pay(t, f.users[0], f.paid)

	rc, err := svc.Transaction(ctx, f.users[0], p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, rc.Payment.ID)
	assert.Equal(t, "Workshop", rc.Event.Name)

	_, err = svc.Transaction(ctx, f.users[1], p.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Transaction(ctx, f.users[0], "MT-unknown")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDocument(t *testing.T) {
	f := newFixture(t, 5)
	svc, _ := newPaymentService(t, f)
	ctx := context.Background()
	p := f.pay(t, f.users[0], f.paid)

	pdf, err := svc.Document(ctx, f.users[0], p.ID, DocumentTicket)
	require.NoError(t, err)
	assert.Contains(t, string(pdf), "ticket "+p.ID)

	pdf, err = svc.Document(ctx, f.users[0], p.ID, DocumentInvoice)
	require.NoError(t, err)
	assert.Contains(t, string(pdf), "invoice "+p.ID)

	_, err = svc.Document(ctx, f.users[0], p.ID, DocumentKind("receipt"))
	assert.True(t, IsValidation(err))

	pending, err := f.store.Open(ctx, repository.OpenPayment{UserID: f.users[1], EventID: f.paid, Amount: p.Amount})
	require.NoError(t, err)
	_, err = svc.Document(ctx, f.users[1], pending.ID, DocumentTicket)
	assert.ErrorIs(t, err, ErrNotPaid)
}
