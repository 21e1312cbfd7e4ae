package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/queue"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]*gateway.ProviderStatus
	errs     map[string]error
	calls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]*gateway.ProviderStatus{}, errs: map[string]error{}}
}

func (g *fakeGateway) set(id, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = &gateway.ProviderStatus{Code: code, Success: code == gateway.CodeSuccess, ProviderReference: "T-" + id}
}

func (g *fakeGateway) QueryStatus(_ context.Context, id string) (*gateway.ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err := g.errs[id]; err != nil {
		return nil, err
	}
	st, ok := g.statuses[id]
	if !ok {
		return &gateway.ProviderStatus{Code: "PAYMENT_PENDING"}, nil
	}
	return st, nil
}

func (g *fakeGateway) ParseCallback(body []byte, xVerify string) (*gateway.Callback, error) {
	if xVerify != "ok###1" {
		return nil, gateway.ErrInvalidSignature
	}
	return &gateway.Callback{PaymentID: string(body)}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type harness struct {
	store   *memory.Store
	gateway *fakeGateway
	queue   *fakeQueue
	rec     *Reconciler
	eventID string
	clock   time.Time
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	ids, err := repository.NewPaymentIDGenerator(3)
	require.NoError(t, err)

	h := &harness{gateway: newFakeGateway(), queue: &fakeQueue{}, eventID: "evt-paid", clock: time.Now()}
	h.store = memory.New(ids, memory.WithClock(func() time.Time { return h.clock }))
	h.store.PutEvent(model.Event{ID: h.eventID, Name: "Paid talk", Capacity: capacity, RegistrationFee: decimal.NewFromInt(250), Currency: "INR"})
	h.rec = NewReconciler(h.gateway, h.store, h.store, h.queue, zap.NewNop(), nil)
	return h
}

func (h *harness) open(t *testing.T, userID string) *model.Payment {
	t.Helper()
	p, err := h.store.Open(context.Background(), repository.OpenPayment{UserID: userID, EventID: h.eventID, Amount: decimal.NewFromInt(250), Currency: "INR"})
	require.NoError(t, err)
	return p
}

func TestValidate_SuccessEnrollsAndEnqueuesOnce(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	p := h.open(t, "alice")
	h.gateway.set(p.ID, gateway.CodeSuccess)

	res, err := h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, res.Status)
	assert.True(t, res.Transitioned)
	assert.Equal(t, model.Enrolled, res.Enrollment)

	// The redirect and the callback both land; the second is a redelivery.
	res, err = h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, res.Status)
	assert.False(t, res.Transitioned)

	assert.Equal(t, 1, h.queue.len())
	assert.Equal(t, p.ID, h.queue.jobs[0].PaymentID)

	view, err := h.store.View(ctx, h.eventID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, view.Participants)

	stored, err := h.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-"+p.ID, stored.ProviderReference)
}

func TestValidate_ConcurrentRedeliveryTransitionsOnce(t *testing.T) {
	h := newHarness(t, 5)
	p := h.open(t, "alice")
	h.gateway.set(p.ID, gateway.CodeSuccess)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rec.Validate(context.Background(), p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.queue.len())
	view, _ := h.store.View(context.Background(), h.eventID)
	assert.Len(t, view.Participants, 1)
}

func TestValidate_FailureLeavesRosterAlone(t *testing.T) {
	h := newHarness(t, 5)
	p := h.open(t, "alice")
	h.gateway.set(p.ID, "PAYMENT_ERROR")

	res, err := h.rec.Validate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, res.Status)
	assert.True(t, res.Transitioned)
	assert.Empty(t, res.Enrollment)
	assert.Zero(t, h.queue.len())

	state, _ := h.store.State(context.Background(), h.eventID, "alice")
	assert.Equal(t, model.NotRegistered, state)
}

func TestValidate_ConflictKeepsStoredOutcome(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	p := h.open(t, "alice")

	h.gateway.set(p.ID, "PAYMENT_ERROR")
	_, err := h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)

	h.gateway.set(p.ID, gateway.CodeSuccess)
	res, err := h.rec.Validate(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrSettlementConflict)
	require.NotNil(t, res)
	assert.Equal(t, model.PaymentFailed, res.Status)

	stored, _ := h.store.Get(ctx, p.ID)
	assert.Equal(t, model.PaymentFailed, stored.Status)
	state, _ := h.store.State(ctx, h.eventID, "alice")
	assert.Equal(t, model.NotRegistered, state)
	assert.Zero(t, h.queue.len())
}

func TestValidate_PaidUserOnFullEventIsWaitlisted(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	first, second := h.open(t, "alice"), h.open(t, "bob")
	h.gateway.set(first.ID, gateway.CodeSuccess)
	h.gateway.set(second.ID, gateway.CodeSuccess)

	_, err := h.rec.Validate(ctx, first.ID)
	require.NoError(t, err)
	res, err := h.rec.Validate(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AddedWaitlist, res.Enrollment)

	view, _ := h.store.View(ctx, h.eventID)
	assert.Equal(t, []string{"alice"}, view.Participants)
	assert.Equal(t, []string{"bob"}, view.Waitlist)
	assert.Equal(t, 2, h.queue.len())
}

func TestValidate_Errors(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.rec.Validate(ctx, "MT-unknown")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Zero(t, h.gateway.calls)

	p := h.open(t, "alice")
	h.gateway.errs[p.ID] = fmt.Errorf("%w: http 503", gateway.ErrGatewayUnavailable)
	_, err = h.rec.Validate(ctx, p.ID)
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

	stored, _ := h.store.Get(ctx, p.ID)
	assert.Equal(t, model.PaymentPending, stored.Status)
}

func TestValidate_EnqueueFailureRetriedOnRedelivery(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.queue.err = errors.New("redis down")
	p := h.open(t, "alice")
	h.gateway.set(p.ID, gateway.CodeSuccess)

	res, err := h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, res.Status)
	assert.True(t, res.Transitioned)
	assert.False(t, res.FulfillmentQueued)
	assert.Zero(t, h.queue.len())

	stored, _ := h.store.Get(ctx, p.ID)
	assert.Nil(t, stored.FulfillmentQueuedAt)

	// The queue recovers and the provider callback lands after the redirect.
	h.queue.mu.Lock()
	h.queue.err = nil
	h.queue.mu.Unlock()

	res, err = h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.True(t, res.FulfillmentQueued)
	require.Equal(t, 1, h.queue.len())
	assert.Equal(t, p.ID, h.queue.jobs[0].PaymentID)

	stored, _ = h.store.Get(ctx, p.ID)
	assert.NotNil(t, stored.FulfillmentQueuedAt)

	// Once recorded as queued, further deliveries enqueue nothing.
	res, err = h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, res.FulfillmentQueued)
	assert.Equal(t, 1, h.queue.len())
}

func TestEnsureFulfillment_ExpiredClaimIsTakenOver(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	p := h.open(t, "alice")
	_, err := h.store.Settle(ctx, p.ID, model.PaymentPaid, "T1")
	require.NoError(t, err)

	// A caller that claimed and then died leaves the claim behind.
	claimed, err := h.store.ClaimFulfillment(ctx, p.ID, fulfillmentLease)
	require.NoError(t, err)
	require.True(t, claimed)

	queued, err := h.rec.EnsureFulfillment(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Zero(t, h.queue.len())

	h.clock = h.clock.Add(fulfillmentLease + time.Second)
	queued, err = h.rec.EnsureFulfillment(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, 1, h.queue.len())
}

func TestHandleCallback(t *testing.T) {
	h := newHarness(t, 5)
	p := h.open(t, "alice")
	h.gateway.set(p.ID, gateway.CodeSuccess)

	_, err := h.rec.HandleCallback(context.Background(), []byte(p.ID), "forged")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	res, err := h.rec.HandleCallback(context.Background(), []byte(p.ID), "ok###1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, res.Status)
}

func TestSweeper_RunOnce(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	start := h.clock

	paid, failed, unreachable := h.open(t, "alice"), h.open(t, "bob"), h.open(t, "carol")
	h.clock = start.Add(40 * time.Minute)
	fresh := h.open(t, "dave")

	h.gateway.set(paid.ID, gateway.CodeSuccess)
	h.gateway.set(failed.ID, "PAYMENT_DECLINED")
	h.gateway.errs[unreachable.ID] = gateway.ErrGatewayUnavailable

	s := NewSweeper(h.store, h.rec, config.SweepConfig{PendingTTL: 30 * time.Minute, BatchSize: 10}, zap.NewNop(), nil)
	s.now = func() time.Time { return h.clock }

	report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 3, Paid: 1, Failed: 1, Skipped: 1}, report)

	for id, want := range map[string]model.PaymentStatus{
		paid.ID:        model.PaymentPaid,
		failed.ID:      model.PaymentFailed,
		unreachable.ID: model.PaymentPending,
		fresh.ID:       model.PaymentPending,
	} {
		p, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status, id)
	}

	state, _ := h.store.State(ctx, h.eventID, "alice")
	assert.Equal(t, model.Registered, state)
	assert.Equal(t, 1, h.queue.len())
}

func TestSweeper_RequeuesLostFulfillment(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	p := h.open(t, "alice")
	h.gateway.set(p.ID, gateway.CodeSuccess)

	h.queue.err = errors.New("redis down")
	_, err := h.rec.Validate(ctx, p.ID)
	require.NoError(t, err)
	require.Zero(t, h.queue.len())

	s := NewSweeper(h.store, h.rec, config.SweepConfig{PendingTTL: 30 * time.Minute, BatchSize: 10}, zap.NewNop(), nil)
	h.clock = h.clock.Add(time.Minute)
	s.now = func() time.Time { return h.clock }

	// Still failing: nothing is counted and the payment stays unqueued.
	report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)

	h.queue.mu.Lock()
	h.queue.err = nil
	h.queue.mu.Unlock()

	report, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Requeued: 1}, report)
	require.Equal(t, 1, h.queue.len())
	assert.Equal(t, p.ID, h.queue.jobs[0].PaymentID)

	report, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)
	assert.Equal(t, 1, h.queue.len())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 5)
	s := NewSweeper(h.store, h.rec, config.SweepConfig{Interval: 10 * time.Millisecond, PendingTTL: time.Minute}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
