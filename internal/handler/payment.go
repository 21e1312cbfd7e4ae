package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/reconcile"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxCallbackBytes = 1 << 20

// Reconciler settles payments from the provider's answer.
type Reconciler interface {
	Validate(ctx context.Context, paymentID string) (*reconcile.Result, error)
	HandleCallback(ctx context.Context, body []byte, xVerify string) (*reconcile.Result, error)
}

// PaymentHandler serves payment initiation, the provider's return paths,
// and payment records.
type PaymentHandler struct {
	svc           *service.PaymentService
	reconciler    Reconciler
	clientBaseURL string
	log           *zap.Logger
}

// NewPaymentHandler constructs a PaymentHandler. clientBaseURL hosts the
// completion page payers are sent to after validation.
func NewPaymentHandler(svc *service.PaymentService, reconciler Reconciler, clientBaseURL string, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		svc:           svc,
		reconciler:    reconciler,
		clientBaseURL: clientBaseURL,
		log:           log.Named("handler"),
	}
}

// Pay handles GET /payment/pay?amount=&eventId=
// Opens a pending payment and returns the provider checkout URL.
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	link, err := h.svc.Initiate(r.Context(), UserIDFromContext(r.Context()), q.Get("eventId"), q.Get("amount"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// Validate handles GET /payment/validate/{paymentId}
// The provider sends the payer here after checkout. The payment is settled
// from the provider's status API and the payer is redirected to the
// completion page.
func (h *PaymentHandler) Validate(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	res, err := h.reconciler.Validate(r.Context(), paymentID)
	if err != nil && (res == nil || errors.Is(err, repository.ErrSettlementConflict)) {
		writeServiceError(w, h.log, err)
		return
	}
	if err != nil {
		// Settled, but a follow-up step failed; the payer still sees the outcome.
		h.log.Error("payment validated with error", zap.String("payment_id", paymentID), zap.Error(err))
	}

	target := fmt.Sprintf("%s/payment/complete?%s", h.clientBaseURL, url.Values{
		"paymentId": {res.PaymentID},
		"status":    {string(res.Status)},
	}.Encode())
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles POST /payment/callback
// Server-to-server notification signed with X-VERIFY.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.reconciler.HandleCallback(r.Context(), body, r.Header.Get("X-VERIFY"))
	if err != nil && (res == nil || errors.Is(err, repository.ErrSettlementConflict)) {
		writeServiceError(w, h.log, err)
		return
	}
	if err != nil {
		h.log.Error("callback reconciled with error", zap.String("payment_id", res.PaymentID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"paymentId": res.PaymentID,
		"status":    string(res.Status),
	})
}

// Transaction handles GET /payment/transactions/{paymentId}
// Returns the payment with its user and event. Owner only.
func (h *PaymentHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	rc, err := h.svc.Transaction(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "paymentId"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// Ticket handles GET /payment/transactions/{paymentId}/ticket
func (h *PaymentHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	h.document(w, r, service.DocumentTicket)
}

// Invoice handles GET /payment/transactions/{paymentId}/invoice
func (h *PaymentHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	h.document(w, r, service.DocumentInvoice)
}

func (h *PaymentHandler) document(w http.ResponseWriter, r *http.Request, kind service.DocumentKind) {
	paymentID := chi.URLParam(r, "paymentId")
	pdf, err := h.svc.Document(r.Context(), UserIDFromContext(r.Context()), paymentID, kind)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", string(kind)+"-"+paymentID+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
