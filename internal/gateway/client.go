// Package gateway talks to the hosted-checkout payment provider. Requests
// are base64-encoded JSON signed with the merchant salt; the provider
// redirects the payer back and later answers status queries for the
// merchant transaction id.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrGatewayUnavailable wraps every failure to reach the provider or to
	// make sense of its answer.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidSignature is returned when an inbound X-VERIFY does not match.
	ErrInvalidSignature = errors.New("invalid gateway signature")
)

const (
	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"

	// CodeSuccess is the only provider code that settles a payment as paid.
	CodeSuccess = "PAYMENT_SUCCESS"

	maxResponseBytes = 1 << 20
)

// Ledger is the part of the payment ledger the adapter writes.
type Ledger interface {
	Open(ctx context.Context, req repository.OpenPayment) (*model.Payment, error)
	AttachLink(ctx context.Context, id, link string) error
}

// InitiateRequest asks for a hosted checkout for one registration fee.
type InitiateRequest struct {
	UserID       string
	EventID      string
	Amount       decimal.Decimal
	MobileNumber string
}

// InitiateResult carries the new payment id and where to send the payer.
type InitiateResult struct {
	PaymentID   string
	RedirectURL string
}

// ProviderStatus is the provider's answer to a status query.
type ProviderStatus struct {
	Code              string
	Success           bool
	State             string
	ProviderReference string
}

// Callback is a verified server-to-server notification.
type Callback struct {
	PaymentID string
	Status    ProviderStatus
}

// Client is the provider adapter.
type Client struct {
	cfg           config.GatewayConfig
	publicBaseURL string
	signer        *Signer
	ledger        Ledger
	http          *http.Client
	log           *zap.Logger
	metrics       *metrics.Metrics
}

// defaultTimeout bounds provider calls when GATEWAY_TIMEOUT is unset or not
// positive.
const defaultTimeout = 15 * time.Second

// NewClient builds the adapter. publicBaseURL is the externally reachable
// address of this service, used for the redirect and callback URLs.
func NewClient(cfg config.GatewayConfig, publicBaseURL string, ledger Ledger, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:           cfg,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:        NewSigner(cfg.SaltKey, cfg.SaltIndex),
		ledger:        ledger,
		http:          &http.Client{Timeout: cfg.Timeout},
		log:           log.Named("gateway"),
		metrics:       m,
	}
}

type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type envelope struct {
	Request string `json:"request"`
}

type providerResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		ResponseCode          string `json:"responseCode"`
		InstrumentResponse    struct {
			Type         string `json:"type"`
			RedirectInfo struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// Initiate opens a pending payment and asks the provider for a hosted
// checkout. The pending record stays in the ledger when the provider call
// fails; the sweeper settles it later.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	minor := req.Amount.Shift(2)
	if !minor.IsInteger() || !minor.IsPositive() {
		return nil, fmt.Errorf("amount %s cannot be charged in minor units", req.Amount)
	}

	payment, err := c.ledger.Open(ctx, repository.OpenPayment{
		UserID:   req.UserID,
		EventID:  req.EventID,
		Amount:   req.Amount,
		Currency: c.cfg.Currency,
		Provider: c.cfg.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("open payment: %w", err)
	}
	c.metrics.PaymentOpened()

	body, err := json.Marshal(payRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: payment.ID,
		MerchantUserID:        req.UserID,
		Amount:                minor.IntPart(),
		RedirectURL:           c.publicBaseURL + "/payment/validate/" + payment.ID,
		RedirectMode:          "REDIRECT",
		CallbackURL:           c.publicBaseURL + "/payment/callback",
		MobileNumber:          req.MobileNumber,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode pay request: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(body)

	wire, err := json.Marshal(envelope{Request: payload})
	if err != nil {
		return nil, fmt.Errorf("encode pay envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+payPath, bytes.NewReader(wire))
	if err != nil {
		return nil, fmt.Errorf("build pay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-VERIFY", c.signer.Sign(payload, payPath))

	start := time.Now()
	resp, _, err := c.do(httpReq)
	c.metrics.ObserveGateway("pay", start, err)
	if err != nil {
		c.log.Warn("pay request failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return nil, err
	}

	url := resp.Data.InstrumentResponse.RedirectInfo.URL
	if !resp.Success || url == "" {
		c.log.Warn("pay request rejected",
			zap.String("payment_id", payment.ID),
			zap.String("code", resp.Code),
			zap.String("message", resp.Message),
		)
		return nil, fmt.Errorf("%w: provider answered %s", ErrGatewayUnavailable, resp.Code)
	}

	if err := c.ledger.AttachLink(ctx, payment.ID, url); err != nil {
		return nil, fmt.Errorf("attach payment link: %w", err)
	}

	c.log.Info("payment initiated",
		zap.String("payment_id", payment.ID),
		zap.String("event_id", req.EventID),
		zap.String("user_id", req.UserID),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return &InitiateResult{PaymentID: payment.ID, RedirectURL: url}, nil
}

// QueryStatus asks the provider for the state of a payment.
func (c *Client) QueryStatus(ctx context.Context, paymentID string) (*ProviderStatus, error) {
	path := statusPath + "/" + c.cfg.MerchantID + "/" + paymentID

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-VERIFY", c.signer.SignPath(path))
	httpReq.Header.Set("X-MERCHANT-ID", c.cfg.MerchantID)

	start := time.Now()
	resp, raw, err := c.do(httpReq)
	if err == nil {
		err = c.verifyResponse(raw, path, resp.header)
	}
	c.metrics.ObserveGateway("status", start, err)
	if err != nil {
		c.log.Warn("status query failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, err
	}

	return toStatus(&resp.providerResponse), nil
}

// ParseCallback verifies and decodes a server-to-server callback body.
func (c *Client) ParseCallback(body []byte, xVerify string) (*Callback, error) {
	var env struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Response == "" {
		return nil, fmt.Errorf("%w: malformed callback body", ErrInvalidSignature)
	}
	if err := c.signer.VerifyCallback(env.Response, xVerify); err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: callback response is not base64", ErrInvalidSignature)
	}
	var resp providerResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return nil, fmt.Errorf("%w: callback response is not JSON", ErrInvalidSignature)
	}
	if resp.Data.MerchantTransactionID == "" {
		return nil, fmt.Errorf("%w: callback without merchant transaction id", ErrInvalidSignature)
	}
	return &Callback{PaymentID: resp.Data.MerchantTransactionID, Status: *toStatus(&resp)}, nil
}

type decodedResponse struct {
	providerResponse
	header string
}

func (c *Client) do(req *http.Request) (*decodedResponse, []byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, nil, fmt.Errorf("%w: http %d", ErrGatewayUnavailable, res.StatusCode)
	}

	out := &decodedResponse{header: res.Header.Get("X-VERIFY")}
	if err := json.Unmarshal(raw, &out.providerResponse); err != nil {
		return nil, nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return out, raw, nil
}

func (c *Client) verifyResponse(raw []byte, path, header string) error {
	if header == "" && !c.cfg.RequireSignedResponses {
		return nil
	}
	return c.signer.Verify(base64.StdEncoding.EncodeToString(raw), path, header)
}

func toStatus(resp *providerResponse) *ProviderStatus {
	return &ProviderStatus{
		Code:              resp.Code,
		Success:           resp.Code == CodeSuccess,
		State:             resp.Data.State,
		ProviderReference: resp.Data.TransactionID,
	}
}
