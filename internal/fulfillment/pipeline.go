// Package fulfillment turns a paid registration into an invoice, a ticket
// and the email that delivers them.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/queue"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotPaid is returned for payments that are not settled as paid.
var ErrNotPaid = errors.New("payment is not paid")

// Receipts loads a payment with its user and event.
type Receipts interface {
	Receipt(ctx context.Context, id string) (*model.Receipt, error)
}

// Renderer produces the two PDFs.
type Renderer interface {
	Invoice(rc *model.Receipt) ([]byte, error)
	Ticket(rc *model.Receipt) ([]byte, error)
}

// Pipeline renders and mails the documents of one paid payment.
type Pipeline struct {
	receipts Receipts
	renderer Renderer
	mailer   Mailer
	log      *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(receipts Receipts, renderer Renderer, mailer Mailer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		receipts: receipts,
		renderer: renderer,
		mailer:   mailer,
		log:      log.Named("fulfillment"),
	}
}

// Fulfill renders the invoice and the ticket concurrently and mails both to
// the payer. Running it twice sends the email twice; the queue delivers at
// least once.
func (p *Pipeline) Fulfill(ctx context.Context, paymentID string) error {
	rc, err := p.receipts.Receipt(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("payment %s: %w", paymentID, err))
		}
		return fmt.Errorf("load receipt: %w", err)
	}
	if rc.Payment.Status != model.PaymentPaid {
		return queue.Permanent(fmt.Errorf("payment %s is %s: %w", paymentID, rc.Payment.Status, ErrNotPaid))
	}

	var invoice, ticket []byte
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoice, err = p.renderer.Invoice(rc)
		return err
	})
	g.Go(func() error {
		var err error
		ticket, err = p.renderer.Ticket(rc)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("render documents: %w", err)
	}

	msg := Message{
		To:      rc.User.Email,
		Subject: "Your ticket for " + rc.Event.Name,
		Text: fmt.Sprintf(
			"Hi %s,\n\nThanks for registering for %s. Your invoice and ticket are attached.\nShow the QR code on the ticket at the entrance.\n\nPayment: %s\nAmount: %s %s\n",
			rc.User.Name, rc.Event.Name, rc.Payment.ID, rc.Payment.Amount.StringFixed(2), rc.Payment.Currency,
		),
		Attachments: []Attachment{
			{Name: "invoice-" + rc.Payment.ID + ".pdf", ContentType: "application/pdf", Data: invoice},
			{Name: "ticket-" + rc.Payment.ID + ".pdf", ContentType: "application/pdf", Data: ticket},
		},
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver documents: %w", err)
	}

	p.log.Info("documents delivered",
		zap.String("payment_id", paymentID),
		zap.String("event_id", rc.Event.ID),
		zap.String("user_id", rc.User.ID),
	)
	return nil
}

// Handle adapts Fulfill to a queue worker.
func (p *Pipeline) Handle(ctx context.Context, job queue.Job) error {
	return p.Fulfill(ctx, job.PaymentID)
}
