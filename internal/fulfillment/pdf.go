package fulfillment

import (
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const dateLayout = "02 Jan 2006"

// PDFRenderer renders invoices and tickets with maroto.
type PDFRenderer struct {
	issuer string
	loc    *time.Location
}

// NewPDFRenderer returns a renderer that prints issuer in the header and
// formats dates in loc.
func NewPDFRenderer(issuer string, loc *time.Location) *PDFRenderer {
	if loc == nil {
		loc = time.UTC
	}
	return &PDFRenderer{issuer: issuer, loc: loc}
}

// Invoice renders the payment invoice.
func (r *PDFRenderer) Invoice(rc *model.Receipt) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(8, "Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, r.issuer, props.Text{Size: 10, Align: align.Right, Top: 4}),
	)

	paidOn := rc.Payment.CreatedAt
	if rc.Payment.SettledAt != nil {
		paidOn = *rc.Payment.SettledAt
	}
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+rc.Payment.ID, props.Text{Top: 0}),
			text.New("Date paid: "+paidOn.In(r.loc).Format(dateLayout), props.Text{Top: 4}),
			text.New("Provider reference: "+orDash(rc.Payment.ProviderReference), props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(rc.User.Name, props.Text{Top: 4, Align: align.Right}),
			text.New(rc.User.Email, props.Text{Top: 8, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	amount := fmt.Sprintf("%s %s", rc.Payment.Amount.StringFixed(2), rc.Payment.Currency)
	m.AddRow(12,
		text.NewCol(8, "Registration fee: "+rc.Event.Name, props.Text{Size: 9}),
		text.NewCol(4, amount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, amount, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate invoice: %w", err)
	}
	return doc.GetBytes(), nil
}

// Ticket renders the admission ticket with its QR code.
func (r *PDFRenderer) Ticket(rc *model.Receipt) ([]byte, error) {
	payload, err := EncodeTicketCode(TicketCode{
		UserID:    rc.User.ID,
		EventID:   rc.Event.ID,
		PaymentID: rc.Payment.ID,
	})
	if err != nil {
		return nil, err
	}

	m := maroto.New(config.NewBuilder().Build())

	m.AddRow(15,
		text.NewCol(12, rc.Event.Name, props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Center}),
	)
	m.AddRow(20,
		col.New(12).Add(
			text.New("Venue: "+orDash(rc.Event.Venue), props.Text{Align: align.Center}),
			text.New("Date: "+rc.Event.StartsAt.In(r.loc).Format(dateLayout+" 15:04"), props.Text{Top: 5, Align: align.Center}),
			text.New("Attendee: "+rc.User.Name, props.Text{Top: 10, Align: align.Center}),
		),
	)
	m.AddRow(70,
		col.New(3),
		code.NewQrCol(6, payload, props.Rect{Center: true, Percent: 90}),
		col.New(3),
	)
	m.AddRow(10,
		text.NewCol(12, "Ticket "+rc.Payment.ID, props.Text{Size: 8, Align: align.Center}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate ticket: %w", err)
	}
	return doc.GetBytes(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
