// Package document renders invoice and receipt PDFs and stores them in an
// object store.
package document

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrInvalidDocument = errors.New("invalid_document")

type Line struct {
	Description string
	Amount      int64
}

// Invoice is the printable view of an invoice.
type Invoice struct {
	Number     string
	OrgName    string
	AdminEmail string
	IssuedAt   time.Time
	DueDate    *time.Time
	Currency   string
	Lines      []Line
	Subtotal   int64
	Tax        int64
	Total      int64
}

// Receipt confirms a single payment against an invoice.
type Receipt struct {
	Invoice
	PaymentID string
	Amount    int64
	PaidAt    time.Time
}

type Renderer interface {
	RenderInvoice(ctx context.Context, inv Invoice) ([]byte, error)
	RenderReceipt(ctx context.Context, rcpt Receipt) ([]byte, error)
}

type PDFRenderer struct{}

func NewRenderer() Renderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) RenderInvoice(ctx context.Context, inv Invoice) ([]byte, error) {
	if strings.TrimSpace(inv.Number) == "" {
		return nil, fmt.Errorf("%w: invoice number", ErrInvalidDocument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := newMaroto()
	m.AddRow(14, text.NewCol(12, "Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}))

	due := "-"
	if inv.DueDate != nil {
		due = formatDate(*inv.DueDate)
	}
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+inv.Number, props.Text{Top: 0}),
			text.New("Date of issue: "+formatDate(inv.IssuedAt), props.Text{Top: 5}),
			text.New("Date due: "+due, props.Text{Top: 10}),
		),
		billTo(inv),
	)
	m.AddRow(14, text.NewCol(12, FormatAmount(inv.Currency, inv.Total)+" due "+due, props.Text{Size: 14, Style: fontstyle.Bold, Top: 4}))

	addLines(m, inv)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Amount due", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.Total), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	return generate(m)
}

func (r *PDFRenderer) RenderReceipt(ctx context.Context, rcpt Receipt) ([]byte, error) {
	if strings.TrimSpace(rcpt.Number) == "" {
		return nil, fmt.Errorf("%w: invoice number", ErrInvalidDocument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := newMaroto()
	m.AddRow(14, text.NewCol(12, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}))
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+rcpt.Number, props.Text{Top: 0}),
			text.New("Payment: "+rcpt.PaymentID, props.Text{Top: 5}),
			text.New("Date paid: "+formatDate(rcpt.PaidAt), props.Text{Top: 10}),
		),
		billTo(rcpt.Invoice),
	)
	m.AddRow(14, text.NewCol(12, FormatAmount(rcpt.Currency, rcpt.Amount)+" paid on "+formatDate(rcpt.PaidAt), props.Text{Size: 14, Style: fontstyle.Bold, Top: 4}))

	addLines(m, rcpt.Invoice)
	return generate(m)
}

func newMaroto() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func billTo(inv Invoice) core.Col {
	return col.New(6).Add(
		text.New("Bill to", props.Text{Style: fontstyle.Bold}),
		text.New(inv.OrgName, props.Text{Top: 5}),
		text.New(inv.AdminEmail, props.Text{Top: 10}),
	)
}

func addLines(m core.Maroto, inv Invoice) {
	m.AddRow(8,
		text.NewCol(9, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range inv.Lines {
		m.AddRow(7,
			text.NewCol(9, line.Description, props.Text{Size: 9}),
			text.NewCol(3, FormatAmount(inv.Currency, line.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.Subtotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Tax", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.Tax), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9}),
		text.NewCol(2, FormatAmount(inv.Currency, inv.Total), props.Text{Size: 9, Align: align.Right}),
	)
}

func generate(m core.Maroto) ([]byte, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// FormatAmount prints an amount in the smallest currency unit with thousands
// separators, e.g. "JPY 33,000" or "JPY -10,000".
func FormatAmount(currency string, amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "JPY"
	}
	return code + " " + sign + b.String()
}
