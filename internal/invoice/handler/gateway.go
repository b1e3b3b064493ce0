package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/invoice/domain"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
)

// gatewayInvoice is the invoice object carried by invoice.* events.
type gatewayInvoice struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	Currency      string            `json:"currency"`
	Subtotal      int64             `json:"subtotal"`
	Tax           int64             `json:"tax"`
	Total         int64             `json:"total"`
	AmountPaid    int64             `json:"amount_paid"`
	DueDate       int64             `json:"due_date"`
	BillingReason string            `json:"billing_reason"`
	PaymentIntent string            `json:"payment_intent"`
	Charge        string            `json:"charge"`
	PaidAt        int64             `json:"paid_at"`
	Metadata      map[string]string `json:"metadata"`
	Lines         struct {
		Data []gatewayLine `json:"data"`
	} `json:"lines"`
}

type gatewayLine struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

func decodeInvoice(event webhookdomain.Event) (gatewayInvoice, error) {
	var in gatewayInvoice
	if len(event.Object) == 0 {
		return in, fmt.Errorf("%w: event %s has no invoice object", domain.ErrInvalidInvoice, event.ID)
	}
	if err := json.Unmarshal(event.Object, &in); err != nil {
		return in, fmt.Errorf("%w: %v", domain.ErrInvalidInvoice, err)
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return in, fmt.Errorf("%w: invoice id is required", domain.ErrInvalidInvoice)
	}
	return in, nil
}

// owner reads the org and contract ids the gateway carries in metadata.
func (in gatewayInvoice) owner() (*snowflake.ID, *snowflake.ID, error) {
	orgID, err := metadataID(in.Metadata, "org_id")
	if err != nil {
		return nil, nil, err
	}
	if orgID == nil {
		return nil, nil, domain.ErrMissingOrgMetadata
	}
	contractID, err := metadataID(in.Metadata, "contract_id")
	if err != nil {
		return nil, nil, err
	}
	return orgID, contractID, nil
}

func (in gatewayInvoice) paymentID() string {
	switch {
	case strings.TrimSpace(in.PaymentIntent) != "":
		return strings.TrimSpace(in.PaymentIntent)
	case strings.TrimSpace(in.Charge) != "":
		return strings.TrimSpace(in.Charge)
	default:
		return in.ID + ":paid"
	}
}

func (in gatewayInvoice) paidAt(event webhookdomain.Event, now time.Time) time.Time {
	switch {
	case in.PaidAt > 0:
		return time.Unix(in.PaidAt, 0).UTC()
	case !event.Created.IsZero():
		return event.Created
	default:
		return now
	}
}

func (in gatewayInvoice) dueDate() *time.Time {
	if in.DueDate <= 0 {
		return nil
	}
	due := time.Unix(in.DueDate, 0).UTC()
	return &due
}

func (in gatewayInvoice) currency() string {
	code := strings.ToUpper(strings.TrimSpace(in.Currency))
	if code == "" {
		return "JPY"
	}
	return code
}

func (in gatewayInvoice) isFirst() bool {
	return in.BillingReason == "subscription_create"
}

func (in gatewayInvoice) lines(invoiceID snowflake.ID) []domain.InvoiceLine {
	lines := make([]domain.InvoiceLine, 0, len(in.Lines.Data))
	for i, line := range in.Lines.Data {
		lines = append(lines, domain.InvoiceLine{
			InvoiceID:   invoiceID,
			Position:    i + 1,
			Kind:        line.Kind,
			Description: line.Description,
			Amount:      line.Amount,
		})
	}
	return lines
}

func metadataID(metadata map[string]string, key string) (*snowflake.ID, error) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: metadata %s=%q", domain.ErrInvalidInvoice, key, raw)
	}
	return &id, nil
}
