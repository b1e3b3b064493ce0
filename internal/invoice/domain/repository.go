package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidInvoice     = errors.New("invalid_invoice")
	ErrMissingOrgMetadata = errors.New("missing_org_metadata")
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// InsertIfAbsent reports false when the gateway invoice id already exists.
	InsertIfAbsent(ctx context.Context, inv Invoice) (bool, error)
	// FillMissing completes a stub without overwriting fields already set.
	FillMissing(ctx context.Context, inv Invoice) error
	FindByGatewayID(ctx context.Context, gatewayInvoiceID string) (*Invoice, error)
	CountByOrg(ctx context.Context, orgID snowflake.ID) (int64, error)

	InsertLines(ctx context.Context, lines []InvoiceLine) error
	ListLines(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceLine, error)

	// MarkPaid never touches an invoice that is already paid.
	MarkPaid(ctx context.Context, id snowflake.ID, paidAt, at time.Time) (bool, error)
	// MarkFailed leaves paid and cancelled invoices alone.
	MarkFailed(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
	SetDocumentKey(ctx context.Context, id snowflake.ID, key string, at time.Time) error

	// AppendPayment reports false when the gateway payment id was already recorded.
	AppendPayment(ctx context.Context, payment PaymentRecord) (bool, error)
	SumPayments(ctx context.Context, invoiceID snowflake.ID) (int64, error)
	SetReceiptKey(ctx context.Context, paymentID snowflake.ID, key string) error
}
