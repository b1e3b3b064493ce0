package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, org_id, contract_id, gateway_invoice_id, number, amount, tax, total, currency,
	due_date, status, is_first, document_key, paid_at, created_at, updated_at`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) InsertIfAbsent(ctx context.Context, inv domain.Invoice) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (gateway_invoice_id) DO NOTHING`,
		inv.ID,
		inv.OrgID,
		inv.ContractID,
		inv.GatewayInvoiceID,
		inv.Number,
		inv.Amount,
		inv.Tax,
		inv.Total,
		inv.Currency,
		inv.DueDate,
		inv.Status,
		inv.IsFirst,
		inv.DocumentKey,
		inv.PaidAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FillMissing(ctx context.Context, inv domain.Invoice) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET number = CASE WHEN number = '' THEN ? ELSE number END,
			org_id = COALESCE(org_id, ?),
			contract_id = COALESCE(contract_id, ?),
			amount = CASE WHEN total = 0 THEN ? ELSE amount END,
			tax = CASE WHEN total = 0 THEN ? ELSE tax END,
			total = CASE WHEN total = 0 THEN ? ELSE total END,
			due_date = COALESCE(due_date, ?),
			is_first = CASE WHEN is_first THEN is_first ELSE ? END,
			updated_at = ?
		 WHERE gateway_invoice_id = ?`,
		inv.Number,
		inv.OrgID,
		inv.ContractID,
		inv.Amount,
		inv.Tax,
		inv.Total,
		inv.DueDate,
		inv.IsFirst,
		inv.UpdatedAt,
		inv.GatewayInvoiceID,
	).Error
}

func (r *repository) FindByGatewayID(ctx context.Context, gatewayInvoiceID string) (*domain.Invoice, error) {
	var item domain.Invoice
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE gateway_invoice_id = ? LIMIT 1`,
		gatewayInvoiceID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) CountByOrg(ctx context.Context, orgID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices WHERE org_id = ?`,
		orgID,
	).Scan(&count).Error
	return count, err
}

func (r *repository) InsertLines(ctx context.Context, lines []domain.InvoiceLine) error {
	for _, line := range lines {
		if err := r.db.WithContext(ctx).Exec(
			`INSERT INTO invoice_lines (invoice_id, position, kind, description, amount)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (invoice_id, position) DO NOTHING`,
			line.InvoiceID,
			line.Position,
			line.Kind,
			line.Description,
			line.Amount,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) ListLines(ctx context.Context, invoiceID snowflake.ID) ([]domain.InvoiceLine, error) {
	var items []domain.InvoiceLine
	err := r.db.WithContext(ctx).Raw(
		`SELECT invoice_id, position, kind, description, amount
		 FROM invoice_lines
		 WHERE invoice_id = ?
		 ORDER BY position ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) MarkPaid(ctx context.Context, id snowflake.ID, paidAt, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, paid_at = COALESCE(paid_at, ?), updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.InvoiceStatusPaid,
		paidAt,
		at,
		id,
		domain.InvoiceStatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		domain.InvoiceStatusFailed,
		at,
		id,
		domain.InvoiceStatusPaid,
		domain.InvoiceStatusCancelled,
		domain.InvoiceStatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetDocumentKey(ctx context.Context, id snowflake.ID, key string, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET document_key = ?, updated_at = ? WHERE id = ? AND document_key IS NULL`,
		key,
		at,
		id,
	).Error
}

func (r *repository) AppendPayment(ctx context.Context, p domain.PaymentRecord) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO payment_records (id, invoice_id, gateway_payment_id, amount, paid_at, receipt_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (gateway_payment_id) DO NOTHING`,
		p.ID,
		p.InvoiceID,
		p.GatewayPaymentID,
		p.Amount,
		p.PaidAt,
		p.ReceiptKey,
		p.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SumPayments(ctx context.Context, invoiceID snowflake.ID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payment_records WHERE invoice_id = ?`,
		invoiceID,
	).Scan(&sum).Error
	return sum, err
}

func (r *repository) SetReceiptKey(ctx context.Context, paymentID snowflake.ID, key string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE payment_records SET receipt_key = ? WHERE id = ? AND receipt_key IS NULL`,
		key,
		paymentID,
	).Error
}
