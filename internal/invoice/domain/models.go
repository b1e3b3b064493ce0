// Package domain contains persistence models for invoices and payments
// mirrored from the payment gateway.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusFailed    InvoiceStatus = "failed"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is the local copy of a gateway invoice. Rows created from a
// payment event that arrived first are stubs that invoice.created fills in.
type Invoice struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            *snowflake.ID `gorm:"index" json:"org_id,omitempty"`
	ContractID       *snowflake.ID `gorm:"index" json:"contract_id,omitempty"`
	GatewayInvoiceID string        `gorm:"type:text;not null;uniqueIndex" json:"gateway_invoice_id"`
	Number           string        `gorm:"type:text;not null" json:"number"`
	Amount           int64         `gorm:"not null" json:"amount"`
	Tax              int64         `gorm:"not null" json:"tax"`
	Total            int64         `gorm:"not null" json:"total"`
	Currency         string        `gorm:"type:text;not null" json:"currency"`
	DueDate          *time.Time    `json:"due_date,omitempty"`
	Status           InvoiceStatus `gorm:"type:text;not null" json:"status"`
	IsFirst          bool          `gorm:"not null" json:"is_first"`
	DocumentKey      *string       `json:"document_key,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one printed line, ordered by Position.
type InvoiceLine struct {
	InvoiceID   snowflake.ID `gorm:"primaryKey" json:"invoice_id"`
	Position    int          `gorm:"primaryKey" json:"position"`
	Kind        string       `gorm:"type:text;not null" json:"kind"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Amount      int64        `gorm:"not null" json:"amount"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// PaymentRecord is append-only; one row per gateway payment.
type PaymentRecord struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID        snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	GatewayPaymentID string       `gorm:"type:text;not null;uniqueIndex" json:"gateway_payment_id"`
	Amount           int64        `gorm:"not null" json:"amount"`
	PaidAt           time.Time    `gorm:"not null" json:"paid_at"`
	ReceiptKey       *string      `json:"receipt_key,omitempty"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }
