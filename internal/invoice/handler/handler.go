// Package handler applies payment gateway invoice events to local invoices,
// payments and contracts.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/internal/document"
	"github.com/smallbiznis/siteledger/internal/integrity"
	"github.com/smallbiznis/siteledger/internal/invoice/domain"
	"github.com/smallbiznis/siteledger/internal/invoice/format"
	"github.com/smallbiznis/siteledger/internal/notification"
	orgdomain "github.com/smallbiznis/siteledger/internal/organization/domain"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher renders and stores documents, returning "" on failure.
type Publisher interface {
	PublishInvoice(ctx context.Context, orgID snowflake.ID, inv document.Invoice) string
	PublishReceipt(ctx context.Context, orgID snowflake.ID, rcpt document.Receipt) string
}

// Dispatcher delivers deduplicated notifications.
type Dispatcher interface {
	Deliver(ctx context.Context, delivery notification.Delivery) notification.Result
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	Contracts  contractdomain.Repository
	Orgs       orgdomain.Repository
	Integrity  integrity.Recorder
	Publisher  Publisher
	Dispatcher Dispatcher
}

type Handlers struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	contracts  contractdomain.Repository
	orgs       orgdomain.Repository
	integrity  integrity.Recorder
	publisher  Publisher
	dispatcher Dispatcher
}

func New(p Params) *Handlers {
	return &Handlers{
		db:         p.DB,
		log:        p.Log.Named("invoice.handler"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		contracts:  p.Contracts,
		orgs:       p.Orgs,
		integrity:  p.Integrity,
		publisher:  p.Publisher,
		dispatcher: p.Dispatcher,
	}
}

type eventHandler struct {
	eventType string
	handle    func(ctx context.Context, event webhookdomain.Event) error
}

func (h eventHandler) EventType() string { return h.eventType }

func (h eventHandler) Handle(ctx context.Context, event webhookdomain.Event) error {
	return h.handle(ctx, event)
}

// WebhookHandlers returns one webhook handler per invoice event type.
func (h *Handlers) WebhookHandlers() []webhookdomain.Handler {
	return []webhookdomain.Handler{
		eventHandler{eventType: webhookdomain.EventInvoiceCreated, handle: h.InvoiceCreated},
		eventHandler{eventType: webhookdomain.EventInvoicePaymentSucceeded, handle: h.PaymentSucceeded},
		eventHandler{eventType: webhookdomain.EventInvoicePaymentFailed, handle: h.PaymentFailed},
	}
}

var errOrphan = errors.New("orphan_invoice_event")

// InvoiceCreated upserts the invoice and its lines, then publishes the PDF
// and e-mails the admin once.
func (h *Handlers) InvoiceCreated(ctx context.Context, event webhookdomain.Event) error {
	in, err := decodeInvoice(event)
	if err != nil {
		return err
	}
	orgID, contractID, err := in.owner()
	if err != nil {
		return err
	}
	now := h.clock.Now().UTC()

	var stored *domain.Invoice
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := h.repo.WithTx(tx)
		record := h.newInvoice(in, orgID, contractID, domain.InvoiceStatusSent, now)
		if record.Number == "" {
			count, err := repo.CountByOrg(ctx, *orgID)
			if err != nil {
				return err
			}
			number, err := format.InvoiceNumber(format.DefaultInvoiceNumberTemplate, now, count+1)
			if err != nil {
				return err
			}
			record.Number = number
		}

		inserted, err := repo.InsertIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if !inserted {
			if err := repo.FillMissing(ctx, record); err != nil {
				return err
			}
		}
		stored, err = repo.FindByGatewayID(ctx, in.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("invoice %s vanished", in.ID)
		}
		return repo.InsertLines(ctx, in.lines(stored.ID))
	})
	if err != nil {
		return err
	}

	h.announceInvoice(ctx, *stored)
	return nil
}

// PaymentSucceeded appends the payment, marks the invoice paid and activates
// a draft contract on its first settled invoice.
func (h *Handlers) PaymentSucceeded(ctx context.Context, event webhookdomain.Event) error {
	in, err := decodeInvoice(event)
	if err != nil {
		return err
	}
	now := h.clock.Now().UTC()
	payment := domain.PaymentRecord{
		ID:               h.genID.Generate(),
		GatewayPaymentID: in.paymentID(),
		Amount:           in.AmountPaid,
		PaidAt:           in.paidAt(event, now),
		CreatedAt:        now,
	}
	if payment.Amount == 0 {
		payment.Amount = in.Total
	}

	var (
		stored    *domain.Invoice
		appended  bool
		paidTotal int64
		activated bool
	)
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := h.repo.WithTx(tx)
		var err error
		stored, err = h.ensureInvoice(ctx, repo, in, now)
		if err != nil {
			return err
		}

		payment.InvoiceID = stored.ID
		appended, err = repo.AppendPayment(ctx, payment)
		if err != nil {
			return err
		}
		if _, err := repo.MarkPaid(ctx, stored.ID, payment.PaidAt, now); err != nil {
			return err
		}
		paidTotal, err = repo.SumPayments(ctx, stored.ID)
		if err != nil {
			return err
		}
		if stored.ContractID != nil {
			activated, err = h.contracts.WithTx(tx).ActivateDraft(ctx, *stored.ContractID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errOrphan) {
		h.recordOrphan(ctx, event, in)
		return nil
	}
	if err != nil {
		return err
	}

	log := h.log.With(zap.String("gateway_invoice_id", in.ID), zap.String("gateway_payment_id", payment.GatewayPaymentID))
	if activated {
		log.Info("contract activated by first settled invoice", zap.String("contract_id", stored.ContractID.String()))
	}
	if stored.Total > 0 && paidTotal > stored.Total {
		h.recordAlert(ctx, integrity.Alert{
			Kind:        integrity.KindPaymentExceedsTotal,
			SubjectType: "invoice",
			SubjectID:   stored.ID.String(),
			Details: map[string]any{
				"gateway_invoice_id": in.ID,
				"total":              stored.Total,
				"paid":               paidTotal,
			},
		})
	}
	if !appended {
		log.Info("payment already recorded")
		return nil
	}

	h.announcePayment(ctx, *stored, payment)
	return nil
}

// PaymentFailed marks the invoice failed unless it was already settled or
// cancelled.
func (h *Handlers) PaymentFailed(ctx context.Context, event webhookdomain.Event) error {
	in, err := decodeInvoice(event)
	if err != nil {
		return err
	}
	now := h.clock.Now().UTC()

	var changed bool
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := h.repo.WithTx(tx)
		stored, err := h.ensureInvoice(ctx, repo, in, now)
		if err != nil {
			return err
		}
		changed, err = repo.MarkFailed(ctx, stored.ID, now)
		return err
	})
	if errors.Is(err, errOrphan) {
		h.recordOrphan(ctx, event, in)
		return nil
	}
	if err != nil {
		return err
	}
	h.log.Info("invoice payment failed",
		zap.String("gateway_invoice_id", in.ID),
		zap.Bool("status_changed", changed),
	)
	return nil
}

// ensureInvoice returns the stored invoice, creating a stub from the event
// when the payment event arrived before invoice.created.
func (h *Handlers) ensureInvoice(ctx context.Context, repo domain.Repository, in gatewayInvoice, now time.Time) (*domain.Invoice, error) {
	stored, err := repo.FindByGatewayID(ctx, in.ID)
	if err != nil || stored != nil {
		return stored, err
	}

	orgID, contractID, err := in.owner()
	if errors.Is(err, domain.ErrMissingOrgMetadata) {
		return nil, errOrphan
	}
	if err != nil {
		return nil, err
	}
	if _, err := repo.InsertIfAbsent(ctx, h.newInvoice(in, orgID, contractID, domain.InvoiceStatusDraft, now)); err != nil {
		return nil, err
	}
	stored, err = repo.FindByGatewayID(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("invoice %s vanished", in.ID)
	}
	return stored, nil
}

func (h *Handlers) newInvoice(in gatewayInvoice, orgID, contractID *snowflake.ID, status domain.InvoiceStatus, now time.Time) domain.Invoice {
	amount := in.Subtotal
	if amount == 0 && in.Total > 0 {
		amount = in.Total - in.Tax
	}
	return domain.Invoice{
		ID:               h.genID.Generate(),
		OrgID:            orgID,
		ContractID:       contractID,
		GatewayInvoiceID: in.ID,
		Number:           in.Number,
		Amount:           amount,
		Tax:              in.Tax,
		Total:            in.Total,
		Currency:         in.currency(),
		DueDate:          in.dueDate(),
		Status:           status,
		IsFirst:          in.isFirst(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (h *Handlers) announceInvoice(ctx context.Context, inv domain.Invoice) {
	if inv.OrgID == nil {
		return
	}
	org, doc, ok := h.printable(ctx, inv)
	if !ok {
		return
	}

	key := ""
	if inv.DocumentKey == nil {
		key = h.publisher.PublishInvoice(ctx, *inv.OrgID, doc)
		if key != "" {
			if err := h.repo.SetDocumentKey(ctx, inv.ID, key, h.clock.Now().UTC()); err != nil {
				h.log.Warn("failed to store invoice document key", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
			}
		}
	} else {
		key = *inv.DocumentKey
	}

	due := ""
	if inv.DueDate != nil {
		due = inv.DueDate.Format("2006-01-02")
	}
	h.dispatcher.Deliver(ctx, notification.Delivery{
		DedupeKey: "invoice_issued:" + inv.GatewayInvoiceID,
		OrgID:     org.ID,
		Message: notification.Message{
			To:       org.AdminEmail,
			Template: notification.TemplateInvoiceIssued,
			Fields: notification.Fields{
				"org_name":       org.Name,
				"invoice_number": inv.Number,
				"total":          document.FormatAmount(inv.Currency, inv.Total),
				"currency":       inv.Currency,
				"due_date":       due,
				"document_key":   key,
			},
		},
	})
}

func (h *Handlers) announcePayment(ctx context.Context, inv domain.Invoice, payment domain.PaymentRecord) {
	if inv.OrgID == nil {
		return
	}
	org, doc, ok := h.printable(ctx, inv)
	if !ok {
		return
	}

	key := h.publisher.PublishReceipt(ctx, *inv.OrgID, document.Receipt{
		Invoice:   doc,
		PaymentID: payment.GatewayPaymentID,
		Amount:    payment.Amount,
		PaidAt:    payment.PaidAt,
	})
	if key != "" {
		if err := h.repo.SetReceiptKey(ctx, payment.ID, key); err != nil {
			h.log.Warn("failed to store receipt key", zap.String("payment_id", payment.ID.String()), zap.Error(err))
		}
	}

	h.dispatcher.Deliver(ctx, notification.Delivery{
		DedupeKey: "payment_receipt:" + payment.GatewayPaymentID,
		OrgID:     org.ID,
		Message: notification.Message{
			To:       org.AdminEmail,
			Template: notification.TemplatePaymentReceipt,
			Fields: notification.Fields{
				"org_name":       org.Name,
				"invoice_number": inv.Number,
				"amount":         document.FormatAmount(inv.Currency, payment.Amount),
				"currency":       inv.Currency,
				"paid_at":        payment.PaidAt.Format("2006-01-02"),
				"document_key":   key,
			},
		},
	})
}

// printable loads what a document needs. Failures are logged; the caller
// skips publishing.
func (h *Handlers) printable(ctx context.Context, inv domain.Invoice) (*orgdomain.Organization, document.Invoice, bool) {
	log := h.log.With(zap.String("invoice_id", inv.ID.String()))
	org, err := h.orgs.FindByID(ctx, *inv.OrgID)
	if err != nil || org == nil {
		log.Warn("organization unavailable for invoice document", zap.Error(err))
		return nil, document.Invoice{}, false
	}
	lines, err := h.repo.ListLines(ctx, inv.ID)
	if err != nil {
		log.Warn("invoice lines unavailable", zap.Error(err))
		return nil, document.Invoice{}, false
	}

	doc := document.Invoice{
		Number:     inv.Number,
		OrgName:    org.Name,
		AdminEmail: org.AdminEmail,
		IssuedAt:   inv.CreatedAt,
		DueDate:    inv.DueDate,
		Currency:   inv.Currency,
		Subtotal:   inv.Amount,
		Tax:        inv.Tax,
		Total:      inv.Total,
	}
	for _, line := range lines {
		doc.Lines = append(doc.Lines, document.Line{Description: line.Description, Amount: line.Amount})
	}
	return org, doc, true
}

func (h *Handlers) recordOrphan(ctx context.Context, event webhookdomain.Event, in gatewayInvoice) {
	h.recordAlert(ctx, integrity.Alert{
		Kind:        integrity.KindOrphanPayment,
		SubjectType: "gateway_invoice",
		SubjectID:   in.ID,
		Details: map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		},
	})
}

func (h *Handlers) recordAlert(ctx context.Context, alert integrity.Alert) {
	if err := h.integrity.Record(ctx, alert); err != nil {
		h.log.Error("failed to record integrity alert", zap.String("kind", string(alert.Kind)), zap.Error(err))
	}
}
