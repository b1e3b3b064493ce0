package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const contentTypePDF = "application/pdf"

type PublisherParams struct {
	fx.In

	Log      *zap.Logger
	Renderer Renderer
	Store    BlobStore
}

// Publisher renders documents and uploads them. Failures are logged and an
// empty key is returned; callers never fail because of a document.
type Publisher struct {
	log      *zap.Logger
	renderer Renderer
	store    BlobStore
}

func NewPublisher(p PublisherParams) *Publisher {
	return &Publisher{
		log:      p.Log.Named("document.publisher"),
		renderer: p.Renderer,
		store:    p.Store,
	}
}

func (p *Publisher) PublishInvoice(ctx context.Context, orgID snowflake.ID, inv Invoice) string {
	body, err := p.renderer.RenderInvoice(ctx, inv)
	if err != nil {
		p.log.Warn("invoice render failed", zap.String("invoice_number", inv.Number), zap.Error(err))
		return ""
	}
	return p.put(ctx, ObjectKey("invoices", orgID), body, zap.String("invoice_number", inv.Number))
}

func (p *Publisher) PublishReceipt(ctx context.Context, orgID snowflake.ID, rcpt Receipt) string {
	body, err := p.renderer.RenderReceipt(ctx, rcpt)
	if err != nil {
		p.log.Warn("receipt render failed", zap.String("payment_id", rcpt.PaymentID), zap.Error(err))
		return ""
	}
	return p.put(ctx, ObjectKey("receipts", orgID), body, zap.String("payment_id", rcpt.PaymentID))
}

func (p *Publisher) put(ctx context.Context, key string, body []byte, field zap.Field) string {
	if err := p.store.Put(ctx, key, contentTypePDF, body); err != nil {
		if errors.Is(err, ErrStorageDisabled) {
			p.log.Debug("document storage disabled", field)
		} else {
			p.log.Warn("document upload failed", field, zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return key
}

// ObjectKey returns "<kind>/<org>/<ulid>.pdf".
func ObjectKey(kind string, orgID snowflake.ID) string {
	return fmt.Sprintf("%s/%s/%s.pdf", kind, orgID.String(), ulid.Make().String())
}
