package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/internal/observability/metrics"
	"github.com/smallbiznis/siteledger/internal/webhook/domain"
	"github.com/smallbiznis/siteledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	BillingCfg *config.BillingConfigHolder
	Repo       domain.Repository
	Registry   *Registry
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	billingCfg *config.BillingConfigHolder
	repo       domain.Repository
	registry   *Registry
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("webhook.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		billingCfg: p.BillingCfg,
		repo:       p.Repo,
		registry:   p.Registry,
		metrics:    p.Metrics,
	}
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Ingest verifies, records and dispatches one gateway delivery. Each gateway
// event id changes state at most once; redeliveries of a processed event are
// acknowledged without running the handler again.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, signatureHeader string) domain.Result {
	policy := s.billingCfg.Get().Webhook
	now := s.clock.Now().UTC()

	if err := VerifySignature(policy.SigningSecret, signatureHeader, rawBody, now, policy.Tolerance); err != nil {
		reason := reasonMismatch
		var sigErr *signatureError
		if errors.As(err, &sigErr) {
			reason = sigErr.reason
		}
		s.log.Warn("webhook signature rejected", zap.String("reason", reason))
		s.metrics.RecordSignatureFailure(ctx, reason)
		return domain.Result{Status: http.StatusBadRequest, Outcome: domain.OutcomeRejected, Err: err}
	}

	event, err := parseEnvelope(rawBody)
	if err != nil {
		s.log.Warn("malformed webhook event", zap.Error(err))
		return s.finish(ctx, "", domain.Result{Status: http.StatusBadRequest, Outcome: domain.OutcomeRejected, Err: err})
	}
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	handler, ok := s.registry.Lookup(event.Type)
	if !ok {
		log.Debug("ignoring unhandled event type")
		return s.finish(ctx, event.Type, domain.Result{Status: http.StatusOK, Outcome: domain.OutcomeIgnored})
	}

	record, result, claimed := s.record(ctx, log, event, rawBody, now, policy.ClaimLease)
	if !claimed {
		return s.finish(ctx, event.Type, result)
	}

	if err := handler.Handle(ctx, event); err != nil {
		log.Error("webhook handler failed", zap.Error(err), zap.Int("retry_count", record.RetryCount+1))
		if markErr := s.repo.MarkFailed(context.WithoutCancel(ctx), record.ID, err.Error()); markErr != nil {
			log.Error("failed to record webhook failure", zap.Error(markErr))
		}
		return s.finish(ctx, event.Type, domain.Result{
			Status:  http.StatusInternalServerError,
			Outcome: domain.OutcomeFailed,
			Err:     errors.Join(domain.ErrHandlerFailed, err),
		})
	}

	if err := s.repo.MarkProcessed(context.WithoutCancel(ctx), record.ID, s.clock.Now().UTC()); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
		return s.finish(ctx, event.Type, domain.Result{Status: http.StatusInternalServerError, Outcome: domain.OutcomeFailed, Err: err})
	}
	log.Info("webhook processed")
	return s.finish(ctx, event.Type, domain.Result{Status: http.StatusOK, Outcome: domain.OutcomeProcessed})
}

// record inserts the event or claims an existing unprocessed row. claimed is
// false when the caller should return result without running the handler.
func (s *Service) record(ctx context.Context, log *zap.Logger, event domain.Event, rawBody []byte, now time.Time, lease time.Duration) (domain.InboundEvent, domain.Result, bool) {
	record := domain.InboundEvent{
		ID:             s.genID.Generate(),
		GatewayEventID: event.ID,
		EventType:      event.Type,
		Payload:        datatypes.JSON(rawBody),
		ClaimedAt:      &now,
		ReceivedAt:     now,
	}
	err := s.repo.Insert(ctx, record)
	if err == nil {
		return record, domain.Result{}, true
	}
	if !db.IsDuplicateKeyErr(err) {
		log.Error("failed to store webhook event", zap.Error(err))
		return record, domain.Result{Status: http.StatusInternalServerError, Outcome: domain.OutcomeFailed, Err: err}, false
	}

	existing, err := s.repo.FindByGatewayID(ctx, event.ID)
	if err != nil || existing == nil {
		if err == nil {
			err = fmt.Errorf("inbound event %s vanished", event.ID)
		}
		log.Error("failed to load webhook event", zap.Error(err))
		return record, domain.Result{Status: http.StatusInternalServerError, Outcome: domain.OutcomeFailed, Err: err}, false
	}
	if existing.Processed {
		log.Info("duplicate webhook event acknowledged")
		return *existing, domain.Result{Status: http.StatusOK, Outcome: domain.OutcomeDuplicate}, false
	}

	if lease <= 0 {
		lease = 2 * time.Minute
	}
	claimed, err := s.repo.Claim(ctx, existing.ID, now, now.Add(-lease))
	if err != nil {
		log.Error("failed to claim webhook event", zap.Error(err))
		return *existing, domain.Result{Status: http.StatusInternalServerError, Outcome: domain.OutcomeFailed, Err: err}, false
	}
	if !claimed {
		log.Info("webhook event is being processed by another delivery")
		return *existing, domain.Result{Status: http.StatusServiceUnavailable, Outcome: domain.OutcomeInProgress, Err: domain.ErrEventInProgress}, false
	}
	log.Info("retrying webhook event", zap.Int("retry_count", existing.RetryCount))
	return *existing, domain.Result{}, true
}

func (s *Service) finish(ctx context.Context, eventType string, result domain.Result) domain.Result {
	if eventType == "" {
		eventType = "unknown"
	}
	s.metrics.RecordWebhookEvent(ctx, eventType, string(result.Outcome))
	return result
}

func parseEnvelope(raw []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" || env.Type == "" {
		return domain.Event{}, fmt.Errorf("%w: id and type are required", domain.ErrMalformedEvent)
	}

	event := domain.Event{ID: env.ID, Type: env.Type, Object: env.Data.Object}
	if env.Created > 0 {
		event.Created = time.Unix(env.Created, 0).UTC()
	}
	return event, nil
}
