package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/siteledger/internal/clock"
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/internal/webhook/domain"
	"github.com/smallbiznis/siteledger/internal/webhook/repository"
	"github.com/smallbiznis/siteledger/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type countingHandler struct {
	calls atomic.Int32
	delay time.Duration
	mu    sync.Mutex
	err   error
}

func (h *countingHandler) EventType() string { return domain.EventInvoiceCreated }

func (h *countingHandler) Handle(ctx context.Context, event domain.Event) error {
	h.calls.Add(1)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *countingHandler) fail(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	svc     domain.Service
	handler *countingHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	fc := clock.NewFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.DefaultBillingConfig()
	cfg.Webhook.SigningSecret = testSecret
	handler := &countingHandler{}

	svc := NewService(Params{
		Log:        zap.NewNop(),
		Clock:      fc,
		GenID:      dbtest.Node(t),
		BillingCfg: config.NewStaticBillingConfig(cfg),
		Repo:       repository.NewRepository(db),
		Registry:   NewRegistryWith(handler),
	})
	return &fixture{db: db, clock: fc, svc: svc, handler: handler}
}

func (f *fixture) deliver(body []byte) domain.Result {
	return f.svc.Ingest(context.Background(), body, Sign(testSecret, body, f.clock.Now()))
}

func eventBody(id, eventType string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":1740830400,"data":{"object":{"id":"in_1"}}}`, id, eventType))
}

func (f *fixture) row(t *testing.T, gatewayID string) *domain.InboundEvent {
	t.Helper()
	item, err := repository.NewRepository(f.db).FindByGatewayID(context.Background(), gatewayID)
	require.NoError(t, err)
	return item
}

func TestIngestRejectsBadSignatureWithoutStoring(t *testing.T) {
	f := newFixture(t)
	body := eventBody("evt_1", domain.EventInvoiceCreated)

	res := f.svc.Ingest(context.Background(), body, Sign("wrong", body, f.clock.Now()))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrSignatureInvalid)
	assert.Nil(t, f.row(t, "evt_1"))
	assert.Zero(t, f.handler.calls.Load())
}

func TestIngestRejectsMalformedEnvelope(t *testing.T) {
	f := newFixture(t)
	for _, body := range [][]byte{[]byte(`not json`), []byte(`{"type":"invoice.created"}`)} {
		res := f.deliver(body)
		assert.Equal(t, http.StatusBadRequest, res.Status)
		assert.ErrorIs(t, res.Err, domain.ErrMalformedEvent)
	}
}

func TestIngestIgnoresUnknownEventTypes(t *testing.T) {
	f := newFixture(t)
	res := f.deliver(eventBody("evt_x", "customer.created"))
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, domain.OutcomeIgnored, res.Outcome)
	assert.Nil(t, f.row(t, "evt_x"))
}

func TestIngestProcessesOnce(t *testing.T) {
	f := newFixture(t)
	body := eventBody("evt_1", domain.EventInvoiceCreated)

	first := f.deliver(body)
	require.Equal(t, http.StatusOK, first.Status)
	assert.Equal(t, domain.OutcomeProcessed, first.Outcome)

	second := f.deliver(body)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.EqualValues(t, 1, f.handler.calls.Load())

	row := f.row(t, "evt_1")
	require.NotNil(t, row)
	assert.True(t, row.Processed)
	assert.NotNil(t, row.ProcessedAt)
	assert.Nil(t, row.ClaimedAt)
}

func TestIngestConcurrentDeliveriesRunHandlerOnce(t *testing.T) {
	f := newFixture(t)
	f.handler.delay = 20 * time.Millisecond
	body := eventBody("evt_c", domain.EventInvoiceCreated)

	var wg sync.WaitGroup
	results := make([]domain.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.deliver(body)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, res := range results {
		switch res.Outcome {
		case domain.OutcomeProcessed:
			processed++
		case domain.OutcomeDuplicate:
			assert.Equal(t, http.StatusOK, res.Status)
		case domain.OutcomeInProgress:
			assert.Equal(t, http.StatusServiceUnavailable, res.Status)
			assert.ErrorIs(t, res.Err, domain.ErrEventInProgress)
		default:
			t.Fatalf("unexpected outcome %q", res.Outcome)
		}
	}
	assert.Equal(t, 1, processed)
	assert.EqualValues(t, 1, f.handler.calls.Load())

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM inbound_events WHERE gateway_event_id = ?`, "evt_c").Scan(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestIngestRecordsFailureAndRetries(t *testing.T) {
	f := newFixture(t)
	f.handler.fail(errors.New("db unavailable"))
	body := eventBody("evt_r", domain.EventInvoiceCreated)

	res := f.deliver(body)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrHandlerFailed)

	row := f.row(t, "evt_r")
	require.NotNil(t, row)
	assert.False(t, row.Processed)
	assert.Equal(t, 1, row.RetryCount)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "db unavailable")
	assert.Nil(t, row.ClaimedAt)

	f.handler.fail(nil)
	f.clock.Advance(time.Minute)
	res = f.deliver(body)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)
	assert.EqualValues(t, 2, f.handler.calls.Load())

	row = f.row(t, "evt_r")
	assert.True(t, row.Processed)
	assert.Nil(t, row.ErrorMessage)
	assert.Equal(t, 1, row.RetryCount)
}

func TestIngestHonoursClaimLease(t *testing.T) {
	f := newFixture(t)
	body := eventBody("evt_l", domain.EventInvoiceCreated)
	claimedAt := f.clock.Now()
	require.NoError(t, repository.NewRepository(f.db).Insert(context.Background(), domain.InboundEvent{
		ID:             1,
		GatewayEventID: "evt_l",
		EventType:      domain.EventInvoiceCreated,
		Payload:        body,
		ClaimedAt:      &claimedAt,
		ReceivedAt:     claimedAt,
	}))

	res := f.deliver(body)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.Zero(t, f.handler.calls.Load())

	f.clock.Advance(3 * time.Minute)
	res = f.deliver(body)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.EqualValues(t, 1, f.handler.calls.Load())
}
