package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/siteledger/internal/authorization"
	"github.com/smallbiznis/siteledger/internal/config"
	contractdomain "github.com/smallbiznis/siteledger/internal/contract/domain"
	"github.com/smallbiznis/siteledger/internal/enforcer"
	"github.com/smallbiznis/siteledger/internal/fee"
	gracedomain "github.com/smallbiznis/siteledger/internal/graceperiod/domain"
	webhookdomain "github.com/smallbiznis/siteledger/internal/webhook/domain"
	webhookservice "github.com/smallbiznis/siteledger/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrgID = snowflake.ID(1)

type fakeAuthz struct {
	// allowed maps actor to the actions it may perform.
	allowed map[string][]string
}

func (f fakeAuthz) Authorize(_ context.Context, actor, orgID, object, action string) error {
	if actor == "" {
		return authorization.ErrInvalidActor
	}
	for _, a := range f.allowed[actor] {
		if a == action {
			return nil
		}
	}
	return authorization.ErrForbidden
}

type fakeContracts struct {
	contract   contractdomain.Contract
	planErr    error
	lastReq    contractdomain.RequestPlanChangeRequest
	cancelled  bool
	firstAsked bool
}

func (f *fakeContracts) GetByID(_ context.Context, id string) (contractdomain.Contract, error) {
	if id != f.contract.ID.String() {
		return contractdomain.Contract{}, contractdomain.ErrContractNotFound
	}
	return f.contract, nil
}

func (f *fakeContracts) RequestPlanChange(_ context.Context, req contractdomain.RequestPlanChangeRequest) (contractdomain.PlanChangeResult, error) {
	f.lastReq = req
	if f.planErr != nil {
		return contractdomain.PlanChangeResult{}, f.planErr
	}
	return contractdomain.PlanChangeResult{
		EffectiveDate: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		IsDowngrade:   true,
		UserWarning:   contractdomain.NewSeatOverage(12, req.NewSeatLimit),
	}, nil
}

func (f *fakeContracts) CancelPlanChange(_ context.Context, id string) error {
	f.cancelled = true
	return nil
}

func (f *fakeContracts) PreviewFees(_ context.Context, req contractdomain.FeePreviewRequest) (fee.Breakdown, error) {
	f.firstAsked = req.FirstInvoice
	return fee.Breakdown{Subtotal: 30000, TaxRateBps: 1000, Tax: 3000, Total: 33000}, nil
}

type fakeGrace struct {
	view      gracedomain.View
	exemptErr error
	exemptBy  string
}

func (f *fakeGrace) Get(_ context.Context, id string) (gracedomain.View, error) {
	if id != f.view.ID.String() {
		return gracedomain.View{}, gracedomain.ErrGracePeriodNotFound
	}
	return f.view, nil
}

func (f *fakeGrace) Exempt(_ context.Context, id string, actor string) (gracedomain.View, error) {
	if f.exemptErr != nil {
		return gracedomain.View{}, f.exemptErr
	}
	f.exemptBy = actor
	v := f.view
	v.Status = gracedomain.StatusExempted
	v.ExemptedBy = &actor
	return v, nil
}

type fakeWebhooks struct {
	result webhookdomain.Result
	body   []byte
	sig    string
}

func (f *fakeWebhooks) Ingest(_ context.Context, raw []byte, sig string) webhookdomain.Result {
	f.body = raw
	f.sig = sig
	return f.result
}

type fakeRunner struct {
	report enforcer.Report
	err    error
	calls  int
}

func (f *fakeRunner) RunOnce(context.Context) (enforcer.Report, error) {
	f.calls++
	return f.report, f.err
}

type harness struct {
	srv       *Server
	contracts *fakeContracts
	grace     *fakeGrace
	webhooks  *fakeWebhooks
	runner    *fakeRunner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		contracts: &fakeContracts{contract: contractdomain.Contract{
			ID:        100,
			OrgID:     testOrgID,
			SeatLimit: 15,
			Status:    contractdomain.ContractStatusActive,
		}},
		grace: &fakeGrace{view: gracedomain.View{
			GracePeriod: gracedomain.GracePeriod{
				ID:       200,
				OrgID:    testOrgID,
				Status:   gracedomain.StatusPending,
				Deadline: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			},
			RemainingDays: 3,
		}},
		webhooks: &fakeWebhooks{result: webhookdomain.Result{Status: http.StatusOK, Outcome: webhookdomain.OutcomeProcessed}},
		runner:   &fakeRunner{report: enforcer.Report{RunID: "run-1", Trigger: enforcer.TriggerManual}},
	}

	authz := fakeAuthz{allowed: map[string][]string{
		"user:10": {
			authorization.ActionContractView,
			authorization.ActionContractPlanChange,
			authorization.ActionContractFeePreview,
			authorization.ActionGracePeriodView,
		},
		"operator:1": {
			authorization.ActionGracePeriodView,
			authorization.ActionGracePeriodExempt,
			authorization.ActionEnforcerRun,
		},
	}}

	h.srv = NewServer(ServerParams{
		Gin:         NewEngine(EngineParams{Log: zap.NewNop()}),
		Cfg:         config.Config{},
		Log:         zap.NewNop(),
		AuthzSvc:    authz,
		ContractSvc: h.contracts,
		GraceSvc:    h.grace,
		WebhookSvc:  h.webhooks,
		Enforcer:    h.runner,
	})
	return h
}

func (h *harness) do(method, path, actor, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rec := httptest.NewRecorder()
	h.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresActor(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/contracts/100", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestGetContract(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/contracts/100", "user:10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp contractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 15, resp.Contract.SeatLimit)

	rec = h.do(http.MethodGet, "/api/contracts/999", "user:10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/contracts/100", "user:99", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestPlanChange(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/contracts/100/plan-change", "user:10",
		`{"new_plan_id":"team","new_seat_limit":10,"new_base_fee":20000,"new_package_ids":["5"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "100", h.contracts.lastReq.ContractID)
	assert.Equal(t, 10, h.contracts.lastReq.NewSeatLimit)
	assert.Equal(t, []string{"5"}, h.contracts.lastReq.NewPackageIDs)

	var resp struct {
		Data contractdomain.PlanChangeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.IsDowngrade)
	require.NotNil(t, resp.Data.UserWarning)
}

func TestRequestPlanChangeErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"notice period", contractdomain.ErrNoticePeriodViolation, http.StatusUnprocessableEntity, "unprocessable"},
		{"not changeable", contractdomain.ErrContractNotChangeable, http.StatusConflict, "conflict"},
		{"unknown package", contractdomain.ErrUnknownPackage, http.StatusBadRequest, "validation_error"},
		{"seat limit", contractdomain.ErrInvalidSeatLimit, http.StatusBadRequest, "validation_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.contracts.planErr = tc.err

			rec := h.do(http.MethodPost, "/api/contracts/100/plan-change", "user:10", `{"new_plan_id":"team","new_seat_limit":10}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Type)
		})
	}
}

func TestRequestPlanChangeRejectsBadBody(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/contracts/100/plan-change", "user:10", `{"new_plan_id":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_json", payload.Errors[0].Code)
}

func TestValidationErrorField(t *testing.T) {
	_, payload := mapError(contractdomain.ErrInvalidSeatLimit)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "seat_limit", payload.Errors[0].Field)
	assert.Equal(t, "invalid_seat_limit", payload.Errors[0].Code)
}

func TestCancelPlanChange(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodDelete, "/api/contracts/100/plan-change", "user:10", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, h.contracts.cancelled)
}

func TestPreviewFees(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/contracts/100/fee-preview?first=true", "user:10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.contracts.firstAsked)

	var resp struct {
		Data fee.Breakdown `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 33000, resp.Data.Total)

	rec = h.do(http.MethodGet, "/api/contracts/100/fee-preview?first=maybe", "user:10", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExemptGracePeriod(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/grace-periods/200/exempt", "user:10", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, h.grace.exemptBy)

	rec = h.do(http.MethodPost, "/api/grace-periods/200/exempt", "operator:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator:1", h.grace.exemptBy)

	h.grace.exemptErr = gracedomain.ErrGracePeriodNotPending
	rec = h.do(http.MethodPost, "/api/grace-periods/200/exempt", "operator:1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetGracePeriod(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/grace-periods/200", "user:10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data gracedomain.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.RemainingDays)

	rec = h.do(http.MethodGet, "/api/grace-periods/404", "user:10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayWebhookPassesRawBody(t *testing.T) {
	h := newHarness(t)

	body := `{"id":"evt_1","type":"payment.succeeded"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader(body))
	req.Header.Set(webhookservice.SignatureHeader, "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, string(h.webhooks.body))
	assert.Equal(t, "t=1,v1=abc", h.webhooks.sig)
}

func TestGatewayWebhookPropagatesStatus(t *testing.T) {
	cases := []struct {
		name   string
		result webhookdomain.Result
	}{
		{"bad signature", webhookdomain.Result{Status: http.StatusBadRequest, Outcome: webhookdomain.OutcomeRejected, Err: webhookdomain.ErrSignatureInvalid}},
		{"in progress", webhookdomain.Result{Status: http.StatusServiceUnavailable, Outcome: webhookdomain.OutcomeInProgress, Err: webhookdomain.ErrEventInProgress}},
		{"handler failed", webhookdomain.Result{Status: http.StatusInternalServerError, Outcome: webhookdomain.OutcomeFailed, Err: webhookdomain.ErrHandlerFailed}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.webhooks.result = tc.result

			rec := h.do(http.MethodPost, "/webhooks/payment-gateway", "", `{}`)
			assert.Equal(t, tc.result.Status, rec.Code)
		})
	}
}

func TestRunEnforcer(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/admin/enforcer/run", "user:10", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, h.runner.calls)

	rec = h.do(http.MethodPost, "/admin/enforcer/run", "operator:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.runner.calls)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)

	h.runner.err = enforcer.ErrRunInProgress
	h.runner.report = enforcer.Report{}
	rec = h.do(http.MethodPost, "/admin/enforcer/run", "operator:1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
