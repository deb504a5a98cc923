package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/bonuses"
	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/gateway"
	"github.com/watchearn/backend/internal/jobs"
	"github.com/watchearn/backend/internal/kyc"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/payouts"
	"github.com/watchearn/backend/internal/reactivation"
	"github.com/watchearn/backend/internal/referrals"
	"github.com/watchearn/backend/internal/repositories"
	"github.com/watchearn/backend/internal/videos"
	"github.com/watchearn/backend/internal/watch"
)

const (
	adminToken = "admin-secret"
	testUserID = "7f1c9c1e-3d4f-4b8e-9a52-0c7c1b8f2a10"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type noGateway struct{}

func (noGateway) CreateOrder(context.Context, decimal.Decimal, string, string) (gateway.Order, error) {
	return gateway.Order{}, gateway.ErrUnavailable
}

func (noGateway) OrderStatus(context.Context, string) (gateway.OrderState, error) {
	return gateway.OrderState{}, gateway.ErrUnavailable
}

type testServer struct {
	mux   *http.ServeMux
	clock *testClock
	store *repositories.MemoryStore
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 9, 9, 12, 0, 0, 0, time.UTC)}
	store := repositories.NewMemoryStore()

	l := ledger.New(store, nil)
	l.NowFunc = clock.Now
	evaluator := engagement.NewEvaluator(store, engagement.DefaultPolicy(), nil)
	tracker := watch.NewTracker(store, l, evaluator, nil)
	tracker.NowFunc = clock.Now
	workflow := payouts.NewWorkflow(store, evaluator, nil, decimal.Zero)
	workflow.NowFunc = clock.Now
	refs := referrals.NewService(store, l, evaluator, decimal.NewFromInt(2), decimal.NewFromInt(1))
	refs.NowFunc = clock.Now
	reviewer := kyc.NewReviewer(store, refs)
	reviewer.NowFunc = clock.Now
	bonus := bonuses.NewService(store, l, evaluator, decimal.RequireFromString("0.05"))
	bonus.NowFunc = clock.Now
	importer := videos.NewImporter(store, nil)
	importer.NowFunc = clock.Now
	flow := reactivation.NewFlow(store, noGateway{}, evaluator, nil, decimal.NewFromInt(5), "USD")
	flow.NowFunc = clock.Now

	deps := Dependencies{
		Watch:         tracker,
		Payouts:       workflow,
		Settlement:    &jobs.Runner{Batches: workflow, NowFunc: clock.Now},
		Earnings:      l,
		Reactivation:  flow,
		Engagement:    evaluator,
		Bonuses:       bonus,
		Users:         refs,
		KYC:           reviewer,
		Eligibility:   kyc.NewGate(store),
		Videos:        importer,
		AdminToken:    adminToken,
		WebhookSecret: "hook-secret",
		NowFunc:       clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return &testServer{mux: mux, clock: clock, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) asUser(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"X-User-ID": testUserID})
}

func (s *testServer) asAdmin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Code != code || resp.Error == "" {
		t.Fatalf("expected code %q got %+v", code, resp)
	}
}

func (s *testServer) register(t *testing.T) {
	t.Helper()
	rec := s.asAdmin(t, http.MethodPost, "/internal/v1/users", registerRequest{ID: testUserID, Email: "Viewer@Example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequireAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	expectError(t, s.do(t, http.MethodGet, "/api/v1/earnings", nil, nil), http.StatusUnauthorized, "unauthenticated")
	expectError(t, s.do(t, http.MethodGet, "/internal/v1/reconciliation", nil, nil), http.StatusUnauthorized, "unauthenticated")
	expectError(t, s.do(t, http.MethodGet, "/internal/v1/reconciliation", nil, map[string]string{"Authorization": "Bearer wrong"}), http.StatusUnauthorized, "unauthenticated")
}

func TestWatchAndEarnOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t)

	rec := s.asAdmin(t, http.MethodPost, "/internal/v1/videos", importVideoRequest{
		URL:             "https://videos.example/v/1",
		Title:           "Intro",
		DurationSeconds: 300,
		EarningAmount:   decimal.RequireFromString("0.75"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import video: %d %s", rec.Code, rec.Body.String())
	}
	var video videoResponse
	decodeBody(t, rec, &video)

	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/watch/complete", watchRequest{VideoID: video.ID}), http.StatusNotFound, "session_not_found")

	if rec := s.asUser(t, http.MethodPost, "/api/v1/watch/start", watchRequest{VideoID: video.ID}); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}

	skip := 200.0
	rec = s.asUser(t, http.MethodPost, "/api/v1/watch/progress", watchRequest{VideoID: video.ID, Position: &skip})
	var progress progressResponse
	decodeBody(t, rec, &progress)
	if rec.Code != http.StatusOK || progress.Accepted || progress.CorrectedPosition != 0 {
		t.Fatalf("expected rejected skip, got %d %+v", rec.Code, progress)
	}

	for pos := 10.0; pos <= 300; pos += 10 {
		s.clock.now = s.clock.now.Add(10 * time.Second)
		p := pos
		rec := s.asUser(t, http.MethodPost, "/api/v1/watch/progress", watchRequest{VideoID: video.ID, Position: &p})
		var resp progressResponse
		decodeBody(t, rec, &resp)
		if !resp.Accepted {
			t.Fatalf("expected position %v to be accepted: %+v", pos, resp)
		}
	}

	rec = s.asUser(t, http.MethodPost, "/api/v1/watch/complete", watchRequest{VideoID: video.ID})
	var completion completionResponse
	decodeBody(t, rec, &completion)
	if rec.Code != http.StatusOK || !completion.Credited || completion.Balance == nil || !completion.Balance.Equal(decimal.RequireFromString("1.75")) {
		t.Fatalf("unexpected completion %d %+v", rec.Code, completion)
	}

	rec = s.asUser(t, http.MethodPost, "/api/v1/watch/complete", watchRequest{VideoID: video.ID})
	completion = completionResponse{}
	decodeBody(t, rec, &completion)
	if completion.Credited || !completion.AlreadyCredited {
		t.Fatalf("expected second completion to be a no-op, got %+v", completion)
	}

	rec = s.asUser(t, http.MethodGet, "/api/v1/earnings", nil)
	var statement statementResponse
	decodeBody(t, rec, &statement)
	if !statement.Balance.Equal(decimal.RequireFromString("1.75")) || len(statement.Entries) != 2 {
		t.Fatalf("unexpected statement %+v", statement)
	}

	rec = s.asUser(t, http.MethodGet, "/api/v1/engagement/today", nil)
	var daily dailyResponse
	decodeBody(t, rec, &daily)
	if daily.WatchedMinutes != 5 || daily.TargetMinutes != 480 || daily.Standing.Status != "active" {
		t.Fatalf("unexpected daily status %+v", daily)
	}
}

func TestPayoutPreconditionsOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t)

	amount := map[string]string{"amount": "0.50"}
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/payouts", amount), http.StatusForbidden, "not_verified")

	verified := "verified"
	feePaid := true
	rec := s.asAdmin(t, http.MethodPost, "/internal/v1/kyc/decisions", map[string]any{
		"user_id":             testUserID,
		"verification_status": verified,
		"fee_paid":            feePaid,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("kyc decision: %d %s", rec.Code, rec.Body.String())
	}

	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/payouts", map[string]string{"amount": "1.01"}), http.StatusUnprocessableEntity, "insufficient_balance")
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/payouts", map[string]string{"amount": "-1"}), http.StatusBadRequest, "invalid_amount")

	rec = s.asUser(t, http.MethodPost, "/api/v1/payouts", amount)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request payout: %d %s", rec.Code, rec.Body.String())
	}
	var payout payoutResponse
	decodeBody(t, rec, &payout)

	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/payouts", amount), http.StatusConflict, "payout_outstanding")

	rec = s.asAdmin(t, http.MethodPost, "/internal/v1/payouts/batch", nil)
	var batch batchResponse
	decodeBody(t, rec, &batch)
	if rec.Code != http.StatusOK || len(batch.Requests) != 1 || !batch.Total.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected batch %d %+v", rec.Code, batch)
	}

	rec = s.asAdmin(t, http.MethodPost, "/internal/v1/payouts/settle", map[string]any{
		"outcomes": []map[string]string{
			{"payout_id": payout.ID, "status": "completed"},
			{"payout_id": "missing", "status": "completed"},
		},
	})
	var settled struct {
		Results []settleResult `json:"results"`
	}
	decodeBody(t, rec, &settled)
	if len(settled.Results) != 2 || settled.Results[0].Status != "completed" || settled.Results[1].Code != "payout_not_found" {
		t.Fatalf("unexpected settlement %+v", settled)
	}

	rec = s.asUser(t, http.MethodGet, "/api/v1/payouts", nil)
	var history struct {
		Payouts []payoutResponse `json:"payouts"`
	}
	decodeBody(t, rec, &history)
	if len(history.Payouts) != 1 || history.Payouts[0].Status != "completed" {
		t.Fatalf("unexpected history %+v", history)
	}

	rec = s.asAdmin(t, http.MethodGet, "/internal/v1/reconciliation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected reconciled balances, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestReactivationRequiresSuspension(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t)

	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/reactivation", nil), http.StatusConflict, "not_suspended")

	rec := s.asUser(t, http.MethodGet, "/api/v1/account/status", nil)
	var standing standingResponse
	decodeBody(t, rec, &standing)
	if standing.Status != "active" || standing.MissThreshold != 3 {
		t.Fatalf("unexpected standing %+v", standing)
	}
	if standing.PayoutEligible == nil || *standing.PayoutEligible {
		t.Fatalf("expected unverified user to be ineligible, got %v", standing.PayoutEligible)
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	s := newTestServer(t, nil)

	body := []byte(`{"order_id":"ord-1","status":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, "bogus")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusUnauthorized, "invalid_signature")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign("hook-secret", body))
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusNotFound, "order_not_found")
}

func TestBonusesOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t)
	s.store.PutTask(taskFixture())

	if rec := s.asUser(t, http.MethodPost, "/api/v1/bonuses/hourly", nil); rec.Code != http.StatusCreated {
		t.Fatalf("hourly: %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/bonuses/hourly", nil), http.StatusConflict, "already_claimed")

	rec := s.asUser(t, http.MethodPost, "/api/v1/tasks/complete", taskRequest{TaskID: "profile-complete"})
	var claim claimResponse
	decodeBody(t, rec, &claim)
	if rec.Code != http.StatusCreated || claim.SourceRef != "profile-complete" {
		t.Fatalf("unexpected task claim %d %+v", rec.Code, claim)
	}
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/tasks/complete", taskRequest{TaskID: "nope"}), http.StatusNotFound, "task_not_found")
}

func TestProgressIsRateLimited(t *testing.T) {
	s := newTestServer(t, func(d *Dependencies) { d.ProgressLimiter = denyAll{} })
	pos := 1.0
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/watch/progress", watchRequest{VideoID: "v", Position: &pos}), http.StatusTooManyRequests, "rate_limited")
}

func TestMethodAndBodyValidation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.asUser(t, http.MethodGet, "/api/v1/watch/start", nil)
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d", rec.Code)
	}
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/watch/start", map[string]string{"video": "x"}), http.StatusBadRequest, "invalid_request")
	expectError(t, s.asUser(t, http.MethodPost, "/api/v1/watch/progress", watchRequest{VideoID: "v"}), http.StatusBadRequest, "invalid_request")
	expectError(t, s.asUser(t, http.MethodGet, "/api/v1/earnings?limit=abc", nil), http.StatusBadRequest, "invalid_request")
}

func TestClassifyPrefersSpecificErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: %w", bonuses.ErrAlreadyClaimed, ledger.ErrDuplicateCredit), http.StatusConflict, "already_claimed"},
		{fmt.Errorf("wrap: %w", engagement.ErrAccountSuspended), http.StatusForbidden, "account_suspended"},
		{fmt.Errorf("%w: timeout", reactivation.ErrGatewayUnavailable), http.StatusBadGateway, "gateway_unavailable"},
		{fmt.Errorf("%w of 5.00", payouts.ErrBelowMinimum), http.StatusUnprocessableEntity, "below_minimum"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("classify(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func taskFixture() models.Task {
	return models.Task{ID: "profile-complete", Title: "Complete your profile", RewardAmount: decimal.RequireFromString("0.25"), Active: true}
}
