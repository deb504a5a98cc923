package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CreditRecorded("video", decimal.NewFromInt(1))
	m.DuplicateCredit("video")
	m.ProgressReport("accepted")
	m.PayoutTransition("pending")
	m.Suspended()
	m.Reactivation("verified")
	m.GatewayCall("create_order", nil, time.Second)
	m.BalanceDrift(0, decimal.Zero)
	m.JobRun("daily", nil, time.Second)
}

func TestHandlerExposesRecordedSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CreditRecorded("video", decimal.RequireFromString("0.50"))
	m.GatewayCall("order_status", errors.New("timeout"), 50*time.Millisecond)
	m.BalanceDrift(2, decimal.RequireFromString("3.25"))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`watchearn_ledger_credits_total{type="video"} 1`,
		`watchearn_gateway_calls_total{operation="order_status",outcome="error"} 1`,
		`watchearn_ledger_balance_drift_users 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
