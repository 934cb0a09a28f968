package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/payments"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	testCronSecret    = "cron-secret"
	testWebhookSecret = "whsec_test"
)

type testApp struct {
	store    *models.MemoryStore
	provider *crs.MockProvider
	router   *gin.Engine
	admin    string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	t.Setenv("API_SECRET", "test-secret")
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := models.NewMemoryStore()
	provider := crs.NewMockProvider()
	s := newServer(logger, config.WatchdogConfig{
		MaxRetries:    12,
		StaleAfter:    time.Minute,
		BatchSize:     10,
		LockTTL:       time.Minute,
		CronSecret:    testCronSecret,
		ManualTrigger: true,
	})
	router := s.router(nil)
	s.wire(dependencies{
		Store:     store,
		Provider:  provider,
		Publisher: &events.RecordingPublisher{},
		CRS:       config.CRSConfig{Timeout: time.Second, DefaultPhoneRegion: "IN"},
		Payment: config.PaymentConfig{
			WebhookSecret:   testWebhookSecret,
			SignatureHeader: "X-Razorpay-Signature",
			EventIDHeader:   "X-Razorpay-Event-Id",
		},
	})

	admin, err := utils.JwtGenerate(1, "ops", utils.RoleAdmin)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return &testApp{store: store, provider: provider, router: router, admin: admin}
}

func (a *testApp) seed(t *testing.T, id string, status models.BookingStatus, updatedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	checkIn := time.Now().AddDate(0, 1, 0).Truncate(24 * time.Hour)
	if err := a.store.CreateBooking(ctx, &models.Booking{
		ID:            id,
		BookingNumber: "BK-20261019-" + id,
		Status:        status,
		GuestName:     "Asha Rao",
		GuestPhone:    "098123 45678",
		CheckIn:       checkIn,
		CheckOut:      checkIn.AddDate(0, 0, 2),
		Adults:        2,
		Rooms:         []models.BookingRoom{{RoomTypeID: "DLX", RatePlanID: "BAR", Quantity: 1, Amount: 150000}},
		TotalAmount:   150000,
		Currency:      "INR",
		UpdatedAt:     updatedAt,
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := a.store.CreatePayment(ctx, &models.Payment{BookingID: id, GatewayOrderID: "order_" + id, Amount: 150000, Currency: "INR"}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if status.IsRetryable() {
		if _, err := a.store.MarkPaymentSuccess(ctx, "order_"+id, models.PaymentVerification{GatewayPaymentID: "pay_" + id, VerifiedAt: updatedAt}); err != nil {
			t.Fatalf("MarkPaymentSuccess: %v", err)
		}
	}
}

func (a *testApp) do(method, path, auth string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := newServer(logger, config.WatchdogConfig{})
	r := s.router(nil)

	for path, want := range map[string]int{"/healthz": http.StatusNoContent, "/health/crs": http.StatusServiceUnavailable} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Fatalf("%s: got %d want %d", path, w.Code, want)
		}
	}
}

func TestCRSHealthRoute(t *testing.T) {
	a := newTestApp(t)
	w := a.do(http.MethodGet, "/health/crs", "", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	a.provider.SetOutage(true)
	w = a.do(http.MethodGet, "/health/crs", "", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "degraded" {
		t.Fatalf("outage: got %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookRoute(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "b1", models.BookingStatusPendingPayment, time.Now())

	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_b1","amount":150000,"currency":"INR","method":"card"}}}}`
	w := a.do(http.MethodPost, "/webhooks/payment", "", body, map[string]string{
		"X-Razorpay-Signature": payments.ComputeSignature(testWebhookSecret, []byte(body)),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	b, _ := a.store.GetBooking(context.Background(), "b1")
	if b.Status != models.BookingStatusConfirmed {
		t.Fatalf("booking status = %s", b.Status)
	}
}

func TestWatchdogSweepRoute(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "stale", models.BookingStatusBookingRequested, time.Now().Add(-5*time.Minute))

	if w := a.do(http.MethodPost, "/internal/watchdog/sweep", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: got %d", w.Code)
	}

	w := a.do(http.MethodPost, "/internal/watchdog/sweep", testCronSecret, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cron: got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["success"] != true || out["processed"] != float64(1) {
		t.Fatalf("unexpected summary %v", out)
	}
	b, _ := a.store.GetBooking(context.Background(), "stale")
	if b.Status != models.BookingStatusConfirmed || b.RetryCount != 1 {
		t.Fatalf("booking = %s retry %d", b.Status, b.RetryCount)
	}

	if w := a.do(http.MethodPost, "/internal/watchdog/sweep", a.admin, "", nil); w.Code != http.StatusOK {
		t.Fatalf("admin: got %d", w.Code)
	}
}

func TestFinalizeRoute(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "b1", models.BookingStatusPaymentSuccess, time.Now())

	if w := a.do(http.MethodPost, "/internal/bookings/b1/finalize", testCronSecret, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("cron secret on admin route: got %d", w.Code)
	}

	w := a.do(http.MethodPost, "/internal/bookings/b1/finalize", a.admin, "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "confirmed" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	if !a.store.HasLog("b1", models.LogActionManualFinalize) {
		t.Fatalf("expected manual_finalize_requested log")
	}

	if w := a.do(http.MethodPost, "/internal/bookings/missing/finalize", a.admin, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing: got %d", w.Code)
	}
}

func TestTransitionRoute(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "b1", models.BookingStatusPendingPayment, time.Now())

	w := a.do(http.MethodPost, "/internal/bookings/b1/transition", a.admin, `{"status":"cancelled","reason":"guest request"}`, nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "cancelled" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	logs, _ := a.store.ListLogs(context.Background(), "b1", 0)
	var audited bool
	for _, l := range logs {
		if l.Action == models.LogActionStatusTransition && strings.Contains(l.Payload, `"actor":"admin:ops"`) && strings.Contains(l.Payload, `"user_id":1`) {
			audited = true
		}
	}
	if !audited {
		t.Fatalf("transition log should name the operator: %+v", logs)
	}

	w = a.do(http.MethodPost, "/internal/bookings/b1/transition", a.admin, `{"status":"confirmed","reason":"undo"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("terminal: got %d %s", w.Code, w.Body.String())
	}

	if w := a.do(http.MethodPost, "/internal/bookings/b1/transition", a.admin, `{"status":"bogus","reason":"x"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/internal/bookings/b1/transition", a.admin, `{"status":"failed"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing reason: got %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/internal/bookings/nope/transition", a.admin, `{"status":"failed","reason":"x"}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing booking: got %d", w.Code)
	}
}

func TestManualReviewAndLogsRoutes(t *testing.T) {
	a := newTestApp(t)
	a.seed(t, "b1", models.BookingStatusBookingRequested, time.Now())
	if err := a.store.MarkManualReview(context.Background(), "b1", time.Now()); err != nil {
		t.Fatalf("MarkManualReview: %v", err)
	}

	w := a.do(http.MethodGet, "/internal/bookings/manual-review", a.admin, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	list, _ := decode(t, w)["bookings"].([]any)
	if len(list) != 1 {
		t.Fatalf("manual review list = %v", list)
	}

	a.do(http.MethodPost, "/internal/bookings/b1/finalize", a.admin, "", nil)
	w = a.do(http.MethodGet, "/internal/bookings/b1/logs?limit=10", a.admin, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs: got %d", w.Code)
	}
	logs, _ := decode(t, w)["logs"].([]any)
	if len(logs) == 0 {
		t.Fatalf("expected log entries")
	}

	if w := a.do(http.MethodGet, "/internal/bookings/zzz/logs", a.admin, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing booking logs: got %d", w.Code)
	}
}
