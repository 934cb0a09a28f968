package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/mmdatafocus/reservations_backend/workflow"
	"github.com/sirupsen/logrus"
)

const testSecret = "whsec_test"

type fixture struct {
	store    *models.MemoryStore
	provider *crs.MockProvider
	pub      *events.RecordingPublisher
	handler  *WebhookHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := models.NewMemoryStore()
	provider := crs.NewMockProvider()
	pub := &events.RecordingPublisher{}
	service := workflow.NewBookingService(store, provider, pub, logger, workflow.BookingServiceConfig{ProviderTimeout: time.Second})
	cfg := config.PaymentConfig{
		WebhookSecret:   testSecret,
		SignatureHeader: "X-Razorpay-Signature",
		EventIDHeader:   "X-Razorpay-Event-Id",
	}
	return &fixture{
		store:    store,
		provider: provider,
		pub:      pub,
		handler:  NewWebhookHandler(store, service.StateMachine(), service, cfg, logger),
	}
}

// seed stores a booking awaiting payment for 150000 minor units.
func (f *fixture) seed(t *testing.T, id string, status models.BookingStatus) {
	t.Helper()
	ctx := context.Background()
	checkIn := time.Now().AddDate(0, 1, 0).Truncate(24 * time.Hour)
	if err := f.store.CreateBooking(ctx, &models.Booking{
		ID:            id,
		BookingNumber: "BK-20261019-" + id,
		Status:        status,
		GuestName:     "Asha Rao",
		GuestEmail:    "asha@example.com",
		GuestPhone:    "+919812345678",
		CheckIn:       checkIn,
		CheckOut:      checkIn.AddDate(0, 0, 2),
		Adults:        2,
		Rooms:         []models.BookingRoom{{RoomTypeID: "DLX", RatePlanID: "BAR", Quantity: 1, Amount: 150000}},
		TotalAmount:   150000,
		Currency:      "INR",
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := f.store.CreatePayment(ctx, &models.Payment{
		BookingID:      id,
		GatewayOrderID: "order_" + id,
		Amount:         150000,
		Currency:       "INR",
	}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
}

func capturedBody(orderID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_%s","order_id":"%s","amount":%d,"currency":"INR","method":"upi","status":"captured"}}}}`, orderID, orderID, amount))
}

func (f *fixture) deliver(body []byte, eventID string) Outcome {
	return f.handler.Handle(context.Background(), body, ComputeSignature(testSecret, body), eventID)
}

func (f *fixture) booking(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	return b
}

func (f *fixture) payment(t *testing.T, id string) *models.Payment {
	t.Helper()
	p, err := f.store.GetPaymentByOrderID(context.Background(), "order_"+id)
	if err != nil {
		t.Fatalf("GetPaymentByOrderID: %v", err)
	}
	return p
}

func TestWebhookConfirmsBooking(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)

	out := f.deliver(capturedBody("order_b1", 150000), "evt_1")
	if out.Status != http.StatusOK {
		t.Fatalf("status = %d body=%v", out.Status, out.Body)
	}
	if out.Body["status"] != workflow.FinalizeStatusConfirmed {
		t.Fatalf("expected confirmed finalize, got %v", out.Body["status"])
	}
	if p := f.payment(t, "b1"); p.Status != models.PaymentStatusSuccess || p.GatewayPaymentID != "pay_order_b1" {
		t.Fatalf("payment not verified: %+v", p)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusConfirmed {
		t.Fatalf("booking status = %s", b.Status)
	}
	if n := f.store.CountConfirmations("b1"); n != 1 {
		t.Fatalf("confirmations = %d", n)
	}
	if !f.store.HasLog("b1", models.LogActionPaymentVerified) {
		t.Fatalf("expected payment_verified log")
	}
	if f.pub.Count(events.TypeBookingConfirmed) != 1 {
		t.Fatalf("expected one booking.confirmed event")
	}
}

func TestWebhookAdvancesInitiatedBooking(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusInitiated)

	if out := f.deliver(capturedBody("order_b1", 150000), "evt_1"); out.Status != http.StatusOK {
		t.Fatalf("status = %d", out.Status)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusConfirmed {
		t.Fatalf("booking status = %s", b.Status)
	}
}

func TestWebhookAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b2", models.BookingStatusPendingPayment)

	out := f.deliver(capturedBody("order_b2", 140000), "evt_2")
	if out.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", out.Status)
	}
	if p := f.payment(t, "b2"); p.Status != models.PaymentStatusPending {
		t.Fatalf("payment status = %s", p.Status)
	}
	if b := f.booking(t, "b2"); b.Status != models.BookingStatusPendingPayment {
		t.Fatalf("booking status = %s", b.Status)
	}
	if !f.store.HasLog("b2", models.LogActionPaymentAmountMismatch) {
		t.Fatalf("expected payment_amount_mismatch log")
	}
	if f.provider.ReservationCalls() != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)

	out := f.handler.Handle(context.Background(), capturedBody("order_b1", 150000), "deadbeef", "evt_1")
	if out.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", out.Status)
	}
	if p := f.payment(t, "b1"); p.Status != models.PaymentStatusPending {
		t.Fatalf("payment mutated: %s", p.Status)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusPendingPayment {
		t.Fatalf("booking mutated: %s", b.Status)
	}
}

func TestWebhookMissingSecret(t *testing.T) {
	f := newFixture(t)
	f.handler.cfg.WebhookSecret = ""
	body := capturedBody("order_b1", 150000)
	if out := f.handler.Handle(context.Background(), body, ComputeSignature("", body), ""); out.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", out.Status)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)

	out := f.deliver([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_x","order_id":"order_b1","amount":150000}}}}`), "evt_1")
	if out.Status != http.StatusOK || out.Body["ignored"] != true {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusPendingPayment {
		t.Fatalf("booking mutated: %s", b.Status)
	}

	if out := f.deliver([]byte(`not json`), ""); out.Status != http.StatusOK {
		t.Fatalf("malformed body should be acknowledged, got %d", out.Status)
	}
}

func TestWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t)
	if out := f.deliver(capturedBody("order_missing", 150000), "evt_1"); out.Status != http.StatusOK {
		t.Fatalf("status = %d", out.Status)
	}
}

func TestWebhookDuplicateEvent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)
	body := capturedBody("order_b1", 150000)

	if out := f.deliver(body, "evt_1"); out.Status != http.StatusOK {
		t.Fatalf("first delivery status = %d", out.Status)
	}
	out := f.deliver(body, "evt_1")
	if out.Status != http.StatusOK || out.Body["duplicate"] != true {
		t.Fatalf("expected duplicate ack, got %+v", out)
	}
	if n := f.provider.ReservationCalls(); n != 1 {
		t.Fatalf("provider calls = %d", n)
	}
	if n := f.store.CountConfirmations("b1"); n != 1 {
		t.Fatalf("confirmations = %d", n)
	}
}

func TestWebhookRedeliveryWithoutEventID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)
	body := capturedBody("order_b1", 150000)

	f.deliver(body, "")
	out := f.deliver(body, "")
	if out.Status != http.StatusOK || out.Body["status"] != workflow.FinalizeStatusConfirmed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if n := f.store.CountConfirmations("b1"); n != 1 {
		t.Fatalf("confirmations = %d", n)
	}
	if f.pub.Count(events.TypeBookingConfirmed) != 1 {
		t.Fatalf("expected one booking.confirmed event, got %d", f.pub.Count(events.TypeBookingConfirmed))
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b2", models.BookingStatusPendingPayment)

	if out := f.deliver(capturedBody("order_b2", 140000), "evt_2"); out.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", out.Status)
	}
	// A failed delivery does not block a corrected retry under the same id.
	if out := f.deliver(capturedBody("order_b2", 150000), "evt_2"); out.Status != http.StatusOK {
		t.Fatalf("status = %d", out.Status)
	}
}

// flakyStatusStore fails the next UpdateBookingStatus call once.
type flakyStatusStore struct {
	*models.MemoryStore
	failures int
}

func (s *flakyStatusStore) UpdateBookingStatus(ctx context.Context, id string, from, to models.BookingStatus, at time.Time) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errors.New("connection reset")
	}
	return s.MemoryStore.UpdateBookingStatus(ctx, id, from, to, at)
}

func TestWebhookAdvanceFailureIsRedelivered(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b5", models.BookingStatusPendingPayment)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := &flakyStatusStore{MemoryStore: f.store, failures: 1}
	service := workflow.NewBookingService(store, f.provider, f.pub, logger, workflow.BookingServiceConfig{ProviderTimeout: time.Second})
	f.handler = NewWebhookHandler(store, service.StateMachine(), service, f.handler.cfg, logger)

	body := capturedBody("order_b5", 150000)
	out := f.deliver(body, "evt_5")
	if out.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway redelivers, got %+v", out)
	}
	if b := f.booking(t, "b5"); b.Status != models.BookingStatusPendingPayment {
		t.Fatalf("booking status = %s", b.Status)
	}
	if p := f.payment(t, "b5"); p.Status != models.PaymentStatusSuccess {
		t.Fatalf("payment should stay recorded: %+v", p)
	}
	if !f.store.HasLog("b5", models.LogActionWebhookFinalizeError) {
		t.Fatalf("expected webhook_finalize_error log")
	}

	out = f.deliver(body, "evt_5")
	if out.Status != http.StatusOK || out.Body["duplicate"] == true {
		t.Fatalf("redelivery should be processed, got %+v", out)
	}
	if out.Body["status"] != workflow.FinalizeStatusConfirmed {
		t.Fatalf("expected confirmed finalize, got %v", out.Body["status"])
	}
	if b := f.booking(t, "b5"); b.Status != models.BookingStatusConfirmed {
		t.Fatalf("booking status = %s", b.Status)
	}
	if n := f.store.CountConfirmations("b5"); n != 1 {
		t.Fatalf("confirmations = %d", n)
	}
}

func TestWebhookInactiveBooking(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusCancelled)

	if out := f.deliver(capturedBody("order_b1", 150000), "evt_1"); out.Status != http.StatusOK {
		t.Fatalf("status = %d", out.Status)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusCancelled {
		t.Fatalf("booking status = %s", b.Status)
	}
	if !f.store.HasLog("b1", models.LogActionPaymentForInactiveBooking) {
		t.Fatalf("expected payment_for_inactive_booking log")
	}
	if f.provider.ReservationCalls() != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestWebhookProviderOutageStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)
	f.provider.SetOutage(true)

	out := f.deliver(capturedBody("order_b1", 150000), "evt_1")
	if out.Status != http.StatusOK || out.Body["status"] != workflow.FinalizeStatusPendingRetry {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if b := f.booking(t, "b1"); b.Status != models.BookingStatusBookingRequested {
		t.Fatalf("booking status = %s", b.Status)
	}
	if p := f.payment(t, "b1"); p.Status != models.PaymentStatusSuccess {
		t.Fatalf("payment status = %s", p.Status)
	}
	if !f.store.HasLog("b1", models.LogActionWebhookFinalizeError) {
		t.Fatalf("expected webhook_finalize_error log")
	}
}

func TestWebhookGinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	f.seed(t, "b1", models.BookingStatusPendingPayment)

	r := gin.New()
	r.POST("/webhooks/payment", f.handler.Handler())

	body := capturedBody("order_b1", 150000)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(body)))
	req.Header.Set("X-Razorpay-Signature", ComputeSignature(testSecret, body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["received"] != true || resp["status"] != string(workflow.FinalizeStatusConfirmed) {
		t.Fatalf("unexpected body %v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(string(body)))
	req.Header.Set("X-Razorpay-Signature", "bad")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status = %d", w.Code)
	}
}
