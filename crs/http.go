package crs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("reservations-crs")

const dateLayout = "2006-01-02"

// Error bodies are truncated to this many bytes in ProviderError.
const maxErrorBody = 512

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	HotelID string
	Timeout time.Duration
}

// HTTPProvider calls a live CRS over JSON/HTTP.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	hotelID string
	http    *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("crs base url is empty")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("crs api key is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		hotelID: cfg.HotelID,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

type wireAvailabilityRequest struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
	Adults   int    `json:"adults"`
	Children int    `json:"children"`
}

type wireRatePlan struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type wireRoomOffer struct {
	RoomTypeID string          `json:"room_type_id"`
	Name       string          `json:"name"`
	Available  int             `json:"available"`
	Price      decimal.Decimal `json:"price"`
	RatePlans  []wireRatePlan  `json:"rate_plans"`
}

type wireAvailabilityResponse struct {
	Status  string          `json:"status"`
	Rooms   []wireRoomOffer `json:"rooms"`
	Message string          `json:"message"`
}

// wireAmount is an outbound amount in major units, always with two decimals ("1500.00").
type wireAmount decimal.Decimal

func (a wireAmount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + decimal.Decimal(a).StringFixed(2) + `"`), nil
}

func toWireAmount(minor int64) wireAmount {
	return wireAmount(utils.MinorToDecimal(minor))
}

type wireReservationRoom struct {
	RoomTypeID string     `json:"room_type_id"`
	RatePlanID string     `json:"rate_plan_id"`
	Quantity   int        `json:"quantity"`
	Amount     wireAmount `json:"amount"`
}

type wirePayment struct {
	GatewayOrderID   string     `json:"gateway_order_id"`
	GatewayPaymentID string     `json:"gateway_payment_id"`
	Amount           wireAmount `json:"amount"`
	Currency         string     `json:"currency"`
	Method           string     `json:"method,omitempty"`
}

type wireReservationRequest struct {
	BookingID     string                `json:"booking_id"`
	BookingNumber string                `json:"booking_number"`
	CheckIn       string                `json:"check_in"`
	CheckOut      string                `json:"check_out"`
	Adults        int                   `json:"adults"`
	Children      int                   `json:"children"`
	Rooms         []wireReservationRoom `json:"rooms"`
	Guest         Guest                 `json:"guest"`
	Payment       wirePayment           `json:"payment"`
}

type wireReservationResponse struct {
	Status             string             `json:"status"`
	ReservationID      string             `json:"reservation_id"`
	ConfirmationNumber string             `json:"confirmation_number"`
	Errors             []ReservationError `json:"errors"`
}

func (p *HTTPProvider) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	ctx, span := tracer.Start(ctx, "crs.CheckAvailability", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := validateAvailabilityRequest(req); err != nil {
		return &AvailabilityResult{Status: AvailabilityStatusFailure, Message: err.Error()}, nil
	}

	var resp wireAvailabilityResponse
	err := p.post(ctx, "availability", "/availability", "", wireAvailabilityRequest{
		CheckIn:  req.CheckIn.Format(dateLayout),
		CheckOut: req.CheckOut.Format(dateLayout),
		Adults:   req.Adults,
		Children: req.Children,
	}, &resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &AvailabilityResult{Message: resp.Message, Rooms: make([]RoomOffer, 0, len(resp.Rooms))}
	switch AvailabilityStatus(resp.Status) {
	case AvailabilityStatusSuccess:
		out.Status = AvailabilityStatusSuccess
	default:
		out.Status = AvailabilityStatusFailure
	}
	for _, r := range resp.Rooms {
		price, err := utils.DecimalToMinor(r.Price)
		if err != nil {
			return nil, p.decodeErr("availability", err)
		}
		offer := RoomOffer{RoomTypeID: r.RoomTypeID, Name: r.Name, Available: r.Available, Price: price}
		for _, rp := range r.RatePlans {
			rpPrice, err := utils.DecimalToMinor(rp.Price)
			if err != nil {
				return nil, p.decodeErr("availability", err)
			}
			offer.RatePlans = append(offer.RatePlans, RatePlan{ID: rp.ID, Name: rp.Name, Price: rpPrice})
		}
		out.Rooms = append(out.Rooms, offer)
	}
	span.SetAttributes(attribute.String("crs.status", string(out.Status)), attribute.Int("crs.rooms", len(out.Rooms)))
	return out, nil
}

func (p *HTTPProvider) CreateReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error) {
	ctx, span := tracer.Start(ctx, "crs.CreateReservation", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", req.BookingID))

	if res := ValidateReservationRequest(req); res != nil {
		return res, nil
	}

	body := wireReservationRequest{
		BookingID:     req.BookingID,
		BookingNumber: req.BookingNumber,
		CheckIn:       req.CheckIn.Format(dateLayout),
		CheckOut:      req.CheckOut.Format(dateLayout),
		Adults:        req.Adults,
		Children:      req.Children,
		Guest:         req.Guest,
		Payment: wirePayment{
			GatewayOrderID:   req.Payment.GatewayOrderID,
			GatewayPaymentID: req.Payment.GatewayPaymentID,
			Amount:           toWireAmount(req.Payment.Amount),
			Currency:         req.Payment.Currency,
			Method:           req.Payment.Method,
		},
	}
	for _, r := range req.Rooms {
		body.Rooms = append(body.Rooms, wireReservationRoom{
			RoomTypeID: r.RoomTypeID,
			RatePlanID: r.RatePlanID,
			Quantity:   r.Quantity,
			Amount:     toWireAmount(r.Amount),
		})
	}

	var resp wireReservationResponse
	if err := p.post(ctx, "reservation", "/reservations", req.IdempotencyKey, body, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &ReservationResult{
		ReservationID:      resp.ReservationID,
		ConfirmationNumber: resp.ConfirmationNumber,
		Errors:             resp.Errors,
	}
	switch ReservationStatus(resp.Status) {
	case ReservationStatusConfirmed, ReservationStatusFailed, ReservationStatusPending:
		out.Status = ReservationStatus(resp.Status)
	default:
		return nil, p.decodeErr("reservation", fmt.Errorf("unexpected reservation status %q", resp.Status))
	}
	span.SetAttributes(attribute.String("crs.status", string(out.Status)))
	return out, nil
}

func (p *HTTPProvider) post(ctx context.Context, op, path, idempotencyKey string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)
	if p.hotelID != "" {
		req.Header.Set("X-Hotel-Id", p.hotelID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &ProviderError{Provider: p.Name(), Op: op, StatusCode: resp.StatusCode, Body: text}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return p.decodeErr(op, err)
	}
	return nil
}

func (p *HTTPProvider) decodeErr(op string, err error) error {
	return &ProviderError{Provider: p.Name(), Op: op, Err: fmt.Errorf("decode response: %w", err)}
}
