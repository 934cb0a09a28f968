package payments

import "encoding/json"

const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

type gatewayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
	Status   string `json:"status"`
}

type orderEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

// capture is the part of a relevant event the handler acts on.
type capture struct {
	Event     string
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Method    string
}

func parseEvent(body []byte) (gatewayEvent, error) {
	var ev gatewayEvent
	err := json.Unmarshal(body, &ev)
	return ev, err
}

func isRelevant(event string) bool {
	return event == EventPaymentCaptured || event == EventOrderPaid
}

// toCapture prefers the payment entity and falls back to the order entity (order.paid).
func (ev gatewayEvent) toCapture() capture {
	c := capture{Event: ev.Event}
	if p := ev.Payload.Payment; p != nil {
		c.OrderID = p.Entity.OrderID
		c.PaymentID = p.Entity.ID
		c.Amount = p.Entity.Amount
		c.Currency = p.Entity.Currency
		c.Method = p.Entity.Method
	}
	if o := ev.Payload.Order; o != nil {
		if c.OrderID == "" {
			c.OrderID = o.Entity.ID
		}
		if c.Amount == 0 {
			c.Amount = o.Entity.AmountPaid
		}
		if c.Currency == "" {
			c.Currency = o.Entity.Currency
		}
	}
	return c
}
