package payments

import "testing"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := ComputeSignature("whsec", body)

	if !VerifySignature("whsec", body, sig) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifySignature("whsec", body, " "+sig+"\n") {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
	if VerifySignature("other", body, sig) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifySignature("whsec", append(body, ' '), sig) {
		t.Fatalf("expected modified body to fail")
	}
	if VerifySignature("", body, ComputeSignature("", body)) {
		t.Fatalf("empty secret must never verify")
	}
	if VerifySignature("whsec", body, "") {
		t.Fatalf("empty signature must never verify")
	}
}

func TestToCaptureFallsBackToOrder(t *testing.T) {
	ev, err := parseEvent([]byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_1","amount":150000,"amount_paid":150000,"currency":"INR","status":"paid"}}}}`))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	c := ev.toCapture()
	if c.OrderID != "order_1" || c.Amount != 150000 || c.Currency != "INR" {
		t.Fatalf("unexpected capture: %+v", c)
	}
	if !isRelevant(ev.Event) || isRelevant("payment.failed") {
		t.Fatalf("unexpected relevance")
	}
}
