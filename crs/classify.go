package crs

type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// Codes that will not succeed on retry; the booking needs an operator.
// INVENTORY_UNAVAILABLE is deliberately absent: inventory can free up.
var permanentCodes = map[string]struct{}{
	CodeInvalidPayment:        {},
	CodeInvalidRequest:        {},
	CodeRatePlanClosed:        {},
	CodeDuplicateGuestBlocked: {},
}

// ClassifyFailure decides whether a non-confirmed reservation is worth
// retrying. Transport errors never reach here and are always transient.
func ClassifyFailure(res *ReservationResult) FailureClass {
	if res == nil || res.Status != ReservationStatusFailed {
		return FailureTransient
	}
	for _, e := range res.Errors {
		if _, ok := permanentCodes[e.Code]; ok {
			return FailurePermanent
		}
	}
	return FailureTransient
}
