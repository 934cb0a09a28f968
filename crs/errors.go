package crs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProviderError is a provider-level failure: transport error, timeout,
// non-2xx answer or an unreadable body.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crs %s %s: http %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("crs %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call was cut off by the client timeout or ctx deadline.
func (e *ProviderError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
