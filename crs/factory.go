package crs

import (
	"fmt"

	"github.com/mmdatafocus/reservations_backend/config"
)

// NewProviderFromConfig builds the provider selected by CRS_PROVIDER. The
// result is meant to be constructed once in main and passed down.
func NewProviderFromConfig(cfg config.CRSConfig) (Provider, error) {
	switch cfg.Provider {
	case "mock":
		p := NewMockProvider()
		p.SetOutage(cfg.MockOutage)
		return p, nil
	case "http":
		return NewHTTPProvider(HTTPConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			HotelID: cfg.HotelID,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown CRS_PROVIDER %q", cfg.Provider)
	}
}
