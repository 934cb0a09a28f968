package config

import (
	"os"
	"strings"
	"time"
)

type WatchdogConfig struct {
	MaxRetries    int
	StaleAfter    time.Duration
	BatchSize     int
	LockTTL       time.Duration
	Interval      time.Duration // 0 disables the in-process scheduler
	CronSecret    string
	ManualTrigger bool
}

// GetWatchdogConfig reads:
// - WATCHDOG_MAX_RETRIES (default 12)
// - WATCHDOG_STALE_SECONDS (default 60)
// - WATCHDOG_BATCH_SIZE (default 10)
// - WATCHDOG_LOCK_TTL_SECONDS (default 300)
// - WATCHDOG_INTERVAL_SECONDS (default 0, scheduler off)
// - WATCHDOG_CRON_SECRET
// - WATCHDOG_MANUAL_TRIGGER (default true)
func GetWatchdogConfig() WatchdogConfig {
	cfg := WatchdogConfig{
		MaxRetries:    12,
		StaleAfter:    60 * time.Second,
		BatchSize:     10,
		LockTTL:       5 * time.Minute,
		Interval:      0,
		CronSecret:    strings.TrimSpace(os.Getenv("WATCHDOG_CRON_SECRET")),
		ManualTrigger: envBool("WATCHDOG_MANUAL_TRIGGER", true),
	}
	if n := intFromEnv("WATCHDOG_MAX_RETRIES", 0); n > 0 {
		cfg.MaxRetries = n
	}
	if n := intFromEnv("WATCHDOG_STALE_SECONDS", 0); n > 0 {
		cfg.StaleAfter = time.Duration(n) * time.Second
	}
	if n := intFromEnv("WATCHDOG_BATCH_SIZE", 0); n > 0 {
		cfg.BatchSize = n
	}
	if n := intFromEnv("WATCHDOG_LOCK_TTL_SECONDS", 0); n > 0 {
		cfg.LockTTL = time.Duration(n) * time.Second
	}
	if n := intFromEnv("WATCHDOG_INTERVAL_SECONDS", 0); n > 0 {
		cfg.Interval = time.Duration(n) * time.Second
	}
	return cfg
}

type CRSConfig struct {
	Provider           string // "mock" or "http"
	BaseURL            string
	APIKey             string
	HotelID            string
	Timeout            time.Duration
	MockOutage         bool
	RetryPermanent     bool
	DefaultPhoneRegion string
}

// GetCRSConfig reads CRS_PROVIDER, CRS_BASE_URL, CRS_API_KEY, CRS_HOTEL_ID,
// CRS_TIMEOUT_SECONDS (default 10), CRS_MOCK_OUTAGE, CRS_RETRY_PERMANENT_FAILURES
// and CRS_PHONE_REGION (default IN).
func GetCRSConfig() CRSConfig {
	cfg := CRSConfig{
		Provider:           strings.ToLower(strings.TrimSpace(os.Getenv("CRS_PROVIDER"))),
		BaseURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("CRS_BASE_URL")), "/"),
		APIKey:             strings.TrimSpace(os.Getenv("CRS_API_KEY")),
		HotelID:            strings.TrimSpace(os.Getenv("CRS_HOTEL_ID")),
		Timeout:            10 * time.Second,
		MockOutage:         envBool("CRS_MOCK_OUTAGE", false),
		RetryPermanent:     envBool("CRS_RETRY_PERMANENT_FAILURES", false),
		DefaultPhoneRegion: strings.ToUpper(strings.TrimSpace(os.Getenv("CRS_PHONE_REGION"))),
	}
	if cfg.Provider == "" {
		cfg.Provider = "mock"
	}
	if cfg.DefaultPhoneRegion == "" {
		cfg.DefaultPhoneRegion = "IN"
	}
	if n := intFromEnv("CRS_TIMEOUT_SECONDS", 0); n > 0 {
		cfg.Timeout = time.Duration(n) * time.Second
	}
	return cfg
}

type PaymentConfig struct {
	WebhookSecret   string
	SignatureHeader string
	EventIDHeader   string
}

func GetPaymentConfig() PaymentConfig {
	cfg := PaymentConfig{
		WebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		SignatureHeader: strings.TrimSpace(os.Getenv("PAYMENT_SIGNATURE_HEADER")),
		EventIDHeader:   strings.TrimSpace(os.Getenv("PAYMENT_EVENT_ID_HEADER")),
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Razorpay-Signature"
	}
	if cfg.EventIDHeader == "" {
		cfg.EventIDHeader = "X-Razorpay-Event-Id"
	}
	return cfg
}

// BookingEventsTopic is the Pub/Sub topic for booking lifecycle events; empty disables publishing.
func BookingEventsTopic() string {
	return strings.TrimSpace(os.Getenv("BOOKING_EVENTS_TOPIC"))
}

// StoreDriver is "mysql" (default) or "memory" for local runs without a database.
func StoreDriver() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if v == "" {
		return "mysql"
	}
	return v
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

func envBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
