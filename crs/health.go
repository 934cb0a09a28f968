package crs

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
)

type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Provider  string       `json:"provider"`
	Message   string       `json:"message,omitempty"`
	Rooms     int          `json:"rooms"`
	CheckedAt time.Time    `json:"checked_at"`
}

// CheckHealth asks the provider for availability for tomorrow, one night, two adults.
// Any error, failure result or panic reports degraded.
func CheckHealth(ctx context.Context, provider Provider) (report HealthReport) {
	now := time.Now().UTC()
	report = HealthReport{Status: HealthStatusDegraded, CheckedAt: now}

	defer func() {
		if r := recover(); r != nil {
			report.Status = HealthStatusDegraded
			report.Message = fmt.Sprintf("panic: %v", r)
		}
	}()

	if provider == nil {
		report.Message = "no CRS provider configured"
		return report
	}
	report.Provider = provider.Name()

	checkIn := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	res, err := provider.CheckAvailability(ctx, AvailabilityRequest{
		CheckIn:  checkIn,
		CheckOut: checkIn.AddDate(0, 0, 1),
		Adults:   2,
	})
	if err != nil {
		report.Message = err.Error()
		return report
	}
	if res == nil || res.Status != AvailabilityStatusSuccess {
		if res != nil {
			report.Message = res.Message
		}
		return report
	}
	report.Status = HealthStatusOK
	report.Rooms = len(res.Rooms)
	return report
}
