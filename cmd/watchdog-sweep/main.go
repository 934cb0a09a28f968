package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/mmdatafocus/reservations_backend/workflow"
)

// One-shot watchdog sweep for cron jobs (Cloud Scheduler / Kubernetes CronJob).
// Exit status is 1 when the sweep could not load stale bookings.
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall deadline for the sweep")
	noLock := flag.Bool("no-lock", false, "Skip the Redis sweep lock (single-instance deployments without Redis)")
	flag.Parse()

	logger := config.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetTriggeredByInContext(ctx, "cron")

	var lock workflow.SweepLock
	if !*noLock {
		if err := config.ConnectRedis(ctx, config.RedisConnectAttempts()); err != nil {
			logger.Warn("sweeping without the redis lock: " + err.Error())
		}
		lock = workflow.NewRedisSweepLock(config.GetRedisLock)
	}
	defer config.CloseRedis()

	store, err := models.OpenStore(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	crsCfg := config.GetCRSConfig()
	provider, err := crs.NewProviderFromConfig(crsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure CRS provider: %v\n", err)
		os.Exit(1)
	}
	publisher := events.NewPublisherFromConfig(logger)
	defer config.ClosePubSub()

	service := workflow.NewBookingService(store, provider, publisher, logger, workflow.BookingServiceConfigFrom(crsCfg))
	summary := workflow.NewWatchdog(store, service, publisher, lock, logger, config.GetWatchdogConfig()).Sweep(ctx)

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	if !summary.Success {
		os.Exit(1)
	}
}
