package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/middlewares"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/payments"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/mmdatafocus/reservations_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

// server holds the wired pipeline. Handlers answer 503 until ready is set.
type server struct {
	logger      *logrus.Logger
	watchdogCfg config.WatchdogConfig

	store    models.Store
	provider crs.Provider
	service  *workflow.BookingService
	watchdog *workflow.Watchdog
	webhook  *payments.WebhookHandler

	ready atomic.Bool
}

type dependencies struct {
	Store     models.Store
	Provider  crs.Provider
	Publisher events.Publisher
	Lock      workflow.SweepLock
	CRS       config.CRSConfig
	Payment   config.PaymentConfig
}

func newServer(logger *logrus.Logger, watchdogCfg config.WatchdogConfig) *server {
	return &server{logger: logger, watchdogCfg: watchdogCfg}
}

// wire builds the pipeline from deps and opens the readiness gate.
func (s *server) wire(deps dependencies) {
	s.store = deps.Store
	s.provider = deps.Provider
	s.service = workflow.NewBookingService(deps.Store, deps.Provider, deps.Publisher, s.logger, workflow.BookingServiceConfigFrom(deps.CRS))
	s.watchdog = workflow.NewWatchdog(deps.Store, s.service, deps.Publisher, deps.Lock, s.logger, s.watchdogCfg)
	s.webhook = payments.NewWebhookHandler(deps.Store, s.service.StateMachine(), s.service, deps.Payment, s.logger)
	s.ready.Store(true)
}

func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

func (s *server) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow the Cloud Run startup check.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !s.ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return cors.New(corsConfig)
}

// router assembles the middleware chain and routes.
// rateLimiter may be nil.
func (s *server) router(rateLimiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(correlationMiddleware())
	r.Use(s.readinessGate())
	r.Use(corsMiddleware())
	if rateLimiter != nil {
		r.Use(rateLimiter.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.CronMiddleware(s.watchdogCfg.CronSecret))
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(s.logger))
	r.Use(gin.Recovery())
	s.registerRoutes(r)
	r.NoRoute(customNotFoundHandler)
	return r
}

// rateLimiterFromEnv reads RATE_LIMIT_ENABLED, RATE_LIMIT_MAX_REQUESTS (600) and
// RATE_LIMIT_WINDOW_SECONDS (60).
func rateLimiterFromEnv(client func() *redis.Client) *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
}

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s := newServer(logger, config.GetWatchdogConfig())

	// Start listening immediately (the Cloud Run startup check is TCP based).
	// Until the store is ready, we return 503 for app endpoints.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.router(rateLimiterFromEnv(config.GetRedisDB)),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open. Redis is optional and connects
	// in the background; sessions, rate limiting and the sweep lock pick it up once ready.
	redisCtx, cancelRedis := context.WithCancel(context.Background())
	defer cancelRedis()
	go func() {
		if err := config.ConnectRedis(redisCtx, config.RedisConnectAttempts()); err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("running without redis: " + err.Error())
		}
	}()
	store, err := models.OpenStore(logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Fatal("open store: " + err.Error())
	}
	crsCfg := config.GetCRSConfig()
	provider, err := crs.NewProviderFromConfig(crsCfg)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "crs"}).Fatal("configure CRS provider: " + err.Error())
	}
	s.wire(dependencies{
		Store:     store,
		Provider:  provider,
		Publisher: events.NewPublisherFromConfig(logger),
		Lock:      workflow.NewRedisSweepLock(config.GetRedisLock),
		CRS:       crsCfg,
		Payment:   config.GetPaymentConfig(),
	})

	// Optional in-process scheduler; external cron is the default trigger.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if s.watchdogCfg.Interval > 0 {
		go s.watchdog.Run(schedulerCtx, s.watchdogCfg.Interval)
	}

	logger.WithFields(logrus.Fields{
		"info":     "Connection Established",
		"provider": provider.Name(),
	}).Info("reservations backend listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelScheduler()
	cancelRedis()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	config.CloseRedis()
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in fixed windows.
// Gateway webhooks are exempt; the gateway retries on 429 and would only add load.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/webhooks/") {
		c.Next()
		return
	}
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		client.Expire(c.Request.Context(), key, rl.window)
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
