package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/middlewares"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/mmdatafocus/reservations_backend/workflow"
)

func (s *server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/health/crs", s.crsHealthHandler())
	r.POST("/webhooks/payment", func(c *gin.Context) { s.webhook.Handler()(c) })

	internal := r.Group("/internal")
	internal.POST("/watchdog/sweep", middlewares.CronOrAdmin(), s.watchdogSweepHandler())

	bookings := internal.Group("/bookings", middlewares.AdminOnly())
	bookings.GET("/manual-review", s.manualReviewHandler())
	bookings.POST("/:id/finalize", s.finalizeHandler())
	bookings.POST("/:id/transition", s.transitionHandler())
	bookings.GET("/:id/logs", s.bookingLogsHandler())
}

// crsHealthHandler always answers 200; the body says ok or degraded.
func (s *server) crsHealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, crs.CheckHealth(c.Request.Context(), s.provider))
	}
}

func (s *server) watchdogSweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		triggeredBy, _ := utils.GetTriggeredByFromContext(c.Request.Context())
		if triggeredBy != "cron" && !s.watchdogCfg.ManualTrigger {
			c.JSON(http.StatusForbidden, gin.H{"error": "manual sweeps are disabled"})
			return
		}
		c.JSON(http.StatusOK, s.watchdog.Sweep(c.Request.Context()))
	}
}

func (s *server) finalizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := utils.GetTriggeredByFromContext(c.Request.Context())
		res := s.service.RetryFinalize(c.Request.Context(), c.Param("id"), actor)
		status := http.StatusOK
		if res.Status == workflow.FinalizeStatusNotFound {
			status = http.StatusNotFound
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(status, gin.H{
			"booking_id":     c.Param("id"),
			"success":        res.Success,
			"status":         res.Status,
			"message":        res.Message,
			"correlation_id": cid,
		})
	}
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required,max=255"`
}

func (s *server) transitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		target, err := models.ParseBookingStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		actor, _ := utils.GetTriggeredByFromContext(ctx)
		metadata := map[string]any{"actor": actor}
		if userID, ok := utils.GetUserIdFromContext(ctx); ok {
			metadata["user_id"] = userID
		}
		booking, err := s.service.StateMachine().Transition(ctx, c.Param("id"), target, workflow.TransitionOptions{
			Reason:   req.Reason,
			Metadata: metadata,
		})
		var notFound *workflow.NotFoundError
		var invalid *workflow.InvalidTransitionError
		switch {
		case errors.As(err, &notFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.As(err, &invalid), errors.Is(err, workflow.ErrConcurrentTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			config.LogError(s.logger, "routes.go", "transitionHandler", "Transition", c.Param("id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, booking)
	}
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *server) manualReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.store.ListManualReview(c.Request.Context(), queryLimit(c, 50, 500))
		if err != nil {
			config.LogError(s.logger, "routes.go", "manualReviewHandler", "ListManualReview", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bookings": list})
	}
}

func (s *server) bookingLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := s.store.GetBooking(c.Request.Context(), id); err != nil {
			if errors.Is(err, models.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
				return
			}
			config.LogError(s.logger, "routes.go", "bookingLogsHandler", "GetBooking", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		logs, err := s.store.ListLogs(c.Request.Context(), id, queryLimit(c, 100, 1000))
		if err != nil {
			config.LogError(s.logger, "routes.go", "bookingLogsHandler", "ListLogs", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"booking_id": id, "logs": logs})
	}
}
