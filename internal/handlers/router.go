package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"momopay-service/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(payments *services.PaymentService, store Pinger, log *logrus.Entry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome To Momopay service",
		})
	})
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewPaymentHandler(payments)
	api := r.Group("/api")
	{
		pay := api.Group("/payments")
		pay.POST("", h.CreateTransaction)
		pay.POST("/initiate", h.InitiatePayment)
		pay.POST("/callback", h.HandleCallback)
		pay.GET("/reference", h.GenerateReference)
		pay.GET("/:reference", h.GetTransaction)
		pay.POST("/:reference/initiation", h.RecordInitiationResult)
		pay.POST("/:reference/poll", h.PollStatus)
		pay.POST("/:reference/otp", h.IssueOtpChallenge)
		pay.POST("/:reference/otp/verify", h.VerifyOtp)

		api.POST("/sms", h.SendSMS)
	}
	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Error("request failed")
			return
		}
		entry.Debug("request")
	}
}
