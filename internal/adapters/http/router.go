// Package httpadapter exposes the transfer façade over HTTP with gin.
package httpadapter

import (
	"errors"
	"net/http"
	"time"

	"mercato/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterOptions wires the optional endpoints. A nil Feed disables
// /transfers/ws and a nil Metrics disables /metrics.
type RouterOptions struct {
	Feed    http.Handler
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

var errServerStatus = errors.New("server error")

// NewRouter builds the gin engine.
func NewRouter(service TransferService, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Logger, opts.Metrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(observability.Handler(opts.Metrics)))
	}

	h := NewTransferHandler(service)
	r.POST("/transfers", h.Submit)
	if opts.Feed != nil {
		r.GET("/transfers/ws", gin.WrapH(opts.Feed))
	}
	r.GET("/transfers/:sagaId", h.Get)

	r.NoRoute(func(c *gin.Context) {
		WriteError(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	return r
}

func requestLogger(logger zerolog.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	logger = logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span := metrics.Start("HTTP " + c.Request.Method + " " + route)
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		var err error
		if status >= http.StatusInternalServerError {
			err = errServerStatus
		}
		span.End(err)

		level := zerolog.DebugLevel
		if err != nil {
			level = zerolog.ErrorLevel
		}
		logger.WithLevel(level).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
