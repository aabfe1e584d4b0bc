package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/convert"
	"hec-relp-gateway/internal/handler"
	"hec-relp-gateway/internal/hub"
	"hec-relp-gateway/internal/middleware"
)

type Deps struct {
	Converter    *convert.Converter
	Tracker      *ack.Tracker
	Hub          *hub.Hub
	TokenConfig  auth.TokenConfig
	RateLimiter  *middleware.RateLimiter
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	collector := r.Group("/services/collector")
	collector.Use(middleware.Credentials(deps.TokenConfig, false))

	collector.GET("/health", handler.Health)
	collector.GET("/health/1.0", handler.Health)

	limited := collector.Group("")
	if deps.RateLimiter != nil {
		limited.Use(middleware.RateLimitMiddleware(deps.RateLimiter, middleware.TokenKey, handler.Busy))
	}

	eventHandler := &handler.CollectorHandler{Converter: deps.Converter, MaxBodyBytes: deps.MaxBodyBytes, Logger: deps.Logger}
	limited.POST("", eventHandler.Event)
	limited.POST("/event", eventHandler.Event)
	limited.POST("/event/1.0", eventHandler.Event)

	ackHandler := &handler.AckHandler{Tracker: deps.Tracker, Logger: deps.Logger}
	limited.POST("/ack", ackHandler.Query)

	streamHandler := &handler.AckStreamHandler{Hub: deps.Hub, Tracker: deps.Tracker, Logger: deps.Logger}
	r.GET("/services/collector/ack/stream", middleware.Credentials(deps.TokenConfig, true), streamHandler.Serve)

	return r
}
