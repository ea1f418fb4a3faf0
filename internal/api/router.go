package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires every endpoint under /api/v1.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(logger))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", h.Status)
		v1.POST("/inbound", h.Inbound)
		v1.GET("/attachments/:id", h.GetAttachment)

		convs := v1.Group("/conversations")
		{
			convs.GET("", h.ListConversations)
			convs.DELETE("/:phone", h.DeleteConversation)
			convs.POST("/:phone/read", h.MarkRead)
			convs.POST("/:phone/unread", h.MarkUnread)
			convs.GET("/:phone/messages", h.ListMessages)
			convs.POST("/:phone/messages", h.Send)
			convs.GET("/:phone/messages/inbound-ids", h.InboundMessageIDs)
			convs.POST("/:phone/messages/delete", h.DeleteMessages)
		}
	}
	return r
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
