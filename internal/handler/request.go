package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/model"
)

const channelHeader = "X-Splunk-Request-Channel"

func channelFromRequest(c *gin.Context) string {
	if ch := strings.TrimSpace(c.GetHeader(channelHeader)); ch != "" {
		return ch
	}
	return strings.TrimSpace(c.Query("channel"))
}

func forwardContext(c *gin.Context) model.ForwardContext {
	return model.ForwardContext{
		RemoteAddr:     c.RemoteIP(),
		ForwardedFor:   c.GetHeader("X-Forwarded-For"),
		ForwardedHost:  c.GetHeader("X-Forwarded-Host"),
		ForwardedProto: c.GetHeader("X-Forwarded-Proto"),
		RequestID:      c.GetHeader("X-Request-Id"),
	}
}
