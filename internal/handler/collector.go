package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/convert"
	"hec-relp-gateway/internal/middleware"
)

type CollectorHandler struct {
	Converter    *convert.Converter
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Event accepts one or more concatenated event envelopes and answers with
// the ack id shared by all of them.
func (h *CollectorHandler) Event(c *gin.Context) {
	token, err := middleware.TokenFromContext(c)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	body := c.Request.Body
	if h.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.MaxBodyBytes)
	}

	res, err := h.Converter.Convert(convert.Submission{
		Token:      token,
		Channel:    channelFromRequest(c),
		Body:       body,
		Forward:    forwardContext(c),
		ReceivedAt: time.Now(),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":    "Success",
		"code":    codeSuccess,
		"message": "Success",
		"ackID":   res.AckID,
	})
}
