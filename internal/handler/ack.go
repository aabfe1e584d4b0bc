package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/convert"
	"hec-relp-gateway/internal/middleware"
	"hec-relp-gateway/internal/store"
)

const maxAckQueryBytes = 1 << 20

type AckHandler struct {
	Tracker *ack.Tracker
	Logger  *slog.Logger
}

type ackRequest struct {
	Acks []int64 `json:"acks"`
}

// Query reports each requested ack id as true (committed), false (pending)
// or null (never issued on the channel).
func (h *AckHandler) Query(c *gin.Context) {
	token, err := middleware.TokenFromContext(c)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	channel := channelFromRequest(c)
	if channel == "" {
		respondError(c, h.Logger, ack.ErrChannelNotProvided)
		return
	}

	var req ackRequest
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxAckQueryBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = convert.ErrNoData
		} else {
			err = errors.Join(convert.ErrInvalidPayload, err)
		}
		respondError(c, h.Logger, err)
		return
	}

	statuses, err := h.Tracker.Query(token, channel, req.Acks)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acks": ackBody(statuses)})
}

func ackBody(statuses map[int64]store.AckStatus) map[string]any {
	out := make(map[string]any, len(statuses))
	for id, status := range statuses {
		key := strconv.FormatInt(id, 10)
		switch status {
		case store.AckCommitted:
			out[key] = true
		case store.AckPending:
			out[key] = false
		default:
			out[key] = nil
		}
	}
	return out
}
