package handler

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/convert"
	"hec-relp-gateway/internal/sender"
	"hec-relp-gateway/internal/store"
)

// HEC status codes carried in response bodies.
const (
	codeSuccess           = 0
	codeTokenRequired     = 2
	codeInvalidToken      = 4
	codeNoData            = 5
	codeInvalidDataFormat = 6
	codeInternalError     = 8
	codeServerBusy        = 9
	codeChannelMissing    = 10
	codeInvalidChannel    = 11
	codeEventMissing      = 12
	codeEventBlank        = 13
	codeHealthy           = 17
	codeUnhealthy         = 18
)

type apiError struct {
	status int
	code   int
	text   string
}

var errorTable = []struct {
	err error
	apiError
}{
	{auth.ErrAuthenticationTokenMissing, apiError{http.StatusUnauthorized, codeTokenRequired, "Token is required"}},
	{auth.ErrInvalidToken, apiError{http.StatusForbidden, codeInvalidToken, "Invalid token"}},
	{ack.ErrChannelNotProvided, apiError{http.StatusBadRequest, codeChannelMissing, "Data channel is missing"}},
	{convert.ErrEventFieldMissing, apiError{http.StatusBadRequest, codeEventMissing, "Event field is required"}},
	{convert.ErrEventFieldBlank, apiError{http.StatusBadRequest, codeEventBlank, "Event field cannot be blank"}},
	{convert.ErrNoData, apiError{http.StatusBadRequest, codeNoData, "No data"}},
	{store.ErrSessionNotFound, apiError{http.StatusNotFound, codeInvalidChannel, "Session not found"}},
	{store.ErrChannelNotFound, apiError{http.StatusNotFound, codeInvalidChannel, "Invalid data channel"}},
	{sender.ErrClosed, apiError{http.StatusServiceUnavailable, codeServerBusy, "Server is shutting down"}},
	{convert.ErrInvalidPayload, apiError{http.StatusBadRequest, codeInvalidDataFormat, "Invalid data format"}},
}

// classify maps err onto its HEC response. ok is false for internal faults.
func classify(err error) (apiError, bool) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apiError{http.StatusRequestEntityTooLarge, codeInvalidDataFormat, "Request entity too large"}, true
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return entry.apiError, true
		}
	}
	return apiError{}, false
}

// respondError writes the HEC error body for err. Unexpected errors are
// logged under a fresh event id and only that id reaches the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	if e, ok := classify(err); ok {
		body := gin.H{"text": e.text, "code": e.code}
		var evErr *convert.EventError
		if errors.As(err, &evErr) {
			body["invalid-event-number"] = evErr.Index
		}
		c.JSON(e.status, body)
		return
	}

	eventID := uuid.NewString()
	loggerOrDiscard(logger).Error("internal error",
		"eventID", eventID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"error", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"text":    "Internal server error",
		"code":    codeInternalError,
		"eventID": eventID,
	})
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// Busy answers a rate-limited request with the HEC busy response.
func Busy(c *gin.Context, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.JSON(http.StatusServiceUnavailable, gin.H{"text": "Server is busy", "code": codeServerBusy})
}
