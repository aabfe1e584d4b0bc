package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/middleware"
)

// Health reports available when the request carries a credential. Sender
// connectivity is not consulted.
func Health(c *gin.Context) {
	_, err := middleware.TokenFromContext(c)
	if errors.Is(err, auth.ErrAuthenticationTokenMissing) {
		c.JSON(http.StatusBadRequest, gin.H{"text": "HEC is unhealthy, no token", "code": codeUnhealthy})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": "HEC is healthy", "code": codeHealthy})
}
