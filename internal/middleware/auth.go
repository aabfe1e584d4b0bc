package middleware

import (
	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/auth"
)

const (
	tokenContextKey    = "hecToken"
	tokenErrContextKey = "hecTokenErr"
)

// TokenFromContext returns the caller token extracted by Credentials, or
// the reason there is none.
func TokenFromContext(c *gin.Context) (string, error) {
	if v, ok := c.Get(tokenErrContextKey); ok {
		if err, ok := v.(error); ok {
			return "", err
		}
	}
	v, ok := c.Get(tokenContextKey)
	if !ok {
		return "", auth.ErrAuthenticationTokenMissing
	}
	token, ok := v.(string)
	if !ok || token == "" {
		return "", auth.ErrAuthenticationTokenMissing
	}
	return token, nil
}

// Credentials decodes the Authorization header into a caller token. When
// allowQuery is set, a "token" query parameter is accepted as a Splunk
// credential for clients that cannot set headers (websocket upgrades).
//
// It never aborts: handlers decide how to answer a missing or invalid
// credential.
func Credentials(cfg auth.TokenConfig, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" && allowQuery {
			if q := c.Query("token"); q != "" {
				header = "Splunk " + q
			}
		}

		token, err := auth.TokenFromAuthorization(header, cfg)
		if err != nil {
			c.Set(tokenErrContextKey, err)
		} else {
			c.Set(tokenContextKey, token)
		}
		c.Next()
	}
}
