package auth

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrAuthenticationTokenMissing = errors.New("authentication token missing")
	ErrInvalidToken               = errors.New("invalid authentication token")
)

// TokenFromAuthorization extracts the caller token from an Authorization
// header value. Accepted schemes:
//
//	Splunk <token>
//	Basic base64(<user>:<token>)
//	Bearer <token>
//
// With a signing secret configured, Bearer values must be collector tokens
// issued by IssueToken and the token is their subject. Without one, the
// Bearer value is used as is.
func TokenFromAuthorization(header string, cfg TokenConfig) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrAuthenticationTokenMissing
	}

	scheme, value, ok := strings.Cut(header, " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", ErrAuthenticationTokenMissing
	}

	switch strings.ToLower(scheme) {
	case "splunk":
		return value, nil
	case "basic":
		return tokenFromBasic(value)
	case "bearer":
		if cfg.Secret == "" {
			return value, nil
		}
		claims, err := VerifyToken(value, cfg)
		if err != nil {
			return "", ErrInvalidToken
		}
		return claims.Subject, nil
	default:
		return "", ErrInvalidToken
	}
}

func tokenFromBasic(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidToken
	}
	user, pass, hasColon := strings.Cut(string(raw), ":")
	token := pass
	if !hasColon {
		token = user
	}
	if token == "" {
		return "", ErrAuthenticationTokenMissing
	}
	return token, nil
}
