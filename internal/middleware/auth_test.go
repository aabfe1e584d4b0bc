package middleware

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"hec-relp-gateway/internal/auth"
)

func serveToken(t *testing.T, cfg auth.TokenConfig, allowQuery bool, req *http.Request) (string, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var (
		token string
		err   error
	)
	r := gin.New()
	r.Any("/", Credentials(cfg, allowQuery), func(c *gin.Context) {
		token, err = TokenFromContext(c)
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	return token, err
}

func TestCredentials_Schemes(t *testing.T) {
	secret := "secret"
	cfg := auth.TokenConfig{Secret: secret, Expiry: time.Hour, Issuer: "test"}
	signed, err := auth.IssueToken("tok-jwt", cfg)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"splunk", "Splunk tok-1", "tok-1"},
		{"basic", "Basic " + base64.StdEncoding.EncodeToString([]byte("x:tok-2")), "tok-2"},
		{"bearer jwt", "Bearer " + signed, "tok-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", tt.header)
			got, err := serveToken(t, cfg, false, req)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCredentials_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	_, err := serveToken(t, auth.TokenConfig{}, false, req)
	if !errors.Is(err, auth.ErrAuthenticationTokenMissing) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestCredentials_InvalidBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	_, err := serveToken(t, auth.TokenConfig{Secret: "s", Expiry: time.Hour}, false, req)
	if !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestCredentials_QueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=tok-q", nil)
	got, err := serveToken(t, auth.TokenConfig{}, true, req)
	if err != nil || got != "tok-q" {
		t.Fatalf("expected tok-q, got %q %v", got, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?token=tok-q", nil)
	if _, err := serveToken(t, auth.TokenConfig{}, false, req); err == nil {
		t.Fatalf("expected query token to be ignored")
	}
}
