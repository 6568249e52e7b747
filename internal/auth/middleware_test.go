package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sdr-backend/internal/config"

	"github.com/gin-gonic/gin"
)

func serveWithToken(t *testing.T, m *Manager, header string) (int, map[string]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/v1/me", RequireAccessToken(m), func(c *gin.Context) {
		id, ok := IdentityFrom(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"operator_id": id.OperatorID, "role": id.Role})
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if header != "" {
		req.Header.Set(authorizationHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestRequireAccessToken_PutsIdentityOnContext(t *testing.T) {
	m := testManager(t)
	tok, err := m.IssueAccess(time.Now(), "op-7", "operator", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	code, body := serveWithToken(t, m, "bearer "+tok)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["operator_id"] != "op-7" || body["role"] != "operator" {
		t.Fatalf("unexpected identity: %v", body)
	}
}

func TestRequireAccessToken_Rejections(t *testing.T) {
	m := testManager(t)
	expired, err := m.IssueAccess(time.Now().Add(-time.Hour), "op", "operator", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	pair, err := m.IssuePair(time.Now(), "op", "operator")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "missing bearer token"},
		{"wrong scheme", "Basic abc", "missing bearer token"},
		{"empty token", "Bearer   ", "missing bearer token"},
		{"expired", "Bearer " + expired, "token expired"},
		{"refresh token", "Bearer " + pair.RefreshToken, "invalid token"},
		{"garbage", "Bearer not-a-jwt", "invalid token"},
	}
	for _, tc := range cases {
		code, body := serveWithToken(t, m, tc.header)
		if code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, code)
		}
		if body["error"] != tc.want {
			t.Fatalf("%s: error = %q, want %q", tc.name, body["error"], tc.want)
		}
	}
}

func TestOperatorIDRequiresIdentity(t *testing.T) {
	if _, err := OperatorID(context.Background()); err == nil {
		t.Fatalf("expected error without identity")
	}
}
