package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sdr-backend/internal/auth"
	"sdr-backend/internal/config"
	"sdr-backend/internal/rbac"
	"sdr-backend/internal/reengagement"

	"github.com/gin-gonic/gin"
)

type stubSweeper struct {
	rep reengagement.Report
	err error
}

func (s stubSweeper) Sweep(context.Context) (reengagement.Report, error) { return s.rep, s.err }

type stubPending int

func (p stubPending) Pending() int { return int(p) }

func router(t *testing.T, h Handlers) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h.Auth = m

	r := gin.New()
	r.POST("/v1/auth/refresh", h.Refresh)
	admin := r.Group("/v1/admin", auth.RequireAccessToken(m))
	admin.Use(RequireOperatorAndAnyRole(rbac.RoleOperator)...)
	admin.POST("/reengagement/run", h.RunReengagement)
	admin.GET("/debounce", h.DebounceStats)
	return r, m
}

func do(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunReengagement(t *testing.T) {
	r, m := router(t, Handlers{Sweeper: stubSweeper{rep: reengagement.Report{Acquired: true, Sent: map[int]int{30: 2}}}})
	tok, _ := m.IssueAccess(time.Now(), "op-1", rbac.RoleOperator, 0)

	w := do(r, http.MethodPost, "/v1/admin/reengagement/run", tok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep reengagement.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rep.Acquired || rep.Sent[30] != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunReengagement_Failure(t *testing.T) {
	r, m := router(t, Handlers{Sweeper: stubSweeper{err: errors.New("redis down")}})
	tok, _ := m.IssueAccess(time.Now(), "op-1", rbac.RoleSuperAdmin, 0)

	if w := do(r, http.MethodPost, "/v1/admin/reengagement/run", tok, ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	r, m := router(t, Handlers{Debounce: stubPending(3)})

	if w := do(r, http.MethodGet, "/v1/admin/debounce", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	tok, _ := m.IssueAccess(time.Now(), "op-1", "viewer", 0)
	if w := do(r, http.MethodGet, "/v1/admin/debounce", tok, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	tok, _ = m.IssueAccess(time.Now(), "op-1", rbac.RoleOperator, 0)
	w := do(r, http.MethodGet, "/v1/admin/debounce", tok, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending":3`) {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	r, m := router(t, Handlers{})
	pair, err := m.IssuePair(time.Now(), "op-1", rbac.RoleOperator)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := do(r, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+pair.RefreshToken+`"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("unexpected response %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+pair.AccessToken+`"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token, got %d", w.Code)
	}
}
