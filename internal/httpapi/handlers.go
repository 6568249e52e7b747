package httpapi

import (
	"context"
	"net/http"
	"time"

	"sdr-backend/internal/auth"
	"sdr-backend/internal/rbac"
	"sdr-backend/internal/reengagement"
	"sdr-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Sweeper runs one reengagement pass.
type Sweeper interface {
	Sweep(ctx context.Context) (reengagement.Report, error)
}

// PendingCounter reports open debounce accumulators.
type PendingCounter interface {
	Pending() int
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Sweeper  Sweeper
	Debounce PendingCounter
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair. Operators get their
// first pair from the opstoken command.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"operator_id": id, "role": role})
}

// --- Admin ---

// RunReengagement runs one sweep inline and returns its report. A contended
// lock is a normal 200 with acquired=false.
func (h Handlers) RunReengagement(c *gin.Context) {
	if h.Sweeper == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reengagement not configured"})
		return
	}
	log := logger.FromGin(c)
	operator, _ := auth.OperatorID(c.Request.Context())

	rep, err := h.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		log.Error("manual reengagement sweep failed", "operator_id", operator, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sweep failed"})
		return
	}
	log.Info("manual reengagement sweep", "operator_id", operator, "acquired", rep.Acquired, "sent", rep.Sent, "handoffs", rep.Handoffs)
	c.JSON(http.StatusOK, rep)
}

func (h Handlers) DebounceStats(c *gin.Context) {
	if h.Debounce == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "pending": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "pending": h.Debounce.Pending()})
}

// Convenience middleware bundles.

func RequireOperatorAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOperator(), rbac.RequireAnyRole(roles...)}
}
