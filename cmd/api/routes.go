package main

import (
	"context"
	"net/http"
	"time"

	"sdr-backend/internal/app"
	"sdr-backend/internal/httpapi"
	"sdr-backend/internal/rbac"
	"sdr-backend/internal/webhook"

	"github.com/gin-gonic/gin"
)

// registerPublicRoutes wires unauthenticated endpoints.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerPublicRoutes(r *gin.Engine, a *app.App, intake *webhook.Handler, h httpapi.Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := a.Ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// Gateway webhooks. Authenticated by the shared secret header when configured.
	r.POST("/webhooks/evolution", intake.Evolution)

	r.POST("/v1/auth/refresh", h.Refresh)
}

// registerAdminRoutes wires the operator API behind access tokens.
func registerAdminRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)

		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireOperatorAndAnyRole(rbac.RoleOperator, rbac.RoleSuperAdmin)...)
		{
			admin.POST("/reengagement/run", h.RunReengagement)
			admin.GET("/debounce", h.DebounceStats)
		}
	}
}
