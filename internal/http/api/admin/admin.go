// Package admin registers the console API behind admin JWT authentication.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/solaivr/giftline/internal/config"
	"github.com/solaivr/giftline/internal/http/api/admin/handlers"
	"github.com/solaivr/giftline/internal/models"
	"github.com/solaivr/giftline/internal/security"
	"gorm.io/gorm"
)

// Deps carries the collaborators the console handlers need.
type Deps struct {
	DB           *gorm.DB
	JWT          config.JWTConfig
	Gifts        handlers.GiftStore
	Orchestrator handlers.Orchestrator
	Activity     handlers.ActivityReader
	Lockout      handlers.LoginLockout
	Notifier     handlers.LockoutNotifier
	UnmaskPIN    string
	Pinger       handlers.Pinger
}

// RegisterAdminRoutes registers /healthz and every /admin route.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.Pinger)
	r.GET("/healthz", healthHandler.Healthz)

	group := r.Group("/admin")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWT, deps.Lockout, deps.Notifier)
	group.POST("/login", authHandler.Login)

	authed := group.Group("")
	authed.Use(adminAuthMiddleware(deps.DB, deps.JWT))

	authed.GET("/me", authHandler.Me)

	giftHandler := handlers.NewGiftHandler(deps.DB, deps.Gifts, deps.Orchestrator, deps.UnmaskPIN)
	authed.GET("/gift-by-phone", giftHandler.GetByPhone)
	authed.GET("/gifts", giftHandler.List)
	authed.POST("/gifts", giftHandler.Create)
	authed.POST("/unmask-card", giftHandler.UnmaskCard)
	authed.POST("/toggle-gift", giftHandler.Toggle)

	bulkHandler := handlers.NewBulkHandler(deps.Gifts, deps.Orchestrator)
	authed.POST("/bulk-deactivate", bulkHandler.Deactivate)

	activityHandler := handlers.NewActivityHandler(deps.Activity)
	authed.GET("/activity", activityHandler.List)

	mfaHandler := handlers.NewMFAHandler(deps.DB)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	settingsHandler := handlers.NewSettingsHandler(deps.DB)
	authed.GET("/settings", settingsHandler.List)
	authed.PUT("/settings/:key", settingsHandler.Put)
}

// adminAuthMiddleware validates the bearer token and loads the active admin.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).Select("id", "username", "active").First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
