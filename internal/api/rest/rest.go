package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-marketplace/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		// Public reads
		v1.GET("/supply", handler.GetSupply)
		v1.GET("/tokens/:id", handler.GetToken)
		v1.GET("/tokens/:id/events", handler.GetTokenEvents)

		// "mine" falls back to the authenticated caller when no owner is given
		v1.GET("/gallery", middleware.OptionalAuth(authCfg), handler.GetGallery)

		// Ledger transitions act on behalf of the JWT subject
		authed := v1.Group("", middleware.Auth(authCfg))
		authed.POST("/tokens", handler.Mint)
		authed.POST("/tokens/:id/list", handler.List)
		authed.POST("/tokens/:id/cancel", handler.Cancel)
		authed.POST("/tokens/:id/buy", handler.Buy)
		authed.POST("/upload", handler.Upload)
		authed.POST("/gallery/refresh", handler.RefreshGallery)
		authed.GET("/proceeds", handler.GetProceeds)
		authed.POST("/proceeds/withdraw", handler.WithdrawProceeds)
	}
}
