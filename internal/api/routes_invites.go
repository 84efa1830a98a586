package api

import (
	"github.com/gin-gonic/gin"

	"github.com/veritashealth/invitegate/internal/handlers"
	"github.com/veritashealth/invitegate/internal/middleware"
)

func registerInviteRoutes(r *gin.Engine, handler *handlers.InviteHandler, portalKey string) {
	invites := r.Group("/api/invites")
	invites.Use(middleware.PortalAuth(portalKey))
	invites.POST("", handler.Create)
}
