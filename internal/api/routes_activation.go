package api

import (
	"github.com/gin-gonic/gin"

	"github.com/veritashealth/invitegate/internal/handlers"
)

func registerActivationRoutes(r *gin.Engine, handler *handlers.ActivationHandler) {
	r.POST("/api/activation", handler.Activate)
}
