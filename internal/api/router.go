package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veritashealth/invitegate/internal/app"
	"github.com/veritashealth/invitegate/internal/handlers"
	"github.com/veritashealth/invitegate/internal/middleware"
	"github.com/veritashealth/invitegate/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, activation *services.ActivationService, invites *services.InviteService) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if activation == nil {
		return nil, fmt.Errorf("activation service must be provided")
	}
	if invites == nil {
		return nil, fmt.Errorf("invite service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	// Activation is brute-forceable by OTP guessing; keep the window tight.
	r.Use(middleware.RateLimit(30, time.Minute))

	registerHealthRoutes(r)

	if cfg.Monitoring.Prometheus.Enabled {
		r.GET(cfg.Monitoring.Prometheus.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	registerActivationRoutes(r, handlers.NewActivationHandler(activation))
	registerInviteRoutes(r, handlers.NewInviteHandler(invites), cfg.Portal.APIKey)

	return r, nil
}
