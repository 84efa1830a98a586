package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veritashealth/invitegate/internal/api"
	"github.com/veritashealth/invitegate/internal/app"
	iauth "github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/database"
	"github.com/veritashealth/invitegate/internal/dispatch"
	"github.com/veritashealth/invitegate/internal/services"
	"github.com/veritashealth/invitegate/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB     *gorm.DB
	Router *gin.Engine
}

// bootstrapRuntime initialises the database, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(cfg.DatabaseServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	credentials, err := iauth.NewCredentialService(cfg.CredentialServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise credential service: %w", err)
	}

	provider, err := iauth.NewLocalProvider(db, credentials,
		iauth.WithEmailDomain(cfg.Auth.EmailDomain),
		iauth.WithMagicLinkBase(cfg.Auth.MagicLinkBase),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise identity provider: %w", err)
	}

	directory, err := services.NewPatientDirectory(db)
	if err != nil {
		return nil, fmt.Errorf("initialise patient directory: %w", err)
	}

	linker, err := services.NewIdentityLinker(provider, directory)
	if err != nil {
		return nil, fmt.Errorf("initialise identity linker: %w", err)
	}

	invites, err := services.NewInviteService(db,
		services.WithInviteBaseURL(cfg.Invites.BaseURL),
		services.WithInviteExpiry(cfg.Invites.Expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise invite service: %w", err)
	}

	otp := services.NewOTPService(
		services.WithOTPExpiry(cfg.OTP.Expiry),
		services.WithOTPDigits(cfg.OTP.Digits),
	)

	sender, err := buildSender(cfg, log)
	if err != nil {
		return nil, err
	}

	activation, err := services.NewActivationService(invites, directory, otp, linker, sender)
	if err != nil {
		return nil, fmt.Errorf("initialise activation service: %w", err)
	}

	router, err := api.NewRouter(cfg, activation, invites)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	return &runtimeStack{DB: db, Router: router}, nil
}

func buildSender(cfg *app.Config, log *zap.Logger) (dispatch.Sender, error) {
	switch cfg.Dispatch.Mode {
	case "", "log":
		return dispatch.NewLogSender(), nil
	case "smtp_gateway":
		mailer, err := mail.NewSMTPMailer(cfg.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise mailer: %w", err)
		}
		return dispatch.NewGatewaySender(mailer, cfg.Dispatch.GatewayDomain, cfg.Dispatch.From)
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}
}
