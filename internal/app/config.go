package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/veritashealth/invitegate/internal/auth"
	"github.com/veritashealth/invitegate/internal/database"
	"github.com/veritashealth/invitegate/pkg/mail"
)

// Config represents the runtime configuration for the invite activation service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Invites    InvitesConfig    `mapstructure:"invites"`
	OTP        OTPConfig        `mapstructure:"otp"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Email      EmailConfig      `mapstructure:"email"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Name     string            `mapstructure:"name"`
	Options  map[string]string `mapstructure:"options"`
}

// AuthConfig configures credential issuance.
type AuthConfig struct {
	Secret        string        `mapstructure:"secret"`
	Issuer        string        `mapstructure:"issuer"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
	MagicLinkBase string        `mapstructure:"magic_link_base"`
	EmailDomain   string        `mapstructure:"email_domain"`
}

// InvitesConfig controls invite issuance.
type InvitesConfig struct {
	Expiry  time.Duration `mapstructure:"expiry"`
	BaseURL string        `mapstructure:"base_url"`
}

// OTPConfig controls one-time code challenges.
type OTPConfig struct {
	Expiry time.Duration `mapstructure:"expiry"`
	Digits int           `mapstructure:"digits"`
}

// DispatchConfig selects how OTP messages leave the system.
type DispatchConfig struct {
	Mode          string `mapstructure:"mode"` // log | smtp_gateway
	GatewayDomain string `mapstructure:"gateway_domain"`
	From          string `mapstructure:"from"`
}

// EmailConfig carries SMTP settings for the gateway sender.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig mirrors pkg/mail.SMTPSettings.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PortalConfig authenticates the doctor-portal backend.
type PortalConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// MonitoringConfig enables metrics endpoints.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// DatabaseServiceConfig converts the loaded settings into a database.Config.
func (c *Config) DatabaseServiceConfig() database.Config {
	return database.Config{
		Driver:   c.Database.Driver,
		Path:     c.Database.Path,
		DSN:      c.Database.DSN,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Name:     c.Database.Name,
		Options:  c.Database.Options,
	}
}

// CredentialServiceConfig converts the loaded settings into an auth.CredentialConfig.
func (c *Config) CredentialServiceConfig() auth.CredentialConfig {
	return auth.CredentialConfig{
		Secret: c.Auth.Secret,
		Issuer: c.Auth.Issuer,
		TTL:    c.Auth.CredentialTTL,
	}
}

// SMTPSettings converts the loaded settings into mail.SMTPSettings.
func (c *Config) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.Email.SMTP.Enabled,
		Host:     c.Email.SMTP.Host,
		Port:     c.Email.SMTP.Port,
		Username: c.Email.SMTP.Username,
		Password: c.Email.SMTP.Password,
		From:     c.Email.SMTP.From,
		UseTLS:   c.Email.SMTP.UseTLS,
		Timeout:  c.Email.SMTP.Timeout,
	}
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("config: auth.secret is required")
	}
	if c.Dispatch.Mode == "smtp_gateway" && strings.TrimSpace(c.Dispatch.GatewayDomain) == "" {
		return errors.New("config: dispatch.gateway_domain is required for smtp_gateway mode")
	}
	return nil
}

// LoadConfig reads configuration from disk and environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("INVITEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/invitegate.sqlite")

	v.SetDefault("auth.issuer", "invitegate")
	v.SetDefault("auth.credential_ttl", "15m")
	v.SetDefault("auth.email_domain", "patients.invitegate.local")

	v.SetDefault("invites.expiry", "168h") // 7 days
	v.SetDefault("otp.expiry", "10m")
	v.SetDefault("otp.digits", 6)

	v.SetDefault("dispatch.mode", "log")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
