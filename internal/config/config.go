package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ksred/marketplace-settlements/internal/notification"
	"github.com/ksred/marketplace-settlements/internal/settlement"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Auth       AuthConfig
	Settlement SettlementConfig
	Scheduler  SchedulerConfig
	SMTP       SMTPConfig
	CORS       CORSConfig
}

type AppConfig struct {
	Name  string
	Env   string
	Port  string
	Debug bool
}

func (c AppConfig) IsProduction() bool {
	return c.Env == "production"
}

type DatabaseConfig struct {
	Driver     string // sqlite or postgres
	SQLitePath string
	Host       string
	Port       string
	Name       string
	User       string
	Password   string
	SSLMode    string
	Timezone   string
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// AuthConfig holds the bootstrap credentials registered at startup.
type AuthConfig struct {
	AdminAPIKey    string
	AdminAPISecret string
	InternalKey    string
	Partners       []PartnerCredential
}

// PartnerCredential is an API key scoped to one partner's settlements.
type PartnerCredential struct {
	APIKey    string
	APISecret string
	PartnerID string
}

type SettlementConfig struct {
	FeePercentage     string
	FixedFee          string
	Timezone          string
	EmailTemplatePath string
}

type SchedulerConfig struct {
	Enabled             bool
	DayOfMonth          int
	TimeOfDay           string
	CheckInterval       time.Duration
	EmailEnabled        bool
	RetryAttempts       int
	MinSettlementAmount string
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "marketplace-settlements")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_DEBUG", false)
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_SQLITE_PATH", "settlements.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "settlements")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("JWT_SECRET", "change-this-secret-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("AUTH_ADMIN_API_KEY", "admin-api-key")
	v.SetDefault("AUTH_ADMIN_API_SECRET", "admin-api-secret")
	v.SetDefault("AUTH_INTERNAL_KEY", "internal-key")
	v.SetDefault("AUTH_PARTNER_CREDENTIALS", "")
	v.SetDefault("SETTLEMENT_FEE_PERCENTAGE", "2.9")
	v.SetDefault("SETTLEMENT_FIXED_FEE", "0.30")
	v.SetDefault("SETTLEMENT_TIMEZONE", "Local")
	v.SetDefault("SETTLEMENT_EMAIL_TEMPLATE_PATH", "")
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_DAY_OF_MONTH", 31)
	v.SetDefault("SCHEDULER_TIME_OF_DAY", "23:59")
	v.SetDefault("SCHEDULER_CHECK_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_EMAIL_ENABLED", true)
	v.SetDefault("SCHEDULER_RETRY_ATTEMPTS", 3)
	v.SetDefault("SCHEDULER_MIN_SETTLEMENT_AMOUNT", "10.00")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM_NAME", "Marketplace Settlements")
	v.SetDefault("SMTP_FROM_EMAIL", "settlements@example.com")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
}

// Load reads configuration from the .env file at path, if present, and the
// environment. Environment variables win.
func Load(path string) *Config {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Msg(".env file not found, using environment variables")
		}
	}

	return &Config{
		App: AppConfig{
			Name:  v.GetString("APP_NAME"),
			Env:   v.GetString("APP_ENV"),
			Port:  v.GetString("APP_PORT"),
			Debug: v.GetBool("APP_DEBUG"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			SQLitePath: v.GetString("DB_SQLITE_PATH"),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetString("DB_PORT"),
			Name:       v.GetString("DB_NAME"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			SSLMode:    v.GetString("DB_SSL_MODE"),
			Timezone:   v.GetString("DB_TIMEZONE"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
			Expiry: time.Duration(v.GetInt("JWT_EXPIRY_HOURS")) * time.Hour,
		},
		Auth: AuthConfig{
			AdminAPIKey:    v.GetString("AUTH_ADMIN_API_KEY"),
			AdminAPISecret: v.GetString("AUTH_ADMIN_API_SECRET"),
			InternalKey:    v.GetString("AUTH_INTERNAL_KEY"),
			Partners:       parsePartnerCredentials(v.GetString("AUTH_PARTNER_CREDENTIALS")),
		},
		Settlement: SettlementConfig{
			FeePercentage:     v.GetString("SETTLEMENT_FEE_PERCENTAGE"),
			FixedFee:          v.GetString("SETTLEMENT_FIXED_FEE"),
			Timezone:          v.GetString("SETTLEMENT_TIMEZONE"),
			EmailTemplatePath: v.GetString("SETTLEMENT_EMAIL_TEMPLATE_PATH"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("SCHEDULER_ENABLED"),
			DayOfMonth:          v.GetInt("SCHEDULER_DAY_OF_MONTH"),
			TimeOfDay:           v.GetString("SCHEDULER_TIME_OF_DAY"),
			CheckInterval:       v.GetDuration("SCHEDULER_CHECK_INTERVAL"),
			EmailEnabled:        v.GetBool("SCHEDULER_EMAIL_ENABLED"),
			RetryAttempts:       v.GetInt("SCHEDULER_RETRY_ATTEMPTS"),
			MinSettlementAmount: v.GetString("SCHEDULER_MIN_SETTLEMENT_AMOUNT"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("SMTP_HOST"),
			Port:      v.GetInt("SMTP_PORT"),
			Username:  v.GetString("SMTP_USERNAME"),
			Password:  v.GetString("SMTP_PASSWORD"),
			FromName:  v.GetString("SMTP_FROM_NAME"),
			FromEmail: v.GetString("SMTP_FROM_EMAIL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePartnerCredentials reads "key:secret:partner_id" entries separated by
// commas. Malformed entries are logged and dropped.
func parsePartnerCredentials(raw string) []PartnerCredential {
	var creds []PartnerCredential
	for i, entry := range splitList(raw) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			log.Warn().Int("position", i).Msg("ignoring malformed partner credential")
			continue
		}
		creds = append(creds, PartnerCredential{APIKey: parts[0], APISecret: parts[1], PartnerID: parts[2]})
	}
	return creds
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.Timezone
}

// EngineConfig converts the fee schedule and timezone for the settlement engine.
func (c *SettlementConfig) EngineConfig() (settlement.Config, error) {
	pct, err := decimal.NewFromString(c.FeePercentage)
	if err != nil {
		return settlement.Config{}, fmt.Errorf("SETTLEMENT_FEE_PERCENTAGE: %w", err)
	}
	fixed, err := decimal.NewFromString(c.FixedFee)
	if err != nil {
		return settlement.Config{}, fmt.Errorf("SETTLEMENT_FIXED_FEE: %w", err)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return settlement.Config{}, fmt.Errorf("SETTLEMENT_TIMEZONE: %w", err)
	}

	cfg := settlement.Config{FeePercentage: pct, FixedFee: fixed, Location: loc}
	return cfg, cfg.Validate()
}

func (c *SchedulerConfig) AutomationSettings() (settlement.AutomationSettings, error) {
	minAmount, err := decimal.NewFromString(c.MinSettlementAmount)
	if err != nil {
		return settlement.AutomationSettings{}, fmt.Errorf("SCHEDULER_MIN_SETTLEMENT_AMOUNT: %w", err)
	}
	settings := settlement.AutomationSettings{
		Enabled:             c.Enabled,
		DayOfMonth:          c.DayOfMonth,
		TimeOfDay:           c.TimeOfDay,
		EmailEnabled:        c.EmailEnabled,
		RetryAttempts:       c.RetryAttempts,
		MinSettlementAmount: minAmount,
	}
	return settings, settings.Validate()
}

// Configured reports whether an SMTP relay has been set.
func (c *SMTPConfig) Configured() bool {
	return c.Host != ""
}

func (c *SMTPConfig) MailerConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.Username,
		Password:  c.Password,
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
	}
}
