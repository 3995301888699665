package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load("")

	assert.Equal(t, "marketplace-settlements", cfg.App.Name)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.False(t, cfg.App.IsProduction())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiry)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, 31, cfg.Scheduler.DayOfMonth)
	assert.Equal(t, "23:59", cfg.Scheduler.TimeOfDay)
	assert.False(t, cfg.SMTP.Configured())
	assert.Empty(t, cfg.Auth.Partners)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"APP_PORT=9090\n"+
			"DB_DRIVER=Postgres\n"+
			"SETTLEMENT_FEE_PERCENTAGE=3.5\n"+
			"AUTH_PARTNER_CREDENTIALS=ka:sa:PA, kb:sb:PB\n"+
			"CORS_ALLOWED_ORIGINS=https://a.example.com, https://b.example.com\n"), 0o600))
	t.Setenv("APP_PORT", "7070")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg := Load(path)

	assert.Equal(t, "7070", cfg.App.Port, "environment wins over the file")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "3.5", cfg.Settlement.FeePercentage)
	assert.True(t, cfg.SMTP.Configured())
	assert.Equal(t, []PartnerCredential{
		{APIKey: "ka", APISecret: "sa", PartnerID: "PA"},
		{APIKey: "kb", APISecret: "sb", PartnerID: "PB"},
	}, cfg.Auth.Partners)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestParsePartnerCredentials(t *testing.T) {
	tests := []struct {
		raw  string
		want []PartnerCredential
	}{
		{raw: "", want: nil},
		{raw: "k:s:PA", want: []PartnerCredential{{APIKey: "k", APISecret: "s", PartnerID: "PA"}}},
		{raw: "k:s", want: nil},
		{raw: "k::PA", want: nil},
		{raw: "bad, k2:s2:PB", want: []PartnerCredential{{APIKey: "k2", APISecret: "s2", PartnerID: "PB"}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parsePartnerCredentials(tt.raw), tt.raw)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: "5432", Name: "settlements", User: "app", Password: "pw", SSLMode: "require", Timezone: "UTC"}
	assert.Equal(t, "host=db user=app password=pw dbname=settlements port=5432 sslmode=require TimeZone=UTC", cfg.DSN())
}

func TestSettlementConfig_EngineConfig(t *testing.T) {
	cfg := SettlementConfig{FeePercentage: "2.9", FixedFee: "0.30", Timezone: "America/New_York"}
	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "2.9", engine.FeePercentage.String())
	assert.Equal(t, "0.3", engine.FixedFee.String())
	assert.Equal(t, "America/New_York", engine.Location.String())

	tests := []struct {
		name string
		cfg  SettlementConfig
	}{
		{name: "bad percentage", cfg: SettlementConfig{FeePercentage: "x", FixedFee: "0.30", Timezone: "UTC"}},
		{name: "bad fixed fee", cfg: SettlementConfig{FeePercentage: "2.9", FixedFee: "", Timezone: "UTC"}},
		{name: "bad timezone", cfg: SettlementConfig{FeePercentage: "2.9", FixedFee: "0.30", Timezone: "Mars/Olympus"}},
		{name: "negative fee", cfg: SettlementConfig{FeePercentage: "-1", FixedFee: "0.30", Timezone: "UTC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.EngineConfig()
			assert.Error(t, err)
		})
	}
}

func TestSchedulerConfig_AutomationSettings(t *testing.T) {
	cfg := SchedulerConfig{
		Enabled:             true,
		DayOfMonth:          31,
		TimeOfDay:           "23:59",
		EmailEnabled:        true,
		RetryAttempts:       3,
		MinSettlementAmount: "10.00",
	}
	settings, err := cfg.AutomationSettings()
	require.NoError(t, err)
	assert.Equal(t, 31, settings.DayOfMonth)
	assert.Equal(t, "10", settings.MinSettlementAmount.String())

	cfg.MinSettlementAmount = "ten"
	_, err = cfg.AutomationSettings()
	assert.Error(t, err)

	cfg.MinSettlementAmount = "10"
	cfg.TimeOfDay = "25:00"
	_, err = cfg.AutomationSettings()
	assert.Error(t, err)
}

func TestSMTPConfig_MailerConfig(t *testing.T) {
	cfg := SMTPConfig{Host: "smtp.example.com", Port: 25, FromEmail: "s@example.com"}
	mailer := cfg.MailerConfig()
	assert.Equal(t, "smtp.example.com", mailer.Host)
	assert.Equal(t, 25, mailer.Port)
	assert.Equal(t, "s@example.com", mailer.FromEmail)
}
