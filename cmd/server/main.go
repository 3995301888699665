package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/marketplace-settlements/internal/auth"
	"github.com/ksred/marketplace-settlements/internal/config"
	"github.com/ksred/marketplace-settlements/internal/database"
	"github.com/ksred/marketplace-settlements/internal/marketplace"
	"github.com/ksred/marketplace-settlements/internal/notification"
	"github.com/ksred/marketplace-settlements/internal/settlement"
	"github.com/ksred/marketplace-settlements/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via APP_DEBUG environment variable
func init() {
	if os.Getenv("APP_ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("APP_DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the settlement API server and the monthly scheduler with
// graceful shutdown support
func main() {
	cfg := config.Load(".env")

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	engineConfig, err := cfg.Settlement.EngineConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid settlement configuration")
	}
	automationSettings, err := cfg.Scheduler.AutomationSettings()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid scheduler configuration")
	}

	emailTemplate := ""
	if path := cfg.Settlement.EmailTemplatePath; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			zlog.Fatal().Err(err).Str("path", path).Msg("Failed to read email template")
		}
		emailTemplate = string(raw)
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	authHandlers := auth.NewGinHandlers(authService)
	if err := authService.RegisterAPICredentials(cfg.Auth.AdminAPIKey, cfg.Auth.AdminAPISecret, auth.RolePlatformAdmin, ""); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to register admin credentials")
	}
	for _, partner := range cfg.Auth.Partners {
		if err := authService.RegisterAPICredentials(partner.APIKey, partner.APISecret, auth.RolePartnerAdmin, partner.PartnerID); err != nil {
			zlog.Fatal().Err(err).Str("partner_id", partner.PartnerID).Msg("Failed to register partner credentials")
		}
	}

	marketplaceService := marketplace.NewService(db)
	marketplaceHandlers := marketplace.NewGinHandlers(marketplaceService)

	var mailer settlement.Mailer
	if cfg.SMTP.Configured() {
		mailer = notification.NewSMTPMailer(cfg.SMTP.MailerConfig())
	} else {
		zlog.Warn().Msg("SMTP not configured, settlement emails will only be logged")
		mailer = notification.NewLogMailer()
	}

	calculator, err := settlement.NewCalculator(engineConfig)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create settlement calculator")
	}
	reports, err := settlement.NewReportGenerator(emailTemplate)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to parse email template")
	}

	settlementService, err := settlement.NewService(
		calculator,
		reports,
		marketplaceService,
		settlement.NewDatabase(db),
		mailer,
		automationSettings,
	)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create settlement service")
	}
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Create and start the monthly settlement scheduler
	settlementProcessor := settlement.NewProcessor(settlementService, cfg.Scheduler.CheckInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go settlementProcessor.Start(processorCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg, authHandlers, marketplaceHandlers, settlementHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.App.Port).Str("env", cfg.App.Env).Msg("Settlement API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public token exchange
// - Settlement routes: JWT, with batch and export routes limited to platform admins
// - Internal routes: snapshot ingestion from the marketplace backend
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	marketplaceHandlers *marketplace.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		settlements := v1.Group("/settlements")
		settlements.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			settlements.GET("/fee", settlementHandlers.QuoteFeeHandler())
			settlements.GET("/partners/:partner_id", settlementHandlers.PartnerSettlementHandler())
			settlements.GET("/partners/:partner_id/report", settlementHandlers.PartnerReportHandler())

			admin := settlements.Group("")
			admin.Use(middleware.RequireRole(auth.RolePlatformAdmin))
			{
				admin.GET("/monthly", settlementHandlers.MonthlySettlementsHandler())
				admin.GET("/monthly/export", settlementHandlers.ExportMonthlyHandler())
				admin.GET("/runs", settlementHandlers.ListRunsHandler())
				admin.GET("/runs/:run_id", settlementHandlers.GetRunHandler())
				admin.GET("/automation", settlementHandlers.GetAutomationHandler())
				admin.PUT("/automation", settlementHandlers.UpdateAutomationHandler())
				admin.POST("/automation/run", settlementHandlers.RunNowHandler())
			}
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.InternalKey))
		{
			internal.POST("/partners", marketplaceHandlers.UpsertPartnersHandler())
			internal.POST("/products", marketplaceHandlers.UpsertProductsHandler())
			internal.POST("/orders", marketplaceHandlers.UpsertOrdersHandler())
			internal.GET("/orders/:order_id", marketplaceHandlers.GetOrderHandler())
		}
	}
}
