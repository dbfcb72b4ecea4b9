package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/outcomes/outcomes/internal/config"
	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/domain/flag"
	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/domain/quality"
	"github.com/outcomes/outcomes/internal/platform/auth"
	"github.com/outcomes/outcomes/internal/platform/db"
	"github.com/outcomes/outcomes/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "outcomes-server",
		Short: "Clinical outcomes scoring and flagging service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

// newEcho builds the HTTP server with global middleware and every route.
func newEcho(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", db.HealthHandler(a.pool, a.healthChecks()...))
	e.GET("/health/db", db.HealthHandler(a.pool))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	apiV1.Use(db.TenantMiddleware(a.pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	measure.NewHandler(a.measures).RegisterRoutes(apiV1)
	client.NewHandler(a.clients).RegisterRoutes(apiV1)
	flag.NewHandler(a.flags).RegisterRoutes(apiV1)
	quality.NewHandler(a.quality).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.close()

	e := newEcho(a)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
