package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proctorlink/internal/core/ports"
	"proctorlink/internal/core/services"
	httphandlers "proctorlink/internal/handlers/http"
	"proctorlink/internal/infrastructure/analysis"
	"proctorlink/internal/infrastructure/middleware"
	"proctorlink/internal/infrastructure/monitoring"
	"proctorlink/internal/infrastructure/relay"
	"proctorlink/internal/infrastructure/repositories"
	"proctorlink/pkg/config"
	"proctorlink/pkg/logger"
	"proctorlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	cfg, err := config.LoadFirst(
		"configs/config.yaml",
		"/etc/proctorlink/config.yaml",
		"config.yaml",
	)
	if err != nil {
		stdlog.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	// Initialize repositories
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	registry := repoFactory.CreateSessionRegistry()

	// Initialize services
	var analyzer ports.Analyzer
	if cfg.Relay.AnalyzerURL != "" {
		analyzer = analysis.NewHTTPAnalyzer(cfg.Relay.AnalyzerURL, cfg.Relay.WriteTimeout)
		log.Infow("using external analysis service", "url", cfg.Relay.AnalyzerURL)
	} else {
		analyzer = analysis.NewPassthroughAnalyzer()
		log.Info("no analyzer configured, accepting all frames as clear")
	}

	pairingService := services.NewPairingService(cfg.Auth.PairingSecret, cfg.Auth.PairingTokenTTL)

	// Initialize monitoring
	prometheusCollector := monitoring.NewPrometheusCollector()

	// Initialize WebSocket server
	wsServer := relay.NewWebSocketServer(analyzer, registry, prometheusCollector, log)
	wsServer.SetPingInterval(cfg.Relay.PingInterval)

	// Initialize HTTP handlers
	relayHandler := httphandlers.NewRelayHandler(
		analyzer,
		registry,
		pairingService,
		wsServer,
		prometheusCollector,
		cfg.Engine.LivenessWindow,
		log,
	)

	// Expire sessions that fell out of the liveness window
	sweeper := relay.NewRegistrySweeper(registry, prometheusCollector, cfg.Engine.LivenessWindow, relayHandler.EvictSession, log)
	sweeper.Start()
	defer sweeper.Stop()

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.RateLimitMiddleware(cfg))

	relayHandler.SetupRoutes(router)

	// Readiness endpoint (checks Redis when enabled)
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
			"uptime":       time.Since(startTime).String(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Relay.Address,
		Handler:      router,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting ProctorLink relay server on %s", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down ProctorLink relay server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	log.Info("ProctorLink relay server stopped")
}
