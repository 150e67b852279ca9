package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streampulse/internal/core/ports"
	"streampulse/internal/core/services"
	httphandlers "streampulse/internal/handlers/http"
	"streampulse/internal/infrastructure/ingest"
	"streampulse/internal/infrastructure/middleware"
	"streampulse/internal/infrastructure/monitoring"
	redisrepo "streampulse/internal/infrastructure/repositories/redis"
	"streampulse/internal/infrastructure/ws"
	"streampulse/pkg/config"
	"streampulse/pkg/logger"
	"streampulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func engineOptions(cfg *config.Config) services.Options {
	t := cfg.Monitoring.Thresholds
	return services.Options{
		Thresholds: services.Thresholds{
			MinBitrate:       t.MinBitrate,
			MaxBitrate:       t.MaxBitrate,
			MinFPS:           t.MinFPS,
			MaxFrameDropRate: t.MaxFrameDropRate,
			MaxLatency:       t.MaxLatency,
			MinCompositorFPS: t.MinCompositorFPS,
			MaxPacketLoss:    t.MaxPacketLoss,
		},
		HistoryCapacity:     cfg.Monitoring.HistorySize,
		AggregatedRetention: cfg.Monitoring.AggregatedRetention,
		AlertRetention:      cfg.Monitoring.AlertRetention,
		CollectionInterval:  cfg.Monitoring.CollectionInterval,
		AggregationInterval: cfg.Monitoring.AggregationInterval,
		CleanupInterval:     cfg.Monitoring.CleanupInterval,
	}
}

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"/etc/streampulse/config.yaml",
		"config.yaml",
	}

	configPath := ""
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			configPath = path
			break
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		stdlog.Printf("invalid config %s: %v; falling back to defaults", configPath, err)
		cfg = config.DefaultConfig()
		configPath = ""
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		ServiceName: "streampulse",
		JaegerURL:   cfg.Telemetry.Tracing.JaegerEndpoint,
		Environment: os.Getenv("STREAMPULSE_ENV"),
		SampleRate:  cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize persistence sink (optional)
	var sink ports.MetricsSink
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			log,
		)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		sink = redisrepo.NewRedisMetricsSink(client, cfg.Redis.KeyPrefix)
	}

	// Initialize engine
	engine := services.NewMonitoringService(engineOptions(cfg), sink, log)

	ctx, stop := context.WithCancel(context.Background())
	engine.Start(ctx)

	// Reload thresholds when the config file changes
	if configPath != "" {
		if err := config.Watch(ctx, configPath, func(next *config.Config) {
			engine.SetThresholds(engineOptions(next).Thresholds)
			log.Infow("thresholds reloaded from config", "path", configPath)
		}); err != nil {
			log.Warnw("config watch unavailable", "error", err)
		}
	}

	// UDP media ingest: probes forward RTP/RTCP datagrams that derive
	// bitrate, frame rate and transport metrics.
	if cfg.Ingest.Enabled {
		sampler := ingest.NewRTPSampler(engine, log)
		adapter := ingest.NewRTCPAdapter(engine, log)
		go sampler.Run(ctx.Done(), cfg.Ingest.FlushInterval)

		udp := ingest.NewUDPServer(sampler, adapter, log)
		rtpAddr, err := udp.ListenRTP(ctx, cfg.Ingest.RTPAddress)
		if err != nil {
			log.Fatalw("failed to bind RTP ingest socket", "address", cfg.Ingest.RTPAddress, "error", err)
		}
		rtcpAddr, err := udp.ListenRTCP(ctx, cfg.Ingest.RTCPAddress)
		if err != nil {
			log.Fatalw("failed to bind RTCP ingest socket", "address", cfg.Ingest.RTCPAddress, "error", err)
		}
		log.Infow("media ingest listening", "rtp", rtpAddr.String(), "rtcp", rtcpAddr.String())
	}

	// WebSocket fan-out
	hub := ws.NewHub(engine, engine, ws.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, log)
	go hub.Run(ctx)

	// Prometheus export
	if cfg.Telemetry.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector()
		go collector.Run(ctx, engine)
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.RequestLoggerMiddleware(zapLogger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	monitorHandler := httphandlers.NewMonitorHandler(engine)
	monitorHandler.SetupRoutes(router)

	router.GET("/ws/monitoring", gin.WrapF(hub.HandleWebSocket))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"clients":   hub.ClientCount(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Telemetry.PrometheusEnabled {
		router.GET(cfg.Telemetry.PrometheusPath, gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting StreamPulse monitor on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down StreamPulse monitor...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		// Force close if graceful shutdown fails
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// Stop background loops and flush state
	stop()
	engine.Shutdown()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("StreamPulse monitor stopped")
}
