package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/api"
	"github.com/RobertoIHH/MQ7ServerWifi/config"
	"github.com/RobertoIHH/MQ7ServerWifi/log"
	"github.com/RobertoIHH/MQ7ServerWifi/models"
	"github.com/RobertoIHH/MQ7ServerWifi/services"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	cfg.Log(logger)

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
		time.Local = loc
	}

	// Create context for background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Daily log store and extrema
	store, err := services.NewFileLogStore(cfg.DataDir, time.Local, logger)
	if err != nil {
		logger.Fatal("Failed to initialize log store", zap.Error(err))
	}

	extrema := services.NewExtremaTracker()
	if _, err := extrema.Seed(store, logger); err != nil {
		logger.Warn("Failed to load historical extrema", zap.Error(err))
	}

	// Optional record mirrors
	sinks := buildSinks(ctx, cfg, logger)
	var mirror *services.MirrorService
	if len(sinks) > 0 {
		mirror = services.NewMirrorService(cfg.MirrorBuffer, logger, sinks...)
		go mirror.Start(ctx)
	}

	defaultGas, _ := models.ParseMode(cfg.DefaultGas)
	opts := []services.HubOption{
		services.WithDefaultGas(defaultGas),
		services.WithModeChangeTimeout(cfg.ModeChangeTimeout),
	}
	if mirror != nil {
		opts = append(opts, services.WithMirror(mirror))
	}

	// Optional sensor alerts
	if cfg.TelegramBotToken != "" {
		telegramService, err := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("Failed to initialize Telegram service, alerts disabled", zap.Error(err))
		} else {
			if err := telegramService.SendStartupMessage(cfg.Port); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
			opts = append(opts, services.WithNotifier(telegramService))
		}
	}

	hub := services.NewHub(store, extrema, logger, opts...)

	liveness := services.NewLivenessMonitor(hub, cfg.LivenessInterval, cfg.LivenessTimeout, logger)
	go liveness.Start(ctx)

	// HTTP surface
	router := api.NewRouter(
		api.NewServer(hub, store, logger),
		services.NewWebSocketHandler(hub, logger),
		cfg.PublicDir,
	)
	handler := handlers.LoggingHandler(os.Stdout, handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(router))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("MQ-7 relay listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received, stopping services", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	hub.Shutdown()

	// Cancel context to stop all background workers
	cancel()

	if mirror != nil {
		if mirror.WaitForShutdown(5 * time.Second) {
			logger.Info("Record mirror stopped")
		} else {
			logger.Warn("Record mirror shutdown timeout")
		}
	}

	logger.Info("MQ-7 relay stopped")
}

// buildSinks connects every mirror that is configured. A sink that fails to
// connect is logged and skipped so the relay still starts.
func buildSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) []services.RecordSink {
	var sinks []services.RecordSink

	if cfg.MQTTBroker != "" {
		sink, err := services.NewMQTTSink(cfg.MQTTBroker, cfg.MQTTUser, cfg.MQTTPass, cfg.MQTTTopic, logger)
		if err != nil {
			logger.Error("Failed to initialize MQTT mirror", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.RabbitMQURL != "" {
		sink, err := services.NewRabbitMQSink(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.RabbitMQRoutingKey, logger)
		if err != nil {
			logger.Error("Failed to initialize RabbitMQ mirror", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, services.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
	}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, services.NewWebhookSink(cfg.WebhookURL, logger))
	}

	if cfg.FirebaseDbUrl != "" {
		firebaseService, err := services.NewFirebaseService(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, time.Local, logger)
		if err != nil {
			logger.Error("Failed to initialize Firebase mirror", zap.Error(err))
		} else {
			batchWriter := services.NewBatchWriterService(
				firebaseService,
				cfg.FirebaseBatchSize,
				time.Duration(cfg.FirebaseBatchTimeout)*time.Second,
				logger,
			)
			go batchWriter.Run()
			sinks = append(sinks, batchWriter)
		}
	}

	return sinks
}
