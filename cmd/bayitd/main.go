// Bayitd is a WhatsApp task-intake daemon for households.
//
// It receives Green API webhook notifications, turns messages into
// structured tasks through Anthropic extraction, drives clarification
// and calendar-poll conversations, and sends a daily morning summary.
//
// Usage:
//
//	# Start with defaults plus environment overrides
//	GREENAPI_INSTANCE_ID=1101234567 GREENAPI_TOKEN=... ANTHROPIC_API_KEY=... bayitd
//
//	# Start with a config file
//	bayitd -config /etc/bayitd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/calendar"
	"github.com/fyrsmithlabs/bayitd/internal/config"
	"github.com/fyrsmithlabs/bayitd/internal/extraction"
	"github.com/fyrsmithlabs/bayitd/internal/httpserver"
	"github.com/fyrsmithlabs/bayitd/internal/logging"
	"github.com/fyrsmithlabs/bayitd/internal/orchestrator"
	"github.com/fyrsmithlabs/bayitd/internal/push"
	"github.com/fyrsmithlabs/bayitd/internal/store"
	"github.com/fyrsmithlabs/bayitd/internal/summary"
	"github.com/fyrsmithlabs/bayitd/internal/telemetry"
	"github.com/fyrsmithlabs/bayitd/internal/transcribe"
	"github.com/fyrsmithlabs/bayitd/internal/whatsapp"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  bayitd           Start the bayitd daemon\n")
			fmt.Fprintf(os.Stderr, "  bayitd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("bayitd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires all components and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting bayitd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
	)

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Observability.EnableTelemetry,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.MetricsEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer db.Close()

	if err := db.Warmup(ctx); err != nil {
		return fmt.Errorf("task store warmup failed: %w", err)
	}

	gateway, err := whatsapp.NewClient(whatsapp.Config{
		InstanceID: cfg.GreenAPI.InstanceID,
		Token:      cfg.GreenAPI.Token,
		BaseURL:    cfg.GreenAPI.BaseURL,
		Timeout:    cfg.GreenAPI.Timeout,
	}, logger.Named("greenapi"))
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	extractor, err := extraction.NewClient(extraction.Config{
		APIKey:    cfg.Anthropic.APIKey,
		Model:     cfg.Anthropic.Model,
		BaseURL:   cfg.Anthropic.BaseURL,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Timeout:   cfg.Anthropic.Timeout,
	}, logger.Named("extraction"))
	if err != nil {
		return fmt.Errorf("failed to create extraction client: %w", err)
	}

	transcriber := transcribe.NewClient(transcribe.Config{
		APIKey:       cfg.Speech.APIKey,
		LanguageCode: cfg.Speech.LanguageCode,
		SampleRate:   cfg.Speech.SampleRate,
	}, logger.Named("transcribe"))

	calendarClient := calendar.NewClient(calendar.Config{
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RefreshToken: cfg.Calendar.RefreshToken,
		CalendarID:   cfg.Calendar.CalendarID,
		Timezone:     cfg.Calendar.Timezone,
	}, logger.Named("calendar"))

	notifier := push.NewDispatcher(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:         cfg.Push.Subject,
	}, logger.Named("push"))

	orch := orchestrator.New(orchestrator.Deps{
		Gateway:     gateway,
		Extractor:   extractor,
		Store:       db,
		Calendar:    calendarClient,
		Notifier:    notifier,
		Transcriber: transcriber,
	}, orchestrator.Config{
		ClarifyTTL: cfg.Sessions.ClarifyTTL,
		PollTTL:    cfg.Sessions.PollTTL,
	}, logger.Named("orchestrator"))
	defer orch.Close()

	summarySvc, err := summary.NewService(summary.Config{
		Enabled:   cfg.Summary.Enabled,
		Schedule:  cfg.Summary.Schedule,
		Timezone:  cfg.Summary.Timezone,
		Latitude:  cfg.Summary.Latitude,
		Longitude: cfg.Summary.Longitude,
	}, db, gateway, logger.Named("summary"))
	if err != nil {
		return fmt.Errorf("failed to create summary service: %w", err)
	}
	if err := summarySvc.Start(); err != nil {
		return fmt.Errorf("failed to start summary scheduler: %w", err)
	}
	defer summarySvc.Stop()

	srv, err := httpserver.NewServer(orch, gateway, logger.Named("http"), httpserver.Config{
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("bayitd ready",
		zap.Bool("calendar_configured", calendarClient.Configured()),
		zap.Bool("push_configured", notifier.Configured()),
		zap.Bool("transcription_configured", transcriber.Configured()),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}

	return nil
}
