// Package httpserver provides the HTTP surface: the Green API webhook
// entry point, health, metrics, and the one-time setup endpoints.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/whatsapp"
)

// Processor handles a normalized inbound event. It never returns an
// error; processing outcome is invisible to the webhook caller.
type Processor interface {
	HandleEvent(ctx context.Context, ev whatsapp.Event)
}

// Admin exposes the gateway's instance-management operations used by
// the setup endpoints.
type Admin interface {
	GetState(ctx context.Context) (string, error)
	GetSettings(ctx context.Context) (map[string]any, error)
	SetSettings(ctx context.Context, settings map[string]any) (bool, error)
	GetQR(ctx context.Context) (*whatsapp.QRResponse, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server is the echo-based HTTP server.
type Server struct {
	echo      *echo.Echo
	processor Processor
	admin     Admin
	logger    *zap.Logger
	config    Config
	metrics   *HTTPMetrics
	started   time.Time
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(processor Processor, admin Admin, logger *zap.Logger, cfg Config) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Port == 0 {
		cfg.Port = 3001
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		processor: processor,
		admin:     admin,
		logger:    logger,
		config:    cfg,
		metrics:   NewHTTPMetrics(logger),
		started:   time.Now(),
	}
	e.Use(s.metrics.Middleware())
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/api/webhook/greenapi", s.handleWebhook)

	if s.admin != nil {
		setup := s.echo.Group("/api/setup")
		setup.GET("/status", s.handleSetupStatus)
		setup.POST("/webhook", s.handleSetupWebhook)
		setup.GET("/qr", s.handleSetupQR)
	}
}

// Echo exposes the underlying router so callers can mount extra
// handlers, e.g. the Prometheus scrape endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

// ackResponse is the fixed webhook acknowledgment. The gateway must see
// success regardless of processing outcome so it never retries.
type ackResponse struct {
	OK bool `json:"ok"`
}

// handleWebhook acknowledges immediately and processes asynchronously.
// Malformed payloads are acknowledged too; there is no point asking the
// gateway to redeliver them.
func (s *Server) handleWebhook(c echo.Context) error {
	var payload whatsapp.Webhook
	if err := c.Bind(&payload); err != nil {
		s.logger.Warn("malformed webhook payload", zap.Error(err))
		return c.JSON(http.StatusOK, ackResponse{OK: true})
	}

	s.metrics.RecordWebhook(c, payload.TypeWebhook)

	if ev, ok := whatsapp.ParseEvent(&payload); ok {
		// Detached from the request context: the response goes out now
		// and processing must not die with the connection.
		go s.processor.HandleEvent(context.Background(), ev)
	} else {
		s.logger.Debug("ignoring unsupported webhook",
			zap.String("type", payload.TypeWebhook),
			zap.String("message_type", payload.MessageData.TypeMessage),
		)
	}

	return c.JSON(http.StatusOK, ackResponse{OK: true})
}

// SetupStatusResponse is the response body for GET /api/setup/status.
type SetupStatusResponse struct {
	State    string         `json:"state"`
	Settings map[string]any `json:"settings"`
}

func (s *Server) handleSetupStatus(c echo.Context) error {
	ctx := c.Request().Context()

	state, err := s.admin.GetState(ctx)
	if err != nil {
		s.logger.Error("instance state check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to fetch gateway status")
	}
	settings, err := s.admin.GetSettings(ctx)
	if err != nil {
		s.logger.Error("instance settings fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to fetch gateway status")
	}

	return c.JSON(http.StatusOK, SetupStatusResponse{State: state, Settings: settings})
}

// SetupWebhookRequest is the request body for POST /api/setup/webhook.
type SetupWebhookRequest struct {
	WebhookURL string `json:"webhookUrl"`
}

// SetupWebhookResponse is the response body for POST /api/setup/webhook.
type SetupWebhookResponse struct {
	Saved    bool           `json:"saved"`
	Settings map[string]any `json:"settings"`
}

// handleSetupWebhook points the gateway instance at our webhook URL and
// enables the notification types the pipeline consumes, including poll
// vote updates.
func (s *Server) handleSetupWebhook(c echo.Context) error {
	var req SetupWebhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WebhookURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "webhookUrl is required")
	}

	ctx := c.Request().Context()
	saved, err := s.admin.SetSettings(ctx, map[string]any{
		"webhookUrl":                        req.WebhookURL,
		"incomingWebhook":                   "yes",
		"outgoingMessageWebhook":            "no",
		"outgoingAPIMessageWebhook":         "no",
		"stateWebhook":                      "yes",
		"pollMessageWebhook":                "yes",
		"markIncomingMessagesReaded":        "yes",
		"markIncomingMessagesReadedOnReply": "yes",
		"keepOnlineStatus":                  "yes",
		"delaySendMessagesMilliseconds":     5000,
	})
	if err != nil {
		s.logger.Error("webhook configuration failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to configure webhook")
	}

	settings, err := s.admin.GetSettings(ctx)
	if err != nil {
		s.logger.Warn("settings readback failed", zap.Error(err))
		settings = nil
	}

	return c.JSON(http.StatusOK, SetupWebhookResponse{Saved: saved, Settings: settings})
}

func (s *Server) handleSetupQR(c echo.Context) error {
	qr, err := s.admin.GetQR(c.Request().Context())
	if err != nil {
		s.logger.Error("qr fetch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to get QR code")
	}
	return c.JSON(http.StatusOK, qr)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
