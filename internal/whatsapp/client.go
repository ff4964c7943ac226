package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.green-api.com"

// maxMediaBytes caps media downloads; Green API voice notes and images
// are far below this.
const maxMediaBytes = 32 << 20

// Config holds Green API client configuration.
type Config struct {
	InstanceID string
	Token      string
	BaseURL    string
	Timeout    time.Duration
}

// Client talks to the Green API WhatsApp gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Green API client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("green api instance id is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("green api token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// methodURL builds {base}/waInstance{id}/{method}/{token}.
func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", c.cfg.BaseURL, c.cfg.InstanceID, method, c.cfg.Token)
}

// call POSTs payload to a Green API method and decodes the response
// into out (if non-nil).
func (c *Client) call(ctx context.Context, httpMethod, method string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, c.methodURL(method), body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
	}
	return nil
}

// sendResponse is the response shape of sendMessage and sendPoll.
type sendResponse struct {
	IDMessage string `json:"idMessage"`
}

// SendMessage sends a text message and returns the sent message id.
func (c *Client) SendMessage(ctx context.Context, chatID, message string) (string, error) {
	var resp sendResponse
	err := c.call(ctx, http.MethodPost, "sendMessage", map[string]any{
		"chatId":  chatID,
		"message": message,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.IDMessage, nil
}

// SendPoll sends a single-choice poll and returns the sent message id,
// which later poll vote webhooks reference as their stanza id.
func (c *Client) SendPoll(ctx context.Context, chatID, question string, options []string) (string, error) {
	opts := make([]map[string]string, 0, len(options))
	for _, o := range options {
		opts = append(opts, map[string]string{"optionName": o})
	}

	var resp sendResponse
	err := c.call(ctx, http.MethodPost, "sendPoll", map[string]any{
		"chatId":          chatID,
		"message":         question,
		"options":         opts,
		"multipleAnswers": false,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.IDMessage, nil
}

// ReadChat marks a message as read.
func (c *Client) ReadChat(ctx context.Context, chatID, messageID string) error {
	return c.call(ctx, http.MethodPost, "readChat", map[string]any{
		"chatId":    chatID,
		"idMessage": messageID,
	}, nil)
}

// DownloadMedia fetches message media from its download URL.
func (c *Client) DownloadMedia(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	return data, nil
}

// StateResponse is the response of getStateInstance.
type StateResponse struct {
	StateInstance string `json:"stateInstance"`
}

// GetState returns the WhatsApp instance state (e.g. "authorized").
func (c *Client) GetState(ctx context.Context) (string, error) {
	var resp StateResponse
	if err := c.call(ctx, http.MethodGet, "getStateInstance", nil, &resp); err != nil {
		return "", err
	}
	return resp.StateInstance, nil
}

// GetSettings returns the current instance settings.
func (c *Client) GetSettings(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	if err := c.call(ctx, http.MethodGet, "getSettings", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SetSettings updates instance settings and reports whether the
// gateway accepted them.
func (c *Client) SetSettings(ctx context.Context, settings map[string]any) (bool, error) {
	var resp struct {
		SaveSettings bool `json:"saveSettings"`
	}
	if err := c.call(ctx, http.MethodPost, "setSettings", settings, &resp); err != nil {
		return false, err
	}
	return resp.SaveSettings, nil
}

// QRResponse is the response of the qr method.
type QRResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GetQR returns the pairing QR code for WhatsApp linking.
func (c *Client) GetQR(ctx context.Context) (*QRResponse, error) {
	var resp QRResponse
	if err := c.call(ctx, http.MethodGet, "qr", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
