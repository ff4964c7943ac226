// Package transcribe converts voice-note audio to text via the Google
// Cloud Speech-to-Text REST API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://speech.googleapis.com/v1"

// Config holds Speech-to-Text settings.
type Config struct {
	APIKey       string
	BaseURL      string
	LanguageCode string
	SampleRate   int
	Timeout      time.Duration
}

// Client calls the synchronous speech:recognize endpoint. WhatsApp voice
// notes are OGG/Opus, which the API accepts directly as inline content.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a transcription client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "he-IL"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe recognizes speech in the given audio bytes and returns the
// joined transcript. An empty string with a nil error means the API
// heard nothing intelligible.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("speech api key not configured")
	}

	reqBody := recognizeRequest{
		Config: recognitionConfig{
			Encoding:        "OGG_OPUS",
			SampleRateHertz: c.cfg.SampleRate,
			LanguageCode:    c.cfg.LanguageCode,
		},
		Audio: recognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal recognize request: %w", err)
	}

	url := fmt.Sprintf("%s/speech:recognize?key=%s", c.cfg.BaseURL, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read speech api response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rr recognizeResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", fmt.Errorf("failed to decode speech api response: %w", err)
	}

	parts := make([]string, 0, len(rr.Results))
	for _, res := range rr.Results {
		if len(res.Alternatives) > 0 && res.Alternatives[0].Transcript != "" {
			parts = append(parts, res.Alternatives[0].Transcript)
		}
	}
	transcript := strings.TrimSpace(strings.Join(parts, " "))

	c.logger.Debug("transcribed audio",
		zap.Int("audio_bytes", len(audio)),
		zap.Int("transcript_len", len(transcript)),
	)
	return transcript, nil
}
