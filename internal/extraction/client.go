package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
	retryDelay       = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// fallbackTitleLimit caps the synthetic fallback task title length.
const fallbackTitleLimit = 100

// Config holds the extraction client configuration.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls Anthropic's messages API for task extraction and
// date/time resolution.
type Client struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// now and delay are injection points for tests.
	now   func() time.Time
	delay time.Duration
}

// NewClient creates an extraction client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		logger:     logger,
		now:        time.Now,
		delay:      retryDelay,
	}, nil
}

// anthropicRequest is the request format of the messages API.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is one part of a multi-modal user message.
type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// anthropicResponse is the response format of the messages API.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

var hebrewDayNames = []string{"ראשון", "שני", "שלישי", "רביעי", "חמישי", "שישי", "שבת"}

// extractSystemPrompt instructs the model to extract structured tasks
// from Hebrew household messages. Dates are resolved relative to today.
func (c *Client) extractSystemPrompt() string {
	now := c.now()
	today := now.Format("2006-01-02")
	dayName := hebrewDayNames[int(now.Weekday())]

	return `אתה מערכת לחילוץ משימות מהודעות וואטסאפ של משפחה ישראלית.
התאריך היום: ` + today + ` (יום ` + dayName + `).

## ההנחיות:
1. חלץ משימות מובנות מהודעות בעברית (וגם משולבות עם אנגלית).
2. הבן הקשר ישראלי: קופת חולים, ועד בית, גן ילדים, ארנונה, חוגים, צהרון, טיפת חלב, ביטוח לאומי.
3. זהה אם ההודעה היא לא משימה: בדיחות, ממים, שיחה כללית, ברכות → not_a_task: true.
4. חלץ מספר משימות מהודעה אחת אם רלוונטי.
5. תאריכים: המר שמות ימים בעברית לתאריכים. "מחר" = מחר, "יום שלישי" = תאריך יום שלישי הקרוב.
6. קטגוריות: בית, ילדים, כספים, בריאות, קניות, רכב, כללי.
7. confidence: 0-1.
8. reply_suggestion: הצע תגובה קצרה בעברית אם רלוונטי.

## פורמט — JSON בלבד:
{
  "tasks": [{
    "title": "כותרת קצרה",
    "description": "תיאור או null",
    "suggested_owner": "שם או null",
    "due_date": "YYYY-MM-DD או null",
    "due_time": "HH:mm או null",
    "category": "קטגוריה",
    "icon": "אמוג׳י אחד",
    "needs_calendar_event": true/false,
    "confidence": 0.0-1.0
  }],
  "not_a_task": false,
  "reply_suggestion": "הצעה או null"
}

החזר JSON תקין בלבד. אל תעטוף ב-markdown. אל תוסיף הסברים.`
}

// resolveSystemPrompt instructs the model to fill missing due dates and
// times on previously extracted tasks from a free-text reply.
func (c *Client) resolveSystemPrompt() string {
	now := c.now()
	today := now.Format("2006-01-02")
	dayName := hebrewDayNames[int(now.Weekday())]

	return `אתה מערכת להשלמת תאריך ושעה למשימות קיימות לפי תשובת המשתמש.
התאריך היום: ` + today + ` (יום ` + dayName + `).

תקבל רשימת משימות (JSON) שחסרים בהן due_date או due_time, ותשובה חופשית של המשתמש.
השלם רק את השדות החסרים שאפשר להסיק מהתשובה. "מחר" = מחר, שמות ימים = התאריך הקרוב.
אל תשנה שדות אחרים ואל תוסיף או תסיר משימות. אם אי אפשר להסיק שדה — השאר אותו null.

החזר את אותו מערך משימות כ-JSON תקין בלבד: {"tasks": [...]}. אל תעטוף ב-markdown.`
}

// buildUserContent assembles the user message blocks for extraction.
func buildUserContent(content string, kind Kind, imageBase64 string) []contentBlock {
	if kind == KindImage && imageBase64 != "" {
		text := "נתח את התמונה וחלץ משימות אם יש."
		if content != "" {
			text = "כיתוב התמונה: " + content + "\n\nנתח את התמונה והטקסט וחלץ משימות."
		}
		return []contentBlock{
			{Type: "image", Source: &imageSource{Type: "base64", MediaType: "image/jpeg", Data: imageBase64}},
			{Type: "text", Text: text},
		}
	}

	prefix := "הודעת וואטסאפ"
	if kind == KindVoice {
		prefix = "תמלול הודעה קולית"
	}
	return []contentBlock{{Type: "text", Text: prefix + ":\n\n" + content}}
}

// ExtractTasks extracts task candidates from message content.
//
// It retries once after a short delay; if both attempts fail (transport
// error, non-200, malformed JSON) it returns a degraded single-item
// fallback instead of an error. Callers never see a failure here.
func (c *Client) ExtractTasks(ctx context.Context, content string, kind Kind, imageBase64 string) Result {
	system := c.extractSystemPrompt()
	blocks := buildUserContent(content, kind, imageBase64)

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return fallbackResult(content)
			}
		}

		text, err := c.complete(ctx, system, blocks)
		if err == nil {
			var result Result
			if err = json.Unmarshal([]byte(stripFences(text)), &result); err == nil {
				return result
			}
		}

		lastErr = err
		c.logger.Warn("task extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	c.logger.Error("task extraction failed twice, returning fallback", zap.Error(lastErr))
	return fallbackResult(content)
}

// ResolveDateTime fills missing due date/time fields on items using the
// user's free-text reply. Unlike ExtractTasks there is no retry or
// fallback: a partial-update fallback shape is not well-defined, so the
// error propagates.
func (c *Client) ResolveDateTime(ctx context.Context, items []TaskItem, reply string) ([]TaskItem, error) {
	itemsJSON, err := json.Marshal(map[string][]TaskItem{"tasks": items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task items: %w", err)
	}

	blocks := []contentBlock{{
		Type: "text",
		Text: "המשימות:\n" + string(itemsJSON) + "\n\nתשובת המשתמש:\n" + reply,
	}}

	text, err := c.complete(ctx, c.resolveSystemPrompt(), blocks)
	if err != nil {
		return nil, err
	}

	var resolved struct {
		Tasks []TaskItem `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &resolved); err != nil {
		return nil, fmt.Errorf("failed to parse resolution response: %w", err)
	}
	if len(resolved.Tasks) != len(items) {
		return nil, fmt.Errorf("resolution returned %d items, want %d", len(resolved.Tasks), len(items))
	}
	return resolved.Tasks, nil
}

// complete performs one messages API call and returns the text block.
func (c *Client) complete(ctx context.Context, system string, blocks []contentBlock) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

// stripFences removes a markdown code fence the model sometimes wraps
// JSON in despite instructions.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// fallbackResult is the degraded single-item result returned after two
// failed extraction attempts. Confidence zero marks it for review.
func fallbackResult(content string) Result {
	title := content
	if runes := []rune(title); len(runes) > fallbackTitleLimit {
		title = string(runes[:fallbackTitleLimit])
	}
	return Result{
		Tasks: []TaskItem{{
			Title:       title,
			Description: content,
			Category:    CategoryGeneral,
			Icon:        "📝",
			Confidence:  0,
		}},
		NotATask: false,
	}
}
