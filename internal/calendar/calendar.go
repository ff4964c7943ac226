// Package calendar creates Google Calendar events for confirmed tasks.
//
// The client never fails its caller: missing credentials or API errors
// yield an empty event id, which the orchestrator treats as "no event".
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	defaultDuration = 60 * time.Minute
	reminderMinutes = 30
)

// Config holds Google Calendar OAuth credentials. Empty credentials
// disable the integration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	Timezone     string
}

// EventParams describes one event to create.
type EventParams struct {
	Title           string
	Description     string
	Date            string // YYYY-MM-DD
	Time            string // HH:mm
	DurationMinutes int
	AttendeeEmails  []string
}

// Client creates calendar events through the Calendar v3 REST API.
type Client struct {
	cfg     Config
	baseURL string
	logger  *zap.Logger

	// tokenSource is overridable in tests.
	tokenSource oauth2.TokenSource
}

// NewClient creates a calendar client. A client with missing
// credentials is valid but unconfigured; CreateEvent returns "".
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Jerusalem"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{cfg: cfg, baseURL: defaultBaseURL, logger: logger}
	if c.Configured() {
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: googleTokenURL},
		}
		c.tokenSource = oc.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	}
	return c
}

// Configured reports whether OAuth credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != "" && c.cfg.RefreshToken != ""
}

// event is the Calendar v3 insert body.
type event struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Start       eventTime       `json:"start"`
	End         eventTime       `json:"end"`
	Attendees   []eventAttendee `json:"attendees,omitempty"`
	Reminders   eventReminders  `json:"reminders"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type eventReminders struct {
	UseDefault bool             `json:"useDefault"`
	Overrides  []eventReminder  `json:"overrides,omitempty"`
}

type eventReminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

// CreateEvent creates a calendar event and returns its id, or "" when
// the client is unconfigured or the API call fails.
func (c *Client) CreateEvent(ctx context.Context, p EventParams) string {
	if !c.Configured() {
		c.logger.Warn("calendar credentials not configured, skipping event",
			zap.String("title", p.Title))
		return ""
	}

	loc, err := time.LoadLocation(c.cfg.Timezone)
	if err != nil {
		c.logger.Error("invalid calendar timezone", zap.String("timezone", c.cfg.Timezone), zap.Error(err))
		return ""
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", p.Date+" "+p.Time, loc)
	if err != nil {
		c.logger.Error("invalid event date/time",
			zap.String("date", p.Date), zap.String("time", p.Time), zap.Error(err))
		return ""
	}

	duration := defaultDuration
	if p.DurationMinutes > 0 {
		duration = time.Duration(p.DurationMinutes) * time.Minute
	}
	end := start.Add(duration)

	ev := event{
		Summary:     p.Title,
		Description: p.Description,
		Start:       eventTime{DateTime: start.Format("2006-01-02T15:04:05"), TimeZone: c.cfg.Timezone},
		End:         eventTime{DateTime: end.Format("2006-01-02T15:04:05"), TimeZone: c.cfg.Timezone},
		Reminders: eventReminders{
			Overrides: []eventReminder{{Method: "popup", Minutes: reminderMinutes}},
		},
	}
	for _, email := range p.AttendeeEmails {
		ev.Attendees = append(ev.Attendees, eventAttendee{Email: email})
	}

	sendUpdates := "none"
	if len(p.AttendeeEmails) > 0 {
		sendUpdates = "all"
	}

	id, err := c.insert(ctx, ev, sendUpdates)
	if err != nil {
		c.logger.Error("failed to create calendar event", zap.String("title", p.Title), zap.Error(err))
		return ""
	}

	c.logger.Info("calendar event created",
		zap.String("event_id", id),
		zap.String("title", p.Title),
		zap.String("date", p.Date),
		zap.String("time", p.Time),
	)
	return id
}

func (c *Client) insert(ctx context.Context, ev event, sendUpdates string) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	url := fmt.Sprintf("%s/calendars/%s/events?sendUpdates=%s", c.baseURL, c.cfg.CalendarID, sendUpdates)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := oauth2.NewClient(ctx, c.tokenSource)
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("calendar API returned status %d: %s", resp.StatusCode, data)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("calendar API returned no event id")
	}
	return created.ID, nil
}
