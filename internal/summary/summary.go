// Package summary sends each household a Hebrew morning digest of
// today's tasks plus the local weather, on a cron schedule.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/store"
)

const defaultWeatherBaseURL = "https://api.open-meteo.com"

// Config holds daily summary settings.
type Config struct {
	Enabled        bool
	Schedule       string // cron spec, e.g. "0 7 * * *"
	Timezone       string
	Latitude       float64
	Longitude      float64
	WeatherBaseURL string
}

// Store is the subset of the task store the summary needs.
type Store interface {
	Households(ctx context.Context) ([]string, error)
	HouseholdMembers(ctx context.Context, householdID string) ([]store.Member, error)
	TasksDueOn(ctx context.Context, householdID, date string) ([]store.DueTask, error)
}

// Sender sends a WhatsApp text message.
type Sender interface {
	SendMessage(ctx context.Context, chatID, message string) (string, error)
}

// Service composes and delivers the daily summary.
type Service struct {
	cfg        Config
	store      Store
	sender     Sender
	logger     *zap.Logger
	cron       *cron.Cron
	location   *time.Location
	httpClient *http.Client
	now        func() time.Time
}

// NewService creates the summary service. The timezone must resolve;
// everything downstream (cron, task dates, day names) runs in it.
func NewService(cfg Config, st Store, sender Sender, logger *zap.Logger) (*Service, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 7 * * *"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Jerusalem"
	}
	if cfg.WeatherBaseURL == "" {
		cfg.WeatherBaseURL = defaultWeatherBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid summary timezone %q: %w", cfg.Timezone, err)
	}

	return &Service{
		cfg:        cfg,
		store:      st,
		sender:     sender,
		logger:     logger,
		location:   loc,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}, nil
}

// Start schedules the cron job. No-op when disabled.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.logger.Debug("daily summary disabled")
		return nil
	}

	s.cron = cron.New(cron.WithLocation(s.location))
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid summary schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.logger.Info("daily summary scheduled",
		zap.String("schedule", s.cfg.Schedule),
		zap.String("timezone", s.cfg.Timezone),
	)
	return nil
}

// Stop halts the cron scheduler and waits for a running job.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Run sends one summary round to every household. Weather and the
// household listing are independent and fetched concurrently.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("sending daily summaries")

	weatherCh := make(chan string, 1)
	go func() { weatherCh <- s.fetchWeather(ctx) }()

	households, err := s.store.Households(ctx)
	if err != nil {
		s.logger.Error("household listing failed", zap.Error(err))
		return
	}
	weather := <-weatherCh

	for _, householdID := range households {
		s.sendHousehold(ctx, householdID, weather)
	}
}

func (s *Service) sendHousehold(ctx context.Context, householdID, weather string) {
	now := s.now().In(s.location)
	today := now.Format("2006-01-02")

	tasks, err := s.store.TasksDueOn(ctx, householdID, today)
	if err != nil {
		s.logger.Error("task listing failed",
			zap.String("household_id", householdID), zap.Error(err))
		return
	}

	members, err := s.store.HouseholdMembers(ctx, householdID)
	if err != nil {
		s.logger.Error("member listing failed",
			zap.String("household_id", householdID), zap.Error(err))
		return
	}

	message := composeMessage(now, weather, tasks)
	for _, m := range members {
		if m.Phone == "" {
			continue
		}
		chatID := m.Phone + "@c.us"
		if _, err := s.sender.SendMessage(ctx, chatID, message); err != nil {
			s.logger.Error("summary send failed",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

var hebrewDays = map[time.Weekday]string{
	time.Sunday:    "ראשון",
	time.Monday:    "שני",
	time.Tuesday:   "שלישי",
	time.Wednesday: "רביעי",
	time.Thursday:  "חמישי",
	time.Friday:    "שישי",
	time.Saturday:  "שבת",
}

func composeMessage(now time.Time, weather string, tasks []store.DueTask) string {
	header := fmt.Sprintf("🌅 *בוקר טוב! יום %s, %d.%d*",
		hebrewDays[now.Weekday()], now.Day(), int(now.Month()))

	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n_יום פרודוקטיבי!_ 💪",
		header, weather, taskSection(tasks))
}

func taskSection(tasks []store.DueTask) string {
	if len(tasks) == 0 {
		return "📭 אין משימות להיום"
	}

	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := fmt.Sprintf("%s %s", t.Icon, t.Title)
		if t.OwnerName != "" {
			line += fmt.Sprintf(" (%s)", t.OwnerName)
		}
		if t.DueTime != "" {
			line += " ⏰ " + t.DueTime
		}
		switch t.Status {
		case "pending":
			line += " 🟡"
		case "active":
			line += " 🟢"
		}
		lines = append(lines, line)
	}

	return fmt.Sprintf("📋 *משימות להיום (%d):*\n%s", len(tasks), strings.Join(lines, "\n"))
}

type weatherResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
	Daily struct {
		TemperatureMax []float64 `json:"temperature_2m_max"`
		TemperatureMin []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// fetchWeather returns a short Hebrew weather line; a fixed fallback
// string on any failure.
func (s *Service) fetchWeather(ctx context.Context) string {
	url := fmt.Sprintf(
		"%s/v1/forecast?latitude=%g&longitude=%g&current=temperature_2m,weather_code&daily=weather_code,temperature_2m_max,temperature_2m_min&timezone=%s&forecast_days=1",
		s.cfg.WeatherBaseURL, s.cfg.Latitude, s.cfg.Longitude, s.cfg.Timezone,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return weatherUnavailable
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("weather fetch failed", zap.Error(err))
		return weatherUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("weather api returned error", zap.Int("status", resp.StatusCode))
		return weatherUnavailable
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return weatherUnavailable
	}
	var wr weatherResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		s.logger.Warn("weather response decode failed", zap.Error(err))
		return weatherUnavailable
	}
	if len(wr.Daily.TemperatureMax) == 0 || len(wr.Daily.TemperatureMin) == 0 {
		return weatherUnavailable
	}

	return fmt.Sprintf("%s *מזג אוויר היום:* %s, %d°\n🌡️ %d°–%d°",
		weatherIcon(wr.Current.WeatherCode),
		weatherLabel(wr.Current.WeatherCode),
		int(math.Round(wr.Current.Temperature)),
		int(math.Round(wr.Daily.TemperatureMin[0])),
		int(math.Round(wr.Daily.TemperatureMax[0])),
	)
}

const weatherUnavailable = "🌡️ מזג אוויר לא זמין"

// WMO weather interpretation codes.
func weatherIcon(code int) string {
	switch {
	case code == 0:
		return "☀️"
	case code <= 3:
		return "⛅"
	case code <= 48:
		return "🌫️"
	case code <= 57:
		return "🌦️"
	case code <= 67:
		return "🌧️"
	case code <= 77:
		return "🌨️"
	case code <= 82:
		return "🌧️"
	case code <= 86:
		return "🌨️"
	case code <= 99:
		return "⛈️"
	default:
		return "🌡️"
	}
}

func weatherLabel(code int) string {
	switch {
	case code == 0:
		return "בהיר"
	case code <= 3:
		return "מעונן חלקית"
	case code <= 48:
		return "ערפל"
	case code <= 57:
		return "טפטוף"
	case code <= 67:
		return "גשם"
	case code <= 77:
		return "שלג"
	case code <= 82:
		return "ממטרים"
	case code <= 86:
		return "שלג"
	case code <= 99:
		return "סופות רעמים"
	default:
		return ""
	}
}
