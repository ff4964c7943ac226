package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// anthropicReply wraps text in a messages API response body.
func anthropicReply(text string) string {
	resp := map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "sk-ant-test", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	c.delay = time.Millisecond
	c.now = func() time.Time {
		return time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC) // a Sunday
	}
	return c
}

const extractionJSON = `{
	"tasks": [{
		"title": "לקנות חלב",
		"description": null,
		"suggested_owner": null,
		"due_date": "2025-11-03",
		"due_time": "18:00",
		"category": "קניות",
		"icon": "🛒",
		"needs_calendar_event": false,
		"confidence": 0.95
	}],
	"not_a_task": false,
	"reply_suggestion": "נוסף! 🛒"
}`

func TestExtractTasks(t *testing.T) {
	t.Run("parses model response", func(t *testing.T) {
		var gotReq anthropicRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "sk-ant-test", r.Header.Get("X-API-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			_, _ = w.Write([]byte(anthropicReply(extractionJSON)))
		})

		result := c.ExtractTasks(context.Background(), "לקנות חלב מחר ב-18:00", KindText, "")

		require.Len(t, result.Tasks, 1)
		task := result.Tasks[0]
		assert.Equal(t, "לקנות חלב", task.Title)
		assert.Equal(t, "2025-11-03", task.DueDate)
		assert.Equal(t, "18:00", task.DueTime)
		assert.True(t, task.Complete())
		assert.False(t, result.NotATask)
		assert.Equal(t, "נוסף! 🛒", result.ReplySuggestion)

		// The system prompt carries today's date and Hebrew day name.
		assert.Contains(t, gotReq.System, "2025-11-02")
		assert.Contains(t, gotReq.System, "ראשון")
		require.Len(t, gotReq.Messages, 1)
		assert.Contains(t, gotReq.Messages[0].Content[0].Text, "הודעת וואטסאפ")
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(anthropicReply("```json\n" + extractionJSON + "\n```")))
		})

		result := c.ExtractTasks(context.Background(), "לקנות חלב", KindText, "")
		require.Len(t, result.Tasks, 1)
		assert.Equal(t, "לקנות חלב", result.Tasks[0].Title)
	})

	t.Run("retries once after failure", func(t *testing.T) {
		attempts := 0
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				http.Error(w, `{"error":{"type":"overloaded_error","message":"overloaded"}}`, http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(anthropicReply(extractionJSON)))
		})

		result := c.ExtractTasks(context.Background(), "לקנות חלב", KindText, "")
		assert.Equal(t, 2, attempts)
		require.Len(t, result.Tasks, 1)
		assert.Equal(t, 0.95, result.Tasks[0].Confidence)
	})

	t.Run("falls back after two failures", func(t *testing.T) {
		attempts := 0
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			attempts++
			_, _ = w.Write([]byte(anthropicReply("I could not produce JSON, sorry")))
		})

		content := "לקבוע תור לרופא שיניים"
		result := c.ExtractTasks(context.Background(), content, KindText, "")

		assert.Equal(t, 2, attempts)
		require.Len(t, result.Tasks, 1)
		task := result.Tasks[0]
		assert.Equal(t, content, task.Title)
		assert.Equal(t, content, task.Description)
		assert.Equal(t, CategoryGeneral, task.Category)
		assert.Zero(t, task.Confidence)
		assert.False(t, result.NotATask)
	})

	t.Run("fallback truncates long titles by runes", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})

		content := strings.Repeat("א", 300)
		result := c.ExtractTasks(context.Background(), content, KindText, "")

		require.Len(t, result.Tasks, 1)
		assert.Equal(t, fallbackTitleLimit, len([]rune(result.Tasks[0].Title)))
	})

	t.Run("image content sends a base64 block", func(t *testing.T) {
		var gotReq anthropicRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			_, _ = w.Write([]byte(anthropicReply(extractionJSON)))
		})

		c.ExtractTasks(context.Background(), "חשבון ארנונה", KindImage, "aGVsbG8=")

		require.Len(t, gotReq.Messages[0].Content, 2)
		img := gotReq.Messages[0].Content[0]
		assert.Equal(t, "image", img.Type)
		require.NotNil(t, img.Source)
		assert.Equal(t, "base64", img.Source.Type)
		assert.Equal(t, "aGVsbG8=", img.Source.Data)
		assert.Contains(t, gotReq.Messages[0].Content[1].Text, "כיתוב התמונה")
	})
}

func TestResolveDateTime(t *testing.T) {
	items := []TaskItem{{
		Title:    "לקנות חלב",
		Category: CategoryShopping,
		Icon:     "🛒",
	}}

	t.Run("fills missing fields", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			resolved := `{"tasks":[{"title":"לקנות חלב","due_date":"2025-11-03","due_time":"09:00","category":"קניות","icon":"🛒","confidence":0.9}]}`
			_, _ = w.Write([]byte(anthropicReply(resolved)))
		})

		got, err := c.ResolveDateTime(context.Background(), items, "מחר ב-9")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "2025-11-03", got[0].DueDate)
		assert.Equal(t, "09:00", got[0].DueTime)
		assert.True(t, got[0].Complete())
	})

	t.Run("propagates API errors without fallback", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"type":"api_error","message":"boom"}}`, http.StatusInternalServerError)
		})

		_, err := c.ResolveDateTime(context.Background(), items, "מחר")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("propagates malformed JSON", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(anthropicReply("not json")))
		})

		_, err := c.ResolveDateTime(context.Background(), items, "מחר")
		assert.Error(t, err)
	})

	t.Run("rejects item count mismatch", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(anthropicReply(`{"tasks":[]}`)))
		})

		_, err := c.ResolveDateTime(context.Background(), items, "מחר")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "returned 0 items")
	})
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.input))
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)

	c, err := NewClient(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultModel, c.model)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, defaultMaxTokens, c.maxTokens)
}

func TestTaskItemHelpers(t *testing.T) {
	t.Run("complete requires both date and time", func(t *testing.T) {
		assert.False(t, TaskItem{}.Complete())
		assert.False(t, TaskItem{DueDate: "2025-11-03"}.Complete())
		assert.False(t, TaskItem{DueTime: "18:00"}.Complete())
		assert.True(t, TaskItem{DueDate: "2025-11-03", DueTime: "18:00"}.Complete())
	})

	t.Run("missing fields are enumerated in order", func(t *testing.T) {
		assert.Equal(t, []string{"תאריך", "שעה"}, TaskItem{}.MissingFields())
		assert.Equal(t, []string{"שעה"}, TaskItem{DueDate: "2025-11-03"}.MissingFields())
		assert.Equal(t, []string{"תאריך"}, TaskItem{DueTime: "18:00"}.MissingFields())
		assert.Empty(t, TaskItem{DueDate: "2025-11-03", DueTime: "18:00"}.MissingFields())
	})
}

// Guard against the fixture date drifting from its declared weekday.
func TestFixtureWeekday(t *testing.T) {
	c := &Client{now: func() time.Time { return time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC) }}
	require.Equal(t, time.Sunday, c.now().Weekday(), fmt.Sprintf("fixture must be a Sunday, got %s", c.now().Weekday()))
}
