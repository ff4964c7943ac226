package summary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/store"
)

type fakeStore struct {
	households []string
	members    map[string][]store.Member
	tasks      map[string][]store.DueTask
	lastDate   string
}

func (s *fakeStore) Households(context.Context) ([]string, error) {
	return s.households, nil
}

func (s *fakeStore) HouseholdMembers(_ context.Context, id string) ([]store.Member, error) {
	return s.members[id], nil
}

func (s *fakeStore) TasksDueOn(_ context.Context, id, date string) ([]store.DueTask, error) {
	s.lastDate = date
	return s.tasks[id], nil
}

type fakeSender struct {
	mu    sync.Mutex
	sends map[string]string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sends == nil {
		f.sends = map[string]string{}
	}
	f.sends[chatID] = message
	return "id", nil
}

func weatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "32.1875", r.URL.Query().Get("latitude"))
		w.Write([]byte(`{
			"current": {"temperature_2m": 24.6, "weather_code": 0},
			"daily": {"temperature_2m_max": [28.2], "temperature_2m_min": [19.8]}
		}`))
	}))
}

func newTestService(t *testing.T, st *fakeStore, sender *fakeSender, weatherURL string) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Enabled:        true,
		Schedule:       "0 7 * * *",
		Timezone:       "Asia/Jerusalem",
		Latitude:       32.1875,
		Longitude:      34.8935,
		WeatherBaseURL: weatherURL,
	}, st, sender, zap.NewNop())
	require.NoError(t, err)
	// Fixed clock: Monday 2025-11-03 07:00 Israel time.
	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2025, 11, 3, 7, 0, 0, 0, loc) }
	return svc
}

func TestRunDeliversSummaries(t *testing.T) {
	ws := weatherServer(t)
	defer ws.Close()

	st := &fakeStore{
		households: []string{"h1"},
		members: map[string][]store.Member{
			"h1": {
				{ID: "m1", Phone: "972501234567"},
				{ID: "m2", Phone: ""}, // no phone, skipped
			},
		},
		tasks: map[string][]store.DueTask{
			"h1": {
				{Title: "לקנות חלב", Icon: "🛒", DueTime: "18:00", Status: "pending"},
			},
		},
	}
	sender := &fakeSender{}
	svc := newTestService(t, st, sender, ws.URL)

	svc.Run(context.Background())

	assert.Equal(t, "2025-11-03", st.lastDate)
	require.Len(t, sender.sends, 1)
	msg := sender.sends["972501234567@c.us"]
	assert.Contains(t, msg, "בוקר טוב! יום שני, 3.11")
	assert.Contains(t, msg, "מזג אוויר היום")
	assert.Contains(t, msg, "בהיר, 25°")
	assert.Contains(t, msg, "לקנות חלב")
	assert.Contains(t, msg, "⏰ 18:00")
}

func TestRunWithNoTasks(t *testing.T) {
	ws := weatherServer(t)
	defer ws.Close()

	st := &fakeStore{
		households: []string{"h1"},
		members:    map[string][]store.Member{"h1": {{ID: "m1", Phone: "972501234567"}}},
		tasks:      map[string][]store.DueTask{},
	}
	sender := &fakeSender{}
	svc := newTestService(t, st, sender, ws.URL)

	svc.Run(context.Background())

	require.Len(t, sender.sends, 1)
	assert.Contains(t, sender.sends["972501234567@c.us"], "📭 אין משימות להיום")
}

func TestWeatherFallbackOnFailure(t *testing.T) {
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ws.Close()

	st := &fakeStore{
		households: []string{"h1"},
		members:    map[string][]store.Member{"h1": {{ID: "m1", Phone: "972501234567"}}},
	}
	sender := &fakeSender{}
	svc := newTestService(t, st, sender, ws.URL)

	svc.Run(context.Background())

	require.Len(t, sender.sends, 1)
	assert.Contains(t, sender.sends["972501234567@c.us"], weatherUnavailable)
}

func TestTaskSectionFormatting(t *testing.T) {
	got := taskSection([]store.DueTask{
		{Title: "לקנות חלב", Icon: "🛒", DueTime: "18:00", Status: "pending"},
		{Title: "חוג ריקוד", Icon: "💃", OwnerName: "דנה", Status: "active"},
	})

	assert.Contains(t, got, "משימות להיום (2)")
	assert.Contains(t, got, "🛒 לקנות חלב ⏰ 18:00 🟡")
	assert.Contains(t, got, "💃 חוג ריקוד (דנה) 🟢")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc, err := NewService(Config{
		Enabled:  true,
		Schedule: "not a cron spec",
	}, &fakeStore{}, &fakeSender{}, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, svc.Start())
}

func TestStartDisabledIsNoOp(t *testing.T) {
	svc, err := NewService(Config{Enabled: false}, &fakeStore{}, &fakeSender{}, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, svc.Start())
	svc.Stop()
}

func TestWeatherCodeMapping(t *testing.T) {
	assert.Equal(t, "☀️", weatherIcon(0))
	assert.Equal(t, "בהיר", weatherLabel(0))
	assert.Equal(t, "⛅", weatherIcon(2))
	assert.Equal(t, "🌧️", weatherIcon(63))
	assert.Equal(t, "גשם", weatherLabel(63))
	assert.Equal(t, "⛈️", weatherIcon(95))
	assert.Equal(t, "סופות רעמים", weatherLabel(95))
}
