package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		InstanceID: "1101000001",
		Token:      "secret",
		BaseURL:    srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("requires instance id and token", func(t *testing.T) {
		_, err := NewClient(Config{Token: "t"}, nil)
		assert.Error(t, err)

		_, err = NewClient(Config{InstanceID: "i"}, nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		c, err := NewClient(Config{InstanceID: "i", Token: "t"}, nil)
		require.NoError(t, err)
		assert.Equal(t, defaultBaseURL, c.cfg.BaseURL)
		assert.NotNil(t, c.logger)
	})
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"idMessage":"BAE5"}`))
	})

	id, err := c.SendMessage(context.Background(), "972501234567@c.us", "שלום")
	require.NoError(t, err)
	assert.Equal(t, "BAE5", id)
	assert.Equal(t, "/waInstance1101000001/sendMessage/secret", gotPath)
	assert.Equal(t, "972501234567@c.us", gotBody["chatId"])
	assert.Equal(t, "שלום", gotBody["message"])
}

func TestSendPoll(t *testing.T) {
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waInstance1101000001/sendPoll/secret", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"idMessage":"POLL1"}`))
	})

	id, err := c.SendPoll(context.Background(), "chat", "להוסיף ליומן?", []string{"כן", "כן+", "לא"})
	require.NoError(t, err)
	assert.Equal(t, "POLL1", id)
	assert.Equal(t, false, gotBody["multipleAnswers"])

	opts, ok := gotBody["options"].([]any)
	require.True(t, ok)
	require.Len(t, opts, 3)
	first, ok := opts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "כן", first["optionName"])
}

func TestReadChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waInstance1101000001/readChat/secret", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"chatId":"chat","idMessage":"m1"}`, string(body))
		_, _ = w.Write([]byte(`{"setRead":true}`))
	})

	require.NoError(t, c.ReadChat(context.Background(), "chat", "m1"))
}

func TestDownloadMedia(t *testing.T) {
	payload := []byte{0x4f, 0x67, 0x67, 0x53} // ogg magic

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	data, err := c.DownloadMedia(context.Background(), srv.URL+"/media/a.ogg")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadMediaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.DownloadMedia(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/waInstance1101000001/getStateInstance/secret", r.URL.Path)
		_, _ = w.Write([]byte(`{"stateInstance":"authorized"}`))
	})

	state, err := c.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorized", state)
}

func TestSetSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "yes", body["pollMessageWebhook"])
		_, _ = w.Write([]byte(`{"saveSettings":true}`))
	})

	saved, err := c.SetSettings(context.Background(), map[string]any{"pollMessageWebhook": "yes"})
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestCallErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})

	_, err := c.SendMessage(context.Background(), "chat", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
