package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/store"
)

func testSubscription(t *testing.T, endpoint string) *store.PushSubscription {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return &store.PushSubscription{
		Endpoint: endpoint,
		Keys: store.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	return NewDispatcher(Config{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subject:         "mailto:ops@example.com",
	}, zap.NewNop())
}

func TestNotifySkipsWhenUnconfigured(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{}, zap.NewNop())
	assert.False(t, d.Configured())

	d.Notify(context.Background(), []store.Member{
		{ID: "m1", PushSubscription: testSubscription(t, srv.URL)},
	}, Payload{Title: "hi"})

	assert.Equal(t, int64(0), hits.Load())
}

func TestNotifyDeliversToSubscribedMembers(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := testDispatcher(t)
	require.True(t, d.Configured())

	members := []store.Member{
		{ID: "m1", PushSubscription: testSubscription(t, srv.URL)},
		{ID: "m2"}, // no subscription, skipped
		{ID: "m3", PushSubscription: testSubscription(t, srv.URL)},
	}

	d.Notify(context.Background(), members, Payload{
		Title: "משימות חדשות",
		Body:  "נוספו 2 משימות",
	})

	assert.Equal(t, int64(2), hits.Load())
}

func TestNotifySurvivesRejectedEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	d := testDispatcher(t)

	// Must complete without panicking or reporting an error.
	d.Notify(context.Background(), []store.Member{
		{ID: "m1", PushSubscription: testSubscription(t, srv.URL)},
	}, Payload{Title: "hi"})
}
