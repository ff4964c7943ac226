// Package push fans out web-push notifications to household members.
// Delivery is best-effort: per-member failures are logged and isolated,
// and nothing here ever returns an error to the caller.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/store"
)

const notificationTTL = 3600 // seconds

// Config holds VAPID keys. Empty keys disable push delivery.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

// Payload is the notification content shown to members.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Dispatcher sends web-push notifications.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewDispatcher creates a push dispatcher.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, logger: logger}
}

// Configured reports whether VAPID keys are present.
func (d *Dispatcher) Configured() bool {
	return d.cfg.VAPIDPublicKey != "" && d.cfg.VAPIDPrivateKey != ""
}

// Notify sends the payload to every member with a stored subscription.
// Members without a subscription are skipped. Each delivery runs in its
// own goroutine; Notify returns when all attempts finished.
func (d *Dispatcher) Notify(ctx context.Context, members []store.Member, payload Payload) {
	if !d.Configured() {
		d.logger.Warn("VAPID keys not configured, skipping push notifications")
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal push payload", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, m := range members {
		if m.PushSubscription == nil {
			continue
		}
		wg.Add(1)
		go func(m store.Member) {
			defer wg.Done()
			d.send(ctx, m, body)
		}(m)
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, m store.Member, body []byte) {
	sub := &webpush.Subscription{
		Endpoint: m.PushSubscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: m.PushSubscription.Keys.P256dh,
			Auth:   m.PushSubscription.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		Subscriber:      d.cfg.Subject,
		VAPIDPublicKey:  d.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: d.cfg.VAPIDPrivateKey,
		TTL:             notificationTTL,
	})
	if err != nil {
		d.logger.Error("push delivery failed",
			zap.String("member_id", m.ID),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		d.logger.Warn("push subscription expired",
			zap.String("member_id", m.ID),
			zap.Int("status", resp.StatusCode),
		)
	default:
		if resp.StatusCode >= 400 {
			d.logger.Error("push endpoint rejected notification",
				zap.String("member_id", m.ID),
				zap.Int("status", resp.StatusCode),
			)
		}
	}
}
