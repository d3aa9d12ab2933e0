package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"duet/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

const pushTTL = 60 * 60 * 24

type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID, endpoint string) error
}

type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

type WebPushNotifier struct {
	cfg    WebPushConfig
	subs   SubscriptionStore
	client *http.Client
}

func NewWebPushNotifier(cfg WebPushConfig, subs SubscriptionStore) *WebPushNotifier {
	return &WebPushNotifier{
		cfg:    cfg,
		subs:   subs,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends to every subscription of the recipient. Subscriptions the push
// service reports as gone are removed.
func (w *WebPushNotifier) Notify(ctx context.Context, n Notification) error {
	subs, err := w.subs.ListPushSubscriptions(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := w.send(ctx, payload, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPushNotifier) send(ctx context.Context, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subject,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             pushTTL,
	})
	if err != nil {
		return fmt.Errorf("web push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		slog.Info("removing expired push subscription", "user_id", sub.UserID, "endpoint", sub.Endpoint)
		return w.subs.DeletePushSubscription(ctx, sub.UserID, sub.Endpoint)
	case resp.StatusCode >= 400:
		return fmt.Errorf("web push to %s: status %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
