// Package notify tells users about messages that arrived while they had no
// live connection.
package notify

import (
	"context"
	"errors"
	"unicode/utf8"

	"duet/internal/models"
)

const previewLength = 120

type Notification struct {
	RecipientID string `json:"recipient_id"`
	FromUserID  string `json:"from_user_id"`
	From        string `json:"from"`
	MessageID   string `json:"message_id"`
	Preview     string `json:"preview"`
	Timestamp   int64  `json:"timestamp"`
}

func NewNotification(m models.Message, fromName string) Notification {
	return Notification{
		RecipientID: m.ToUserID,
		FromUserID:  m.FromUserID,
		From:        fromName,
		MessageID:   m.ID,
		Preview:     preview(m.Text),
		Timestamp:   m.Timestamp,
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "…"
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
