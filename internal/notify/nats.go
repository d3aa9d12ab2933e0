package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "chat.notify."

// NATSNotifier publishes notifications on chat.notify.<user_id>.
type NATSNotifier struct {
	nc *nats.Conn
}

func NewNATSNotifier(url string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("duet"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{nc: nc}, nil
}

func Subject(userID string) string {
	return subjectPrefix + userID
}

func (n *NATSNotifier) Notify(ctx context.Context, note Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(Subject(note.RecipientID))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Message-Id", note.MessageID)

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (n *NATSNotifier) Close() error {
	return n.nc.Drain()
}
