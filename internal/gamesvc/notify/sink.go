package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avvvet/gameview-services/internal/comm"
)

const (
	AdminDestination = "/topic/admin/notifications"
	gameErrorsFormat = "/topic/games/%d/errors"
)

func GameErrorsDestination(gameID int64) string {
	return fmt.Sprintf(gameErrorsFormat, gameID)
}

// Sink delivers a notification to a push destination. Delivery to browsers
// is done by the gateway subscribed to the sink's subject.
type Sink interface {
	Publish(ctx context.Context, destination string, payload any) error
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NatsSink wraps every notification in a comm.Notification envelope and
// publishes it on one core NATS subject.
type NatsSink struct {
	conn    natsPublisher
	subject string
	timeout time.Duration
}

func NewNatsSink(conn natsPublisher, subject string, timeout time.Duration) *NatsSink {
	return &NatsSink{conn: conn, subject: subject, timeout: timeout}
}

func (s *NatsSink) Publish(ctx context.Context, destination string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification for %s: %w", destination, err)
	}
	envelope, err := json.Marshal(comm.Notification{Destination: destination, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal notification envelope: %w", err)
	}

	if err := s.conn.Publish(s.subject, envelope); err != nil {
		return fmt.Errorf("publish notification to %s: %w", destination, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush notification to %s: %w", destination, err)
	}
	return nil
}
