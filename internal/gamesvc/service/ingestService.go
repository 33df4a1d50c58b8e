package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	log "github.com/sirupsen/logrus"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// IngestService applies user lifecycle events from the auth service to the
// replica store. Delivery may repeat or reorder events; every handler is an
// idempotent upsert or delete, the last arrival wins.
type IngestService struct {
	replicas *ReplicaService
}

func NewIngestService(replicas *ReplicaService) *IngestService {
	return &IngestService{replicas: replicas}
}

// Handle consumes one raw user-events message. Malformed and unknown events
// are logged and dropped (nil). Only store failures are returned, so the
// caller can ask the broker for redelivery.
func (s *IngestService) Handle(ctx context.Context, data []byte) error {
	var event comm.UserEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warnf("dropping malformed user event: %s", err)
		return nil
	}

	err := s.Apply(ctx, event)
	switch {
	case err == nil:
		return nil
	case models.IsValidation(err):
		log.WithFields(log.Fields{"eventType": event.EventType, "userId": event.UserId}).
			Warnf("dropping invalid user event: %s", err)
		return nil
	default:
		return err
	}
}

func (s *IngestService) Apply(ctx context.Context, event comm.UserEvent) error {
	if event.UserId <= 0 {
		return &models.ValidationError{Field: "userId", Reason: fmt.Sprintf("must be positive, got %d", event.UserId)}
	}

	logger := log.WithFields(log.Fields{"eventType": event.EventType, "userId": event.UserId})

	switch event.EventType {
	case comm.UserCreated, comm.UserUpdated:
		fields := models.UserFields{Email: event.Email, DisplayName: event.Name}
		if event.EventType == comm.UserCreated {
			fields.CreatedAt = parseTimestamp(event.Timestamp)
		}
		if err := s.replicas.Upsert(ctx, event.UserId, fields); err != nil {
			return fmt.Errorf("apply %s: %w", event.EventType, err)
		}
		logger.Info("user replica upserted")
	case comm.UserDeleted:
		deleted, err := s.replicas.Delete(ctx, event.UserId)
		if err != nil {
			return fmt.Errorf("apply %s: %w", event.EventType, err)
		}
		logger.Infof("user replica deleted: %t", deleted)
	default:
		logger.Debug("ignoring unknown user event type")
	}
	return nil
}

// parseTimestamp returns the zero time when ts is empty or unreadable.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC()
		}
	}
	log.Debugf("unreadable user event timestamp %q", ts)
	return time.Time{}
}
