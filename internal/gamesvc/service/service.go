package service

import (
	"context"
	"time"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// Emitter publishes outbound domain events. Implementations bound every call
// by a timeout; a returned error never undoes committed local state.
type Emitter interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// AuditLog records game history. It must not fail the caller.
type AuditLog interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, models.AuditEntry) {}

// Clock returns the current time; tests replace it.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
