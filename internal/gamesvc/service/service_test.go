package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

type published struct {
	topic   string
	key     string
	payload any
}

type fakeEmitter struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (e *fakeEmitter) Publish(ctx context.Context, topic, key string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, published{topic: topic, key: key, payload: payload})
	return nil
}

func (e *fakeEmitter) byTopic(topic string) []published {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []published
	for _, p := range e.sent {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *fakeAudit) Record(ctx context.Context, e models.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *fakeAudit) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Kind)
	}
	return out
}

// manualClock hands out a fixed time that tests move forward explicitly.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seedUser(t *testing.T, s store.Store, id int64, email, name string) {
	t.Helper()
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Users().Upsert(ctx, id, models.UserFields{Email: email, DisplayName: name, CreatedAt: time.Now().UTC()})
	})
	require.NoError(t, err)
}

func userExists(t *testing.T, s store.Store, id int64) bool {
	t.Helper()
	var ok bool
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = tx.Users().Exists(ctx, id)
		return err
	})
	require.NoError(t, err)
	return ok
}
