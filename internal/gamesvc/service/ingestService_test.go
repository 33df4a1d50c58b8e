package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

func newIngest() (*IngestService, *ReplicaService, *store.MemoryStore) {
	s := store.NewMemoryStore()
	replicas := NewReplicaService(s)
	return NewIngestService(replicas), replicas, s
}

func TestIngestCreatedThenUpdated(t *testing.T) {
	ctx := context.Background()
	ingest, replicas, _ := newIngest()

	created := []byte(`{"eventType":"USER_CREATED","userId":7,"email":"ana@x.io","name":"Ana","timestamp":"2024-03-01T10:00:00"}`)
	require.NoError(t, ingest.Handle(ctx, created))

	updated := []byte(`{"eventType":"USER_UPDATED","userId":7,"email":"ana@y.io","name":"Ana B","timestamp":"2024-04-01T10:00:00Z"}`)
	require.NoError(t, ingest.Handle(ctx, updated))

	u, err := replicas.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ana@y.io", u.Email)
	assert.Equal(t, "Ana B", u.DisplayName)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), u.CreatedAt)
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ingest, replicas, _ := newIngest()

	event := comm.UserEvent{EventType: comm.UserCreated, UserId: 3, Email: "b@x.io", Name: "B", Timestamp: "2024-01-01T00:00:00Z"}
	require.NoError(t, ingest.Apply(ctx, event))
	first, err := replicas.Get(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, ingest.Apply(ctx, event))
	second, err := replicas.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIngestUpdateBeforeCreateUpserts(t *testing.T) {
	ctx := context.Background()
	ingest, replicas, _ := newIngest()

	require.NoError(t, ingest.Apply(ctx, comm.UserEvent{EventType: comm.UserUpdated, UserId: 9, Email: "c@x.io", Name: "C"}))

	ok, err := replicas.ExistsByID(ctx, 9)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIngestDelete(t *testing.T) {
	ctx := context.Background()
	ingest, replicas, _ := newIngest()

	require.NoError(t, ingest.Apply(ctx, comm.UserEvent{EventType: comm.UserCreated, UserId: 4, Email: "d@x.io"}))
	require.NoError(t, ingest.Apply(ctx, comm.UserEvent{EventType: comm.UserDeleted, UserId: 4}))
	// a repeated delete is a no-op
	require.NoError(t, ingest.Apply(ctx, comm.UserEvent{EventType: comm.UserDeleted, UserId: 4}))

	ok, err := replicas.ExistsByID(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngestDropsBadInput(t *testing.T) {
	ctx := context.Background()
	ingest, _, s := newIngest()

	cases := map[string][]byte{
		"malformed json": []byte(`{"eventType":`),
		"missing id":     []byte(`{"eventType":"USER_CREATED","email":"e@x.io"}`),
		"missing email":  []byte(`{"eventType":"USER_CREATED","userId":5}`),
		"unknown type":   []byte(`{"eventType":"USER_RENAMED","userId":5,"email":"e@x.io"}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, ingest.Handle(ctx, data))
		})
	}
	assert.False(t, userExists(t, s, 5))
}

func TestIngestApplyReportsValidation(t *testing.T) {
	ingest, _, _ := newIngest()

	err := ingest.Apply(context.Background(), comm.UserEvent{EventType: comm.UserCreated, UserId: 0})
	assert.True(t, models.IsValidation(err))
}

// Events for different users may arrive in any order; an email moving
// between users must converge either way.
func TestIngestEmailSwapConvergesInAnyOrder(t *testing.T) {
	ctx := context.Background()
	ingest, replicas, _ := newIngest()

	require.NoError(t, ingest.Handle(ctx, []byte(`{"eventType":"USER_CREATED","userId":1,"email":"a@x.io"}`)))
	require.NoError(t, ingest.Handle(ctx, []byte(`{"eventType":"USER_CREATED","userId":2,"email":"b@x.io"}`)))

	// upstream order: 1 -> c@x.io, then 2 -> a@x.io; delivered reversed
	require.NoError(t, ingest.Handle(ctx, []byte(`{"eventType":"USER_UPDATED","userId":2,"email":"a@x.io"}`)))
	require.NoError(t, ingest.Handle(ctx, []byte(`{"eventType":"USER_UPDATED","userId":1,"email":"c@x.io"}`)))

	u1, err := replicas.Get(ctx, 1)
	require.NoError(t, err)
	u2, err := replicas.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "c@x.io", u1.Email)
	assert.Equal(t, "a@x.io", u2.Email)
}

func TestIngestReturnsStoreFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ingest, _, _ := newIngest()

	err := ingest.Handle(ctx, []byte(`{"eventType":"USER_CREATED","userId":1,"email":"a@x.io"}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, parseTimestamp("").IsZero())
	assert.True(t, parseTimestamp("yesterday").IsZero())
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), parseTimestamp("2024-01-02T03:04:05"))
	assert.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), parseTimestamp("2024-01-02T03:04:05+02:00"))
}
