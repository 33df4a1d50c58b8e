package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

var errDiskFull = errors.New("disk full")

// failingStore makes Games().Update fail on selected calls, counted across
// transactions.
type failingStore struct {
	store.Store
	calls  int
	failOn func(call int) bool
}

func (s *failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, failingTx{Tx: tx, s: s})
	})
}

type failingTx struct {
	store.Tx
	s *failingStore
}

func (t failingTx) Games() store.GameRepo {
	return failingGames{GameRepo: t.Tx.Games(), s: t.s}
}

type failingGames struct {
	store.GameRepo
	s *failingStore
}

func (g failingGames) Update(ctx context.Context, game *models.Game) error {
	g.s.calls++
	if g.s.failOn != nil && g.s.failOn(g.s.calls) {
		return errDiskFull
	}
	return g.GameRepo.Update(ctx, game)
}

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

func insertGame(t *testing.T, s store.Store, name string, creator, legacy int64) int64 {
	t.Helper()
	g := &models.Game{
		Name:         name,
		Status:       models.StatusActivo,
		CreatedAt:    time.Now().UTC(),
		LastUpdated:  time.Now().UTC(),
		CreatorID:    nullID(creator),
		LegacyUserID: nullID(legacy),
	}
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Games().Create(ctx, g)
	})
	require.NoError(t, err)
	return g.ID
}

func loadGame(t *testing.T, s store.Store, id int64) *models.Game {
	t.Helper()
	var g *models.Game
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		g, err = tx.Games().Get(ctx, id)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, g)
	return g
}

func newSweeper(s store.Store, emitter Emitter, audit AuditLog, opts ReconcileOptions) *ReconcileService {
	if opts.RetryMinInterval == 0 {
		opts.RetryMinInterval = time.Millisecond
		opts.RetryMaxInterval = 5 * time.Millisecond
	}
	return NewReconcileService(s, NewReplicaService(s), emitter, audit, opts)
}

func TestSweepRebindsToLegacyUser(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedUser(t, s, 7, "ana@x.io", "Ana")
	emitter := &fakeEmitter{}
	audit := &fakeAudit{}

	id := insertGame(t, s, "Dangling", 99, 7)
	healthy := insertGame(t, s, "Healthy", 7, 7)

	report, err := newSweeper(s, emitter, audit, ReconcileOptions{Republish: true}).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 2, Dangling: 1, Rebound: 1, Batches: 1}, report)

	g := loadGame(t, s, id)
	assert.Equal(t, nullID(7), g.CreatorID)
	assert.False(t, g.Orphaned)
	assert.Equal(t, nullID(7), loadGame(t, s, healthy).CreatorID)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditCreatorRebound, audit.entries[0].Kind)
	assert.Equal(t, "99", audit.entries[0].From)
	assert.Equal(t, "7", audit.entries[0].To)

	sent := emitter.byTopic(comm.TopicGameStatusChanged)
	require.Len(t, sent, 1)
	projection := sent[0].payload.(comm.GameProjection)
	require.NotNil(t, projection.UserId)
	assert.Equal(t, int64(7), *projection.UserId)
}

func TestSweepOrphansUnresolvableGames(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedUser(t, s, 5, "five@x.io", "Five")
	emitter := &fakeEmitter{}

	withLegacy := insertGame(t, s, "Legacy", 5, 5)
	noLegacy := insertGame(t, s, "Bare", 6, 0)

	_, err := NewReplicaService(s).Delete(ctx, 5)
	require.NoError(t, err)

	report, err := newSweeper(s, emitter, nil, ReconcileOptions{}).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Orphaned)

	g := loadGame(t, s, withLegacy)
	assert.False(t, g.CreatorID.Valid)
	assert.True(t, g.Orphaned)
	require.NotNil(t, g.UserRef())
	assert.Equal(t, int64(5), *g.UserRef())

	g = loadGame(t, s, noLegacy)
	assert.False(t, g.CreatorID.Valid)
	assert.True(t, g.Orphaned)
	assert.Nil(t, g.UserRef())

	assert.Empty(t, emitter.sent, "republish is off")

	// nothing left to repair
	report, err = newSweeper(s, emitter, nil, ReconcileOptions{}).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestSweepCreatesStubUsers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	replicas := NewReplicaService(s)
	require.NoError(t, replicas.EnsureRoles(ctx))
	audit := &fakeAudit{}

	id := insertGame(t, s, "Stubbed", 12, 12)

	report, err := newSweeper(s, nil, audit, ReconcileOptions{CreateStubs: true, Republish: true}).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stubbed)
	assert.Equal(t, 0, report.Orphaned)

	u, err := replicas.Get(ctx, 12)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user12@example.com", u.Email)
	assert.Equal(t, "User 12", u.DisplayName)
	assert.True(t, u.HasRole(models.RoleUser))

	g := loadGame(t, s, id)
	assert.Equal(t, nullID(12), g.CreatorID)
	assert.False(t, g.Orphaned)
	assert.Equal(t, []string{models.AuditStubCreated}, audit.kinds())
}

func TestSweepFailureRollsBackWholePass(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedUser(t, mem, 7, "ana@x.io", "Ana")
	first := insertGame(t, mem, "First", 90, 7)
	second := insertGame(t, mem, "Second", 91, 7)

	s := &failingStore{Store: mem, failOn: func(call int) bool { return call == 2 }}
	audit := &fakeAudit{}

	_, err := newSweeper(s, nil, audit, ReconcileOptions{}).Sweep(ctx)
	require.ErrorIs(t, err, models.ErrReconciliation)

	assert.Equal(t, nullID(90), loadGame(t, mem, first).CreatorID)
	assert.Equal(t, nullID(91), loadGame(t, mem, second).CreatorID)
	assert.Empty(t, audit.entries)
}

func TestBatchedSweepKeepsCommittedBatches(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedUser(t, mem, 7, "ana@x.io", "Ana")
	first := insertGame(t, mem, "First", 90, 7)
	second := insertGame(t, mem, "Second", 91, 7)

	s := &failingStore{Store: mem, failOn: func(call int) bool { return call >= 2 }}

	report, err := newSweeper(s, nil, nil, ReconcileOptions{BatchSize: 1, MaxRetries: 2}).Sweep(ctx)
	require.ErrorIs(t, err, models.ErrReconciliation)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 1, report.Rebound)

	assert.Equal(t, nullID(7), loadGame(t, mem, first).CreatorID)
	assert.Equal(t, nullID(91), loadGame(t, mem, second).CreatorID)
}

func TestBatchedSweepRetriesFailedBatch(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedUser(t, mem, 7, "ana@x.io", "Ana")
	ids := []int64{
		insertGame(t, mem, "A", 90, 7),
		insertGame(t, mem, "B", 91, 7),
		insertGame(t, mem, "C", 92, 0),
	}

	s := &failingStore{Store: mem, failOn: func(call int) bool { return call == 2 }}

	report, err := newSweeper(s, nil, nil, ReconcileOptions{BatchSize: 1, MaxRetries: 3}).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 3, Dangling: 3, Rebound: 2, Orphaned: 1, Batches: 3}, report)

	assert.Equal(t, nullID(7), loadGame(t, mem, ids[0]).CreatorID)
	assert.Equal(t, nullID(7), loadGame(t, mem, ids[1]).CreatorID)
	assert.True(t, loadGame(t, mem, ids[2]).Orphaned)
}

func TestRunStopsWithContext(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		newSweeper(s, nil, nil, ReconcileOptions{}).Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
