package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

type gameFixture struct {
	store   *store.MemoryStore
	emitter *fakeEmitter
	audit   *fakeAudit
	clock   *manualClock
	games   *GameService
	ledger  *ParticipationService
}

func newGameFixture(t *testing.T) *gameFixture {
	t.Helper()
	f := &gameFixture{
		store:   store.NewMemoryStore(),
		emitter: &fakeEmitter{},
		audit:   &fakeAudit{},
		clock:   newManualClock(),
	}
	f.games = NewGameService(f.store, f.emitter, f.audit, true)
	f.games.now = f.clock.Now
	f.ledger = NewParticipationService(f.store, true)
	f.ledger.now = f.clock.Now

	seedUser(t, f.store, 7, "ana@x.io", "Ana")
	return f
}

func (f *gameFixture) create(t *testing.T, name string) *models.Game {
	t.Helper()
	g, err := f.games.Create(context.Background(), models.GameCreateRequest{Name: name, Players: 4, GameType: "board", IsPublic: true}, 7)
	require.NoError(t, err)
	return g
}

func statusPtr(s models.GameStatus) *models.GameStatus { return &s }

func TestCreateGame(t *testing.T) {
	f := newGameFixture(t)

	g := f.create(t, "  Catan ")
	assert.NotZero(t, g.ID)
	assert.Equal(t, "Catan", g.Name)
	assert.Equal(t, models.StatusActivo, g.Status)
	assert.Equal(t, f.clock.Now(), g.CreatedAt)
	assert.Equal(t, g.CreatedAt, g.LastUpdated)
	require.NotNil(t, g.UserRef())
	assert.Equal(t, int64(7), *g.UserRef())

	sent := f.emitter.byTopic(comm.TopicGameCreated)
	require.Len(t, sent, 1)
	projection := sent[0].payload.(comm.GameProjection)
	assert.Equal(t, g.ID, projection.ID)
	assert.Equal(t, string(models.StatusActivo), projection.Status)
	assert.Equal(t, 0, projection.ActiveParticipants)
	assert.Equal(t, []string{models.AuditGameCreated}, f.audit.kinds())
}

func TestCreateGameValidation(t *testing.T) {
	f := newGameFixture(t)

	_, err := f.games.Create(context.Background(), models.GameCreateRequest{Name: " "}, 7)
	assert.True(t, models.IsValidation(err))

	_, err = f.games.Create(context.Background(), models.GameCreateRequest{Name: "x", Players: -1}, 7)
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, f.emitter.sent)
}

func TestCreateGameKeepsStateWhenPublishFails(t *testing.T) {
	f := newGameFixture(t)
	f.emitter.err = models.ErrTransientBroker

	g := f.create(t, "Go")

	got, err := f.games.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Name)
}

func TestUpdatePublishesNewStatus(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Risk")

	_, err := f.ledger.Join(ctx, 7, g.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	updated, err := f.games.Update(ctx, g.ID, models.GameUpdate{Status: statusPtr(models.StatusPausado)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPausado, updated.Status)
	assert.True(t, updated.LastUpdated.After(g.LastUpdated))

	sent := f.emitter.byTopic(comm.TopicGameStatusChanged)
	require.Len(t, sent, 1)
	assert.Equal(t, "1", sent[0].key)
	projection := sent[0].payload.(comm.GameProjection)
	assert.Equal(t, string(models.StatusPausado), projection.Status)
	assert.Equal(t, f.clock.Now(), projection.LastUpdated)
	assert.Equal(t, 1, projection.ActiveParticipants)

	assert.Contains(t, f.audit.kinds(), models.AuditStatusChanged)
}

func TestUpdateRename(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Old")

	name := "New"
	updated, err := f.games.Update(ctx, g.ID, models.GameUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.Equal(t, models.StatusActivo, updated.Status)
	assert.Equal(t, []string{models.AuditGameCreated, models.AuditGameRenamed}, f.audit.kinds())

	empty := " "
	_, err = f.games.Update(ctx, g.ID, models.GameUpdate{Name: &empty})
	assert.True(t, models.IsValidation(err))
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Uno")

	_, err := f.games.ChangeStatus(ctx, g.ID, models.StatusCompletado)
	require.NoError(t, err)

	_, err = f.games.ChangeStatus(ctx, g.ID, models.StatusActivo)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	var te *models.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.StatusCompletado, te.From)

	_, err = f.games.ChangeStatus(ctx, g.ID, models.StatusCancelado)
	require.NoError(t, err)

	_, err = f.games.ChangeStatus(ctx, g.ID, models.StatusPausado)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	name := "renamed"
	_, err = f.games.Update(ctx, g.ID, models.GameUpdate{Name: &name})
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	got, err := f.games.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelado, got.Status)
	assert.Equal(t, "Uno", got.Name)
}

func TestUpdateUnknownGame(t *testing.T) {
	_, err := newGameFixture(t).games.ChangeStatus(context.Background(), 404, models.StatusPausado)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteIsSoftAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Poker")

	deleted, err := f.games.DeleteByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelado, deleted.Status)

	again, err := f.games.DeleteByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelado, again.Status)
	assert.Len(t, f.emitter.byTopic(comm.TopicGameStatusChanged), 1)

	games, err := f.games.List(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, string(models.StatusCancelado), games[0].Status, "cancelled games stay listed")

	_, err = f.games.DeleteByID(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// racingStore commits a cancel of gameID just before the first transaction
// it runs, the way a concurrent delete would.
type racingStore struct {
	store.Store
	gameID int64
	raced  bool
}

func (s *racingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if !s.raced {
		s.raced = true
		err := s.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			g, err := tx.Games().GetForUpdate(ctx, s.gameID)
			if err != nil {
				return err
			}
			g.Status = models.StatusCancelado
			return tx.Games().Update(ctx, g)
		})
		if err != nil {
			return err
		}
	}
	return s.Store.InTx(ctx, fn)
}

func TestDeleteRacingAnotherCancelSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Poker")

	racing := &racingStore{Store: f.store, gameID: g.ID}
	games := NewGameService(racing, f.emitter, f.audit, true)
	games.now = f.clock.Now

	deleted, err := games.DeleteByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelado, deleted.Status)
	assert.Empty(t, f.emitter.byTopic(comm.TopicGameStatusChanged), "the other cancel already won")

	again, err := games.DeleteByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelado, again.Status)
}

func TestListCarriesMetrics(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	a := f.create(t, "A")
	f.create(t, "B")

	_, err := f.ledger.Join(ctx, 7, a.ID)
	require.NoError(t, err)

	games, err := f.games.List(ctx)
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, 1, games[0].ActiveParticipants)
	assert.Equal(t, 0, games[1].ActiveParticipants)
}

func TestReportError(t *testing.T) {
	ctx := context.Background()
	f := newGameFixture(t)
	g := f.create(t, "Chess")

	event, err := f.games.ReportError(ctx, g.ID, 7, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", event.ReportedByUserName)
	assert.Equal(t, "No description", event.ErrorDescription)
	assert.Equal(t, "Chess", event.GameName)

	event, err = f.games.ReportError(ctx, g.ID, 99, "", "board froze")
	require.NoError(t, err)
	assert.Equal(t, "Unknown user", event.ReportedByUserName)

	event, err = f.games.ReportError(ctx, g.ID, 7, "Ana Admin", "x")
	require.NoError(t, err)
	assert.Equal(t, "Ana Admin", event.ReportedByUserName)

	sent := f.emitter.byTopic(comm.TopicGameErrorReported)
	require.Len(t, sent, 3)
	assert.Equal(t, "1", sent[0].key)

	_, err = f.games.ReportError(ctx, 999, 7, "", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
