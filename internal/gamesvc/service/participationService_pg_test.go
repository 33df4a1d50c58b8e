package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgdb "github.com/avvvet/gameview-services/internal/gamesvc/db"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
)

// newPgStore connects to POSTGRES_URL and migrates it; tests using it are
// skipped when the variable is not set.
func newPgStore(t *testing.T) *store.PgStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := pgdb.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pgdb.Migrate(ctx, pool))
	return store.NewPgStore(pool)
}

func TestPgConcurrentJoinsKeepOneActive(t *testing.T) {
	ctx := context.Background()
	s := newPgStore(t)

	// ids unique per run so repeated runs against one database do not meet
	userID := time.Now().UnixNano()
	seedUser(t, s, userID, "pg-join@x.io", "Pg")

	games := NewGameService(s, &fakeEmitter{}, nil, true)
	g, err := games.Create(ctx, models.GameCreateRequest{Name: "Pg race", Players: 2}, userID)
	require.NoError(t, err)
	ledger := NewParticipationService(s, true)

	var wg sync.WaitGroup
	ids := make([]int64, 10)
	errs := make([]error, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := ledger.Join(ctx, userID, g.ID)
			errs[i] = err
			if p != nil {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	count, err := ledger.ActiveCount(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = ledger.Leave(ctx, userID, g.ID)
	require.NoError(t, err)
}

func TestPgSecondActiveRowIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newPgStore(t)

	userID := time.Now().UnixNano()
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g := &models.Game{Name: "Pg index", Status: models.StatusActivo, CreatedAt: time.Now(), LastUpdated: time.Now()}
		require.NoError(t, tx.Games().Create(ctx, g))

		p := &models.GameParticipation{UserID: userID, GameID: g.ID, Active: true, JoinedAt: time.Now()}
		require.NoError(t, tx.Participations().Create(ctx, p))

		dup := &models.GameParticipation{UserID: userID, GameID: g.ID, Active: true, JoinedAt: time.Now()}
		return tx.Participations().Create(ctx, dup)
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}
