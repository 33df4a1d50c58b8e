package store

import (
	"context"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// Store runs units of work. Every mutation in the service goes through InTx;
// when fn returns an error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

type Tx interface {
	Users() UserRepo
	Roles() RoleRepo
	Games() GameRepo
	Participations() ParticipationRepo
}

// Get methods return (nil, nil) when the row does not exist.

type UserRepo interface {
	Upsert(ctx context.Context, id int64, f models.UserFields) error
	Delete(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (*models.UserReplica, error)
	Exists(ctx context.Context, id int64) (bool, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
}

type RoleRepo interface {
	Ensure(ctx context.Context, r models.RoleReplica) error
	GetByName(ctx context.Context, name string) (*models.RoleReplica, error)
}

type GameRepo interface {
	Create(ctx context.Context, g *models.Game) error
	Get(ctx context.Context, id int64) (*models.Game, error)
	// GetForUpdate locks the row until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Game, error)
	Update(ctx context.Context, g *models.Game) error
	List(ctx context.Context) ([]*models.Game, error)
	// ListWithCreator returns games with a non-null creator reference and
	// id > afterID, ordered by id, locked for update. limit <= 0 means all.
	ListWithCreator(ctx context.Context, afterID int64, limit int) ([]*models.Game, error)
}

type ParticipationRepo interface {
	// LockPair serializes join/leave for one (user, game) pair until the
	// transaction ends.
	LockPair(ctx context.Context, userID, gameID int64) error
	FindActive(ctx context.Context, userID, gameID int64) (*models.GameParticipation, error)
	Create(ctx context.Context, p *models.GameParticipation) error
	// Close persists LeftAt/MinutesPlayed and clears Active. It fails with
	// models.ErrNotFound when the row is no longer active.
	Close(ctx context.Context, p *models.GameParticipation) error
	ListActive(ctx context.Context, gameID int64) ([]*models.GameParticipation, error)
	CountActive(ctx context.Context, gameID int64) (int, error)
	// MinutesStats returns the sum of minutes played and the number of rows
	// for the game, optionally excluding rows that are still active.
	MinutesStats(ctx context.Context, gameID int64, includeActive bool) (sum int64, count int64, err error)
}
