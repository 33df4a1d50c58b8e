package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, newPgTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	users          *UserStore
	roles          *RoleStore
	games          *GameStore
	participations *GameParticipationStore
}

func newPgTx(q querier) *pgTx {
	return &pgTx{
		users:          &UserStore{db: q},
		roles:          &RoleStore{db: q},
		games:          &GameStore{db: q},
		participations: &GameParticipationStore{db: q},
	}
}

func (t *pgTx) Users() UserRepo                   { return t.users }
func (t *pgTx) Roles() RoleRepo                   { return t.roles }
func (t *pgTx) Games() GameRepo                   { return t.games }
func (t *pgTx) Participations() ParticipationRepo { return t.participations }

// mapPgError translates constraint violations into the model error taxonomy.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: invalid reference: %s", models.ErrNotFound, pgErr.Message)
		}
	}
	return err
}
