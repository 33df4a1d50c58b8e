package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"

	"github.com/jackc/pgx/v5"
)

type RoleStore struct {
	db querier
}

func (s *RoleStore) Ensure(ctx context.Context, r models.RoleReplica) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO roles (id, name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, r.ID, r.Name)
	if err != nil {
		return fmt.Errorf("ensure role %s: %w", r.Name, err)
	}
	return nil
}

func (s *RoleStore) GetByName(ctx context.Context, name string) (*models.RoleReplica, error) {
	var r models.RoleReplica
	err := s.db.QueryRow(ctx, `SELECT id, name FROM roles WHERE name = $1`, name).Scan(&r.ID, &r.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get role %s: %w", name, err)
	}
	return &r, nil
}
