package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"

	"github.com/jackc/pgx/v5"
)

type UserStore struct {
	db querier
}

// Upsert is last-write-wins: the upstream-owned columns are overwritten,
// created_at is only set on insert.
func (r *UserStore) Upsert(ctx context.Context, id int64, f models.UserFields) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
        INSERT INTO users (id, email, display_name, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET email = EXCLUDED.email,
            display_name = EXCLUDED.display_name
    `
	if _, err := r.db.Exec(ctx, query, id, f.Email, f.DisplayName, createdAt); err != nil {
		return fmt.Errorf("upsert user %d: %w", id, mapPgError(err))
	}
	return nil
}

// Delete removes the replica; user_roles rows go with it through the
// cascade. Games are never touched.
func (r *UserStore) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UserStore) Get(ctx context.Context, id int64) (*models.UserReplica, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, email, display_name, created_at, last_login
        FROM users
        WHERE id = $1
    `, id)

	u := &models.UserReplica{}
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.CreatedAt,
		&u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	rows, err := r.db.Query(ctx, `
        SELECT r.id, r.name
        FROM roles r
        JOIN user_roles ur ON ur.role_id = r.id
        WHERE ur.user_id = $1
        ORDER BY r.id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("get roles of user %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var role models.RoleReplica
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}

	return u, rows.Err()
}

func (r *UserStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists user %d: %w", id, err)
	}
	return exists, nil
}

func (r *UserStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO user_roles (user_id, role_id)
        VALUES ($1, $2)
        ON CONFLICT DO NOTHING
    `, userID, roleID)
	if err != nil {
		return fmt.Errorf("assign role %d to user %d: %w", roleID, userID, mapPgError(err))
	}
	return nil
}
