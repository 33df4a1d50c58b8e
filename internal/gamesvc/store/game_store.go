package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"

	"github.com/jackc/pgx/v5"
)

type GameStore struct {
	db querier
}

const gameColumns = `id, name, status, players, game_type, is_public, allow_spectators,
		enable_chat, record_stats, created_at, last_updated, time_elapsed,
		creator_id, legacy_user_id, orphaned`

func scanGame(row pgx.Row) (*models.Game, error) {
	game := &models.Game{}
	err := row.Scan(
		&game.ID,
		&game.Name,
		&game.Status,
		&game.Players,
		&game.GameType,
		&game.IsPublic,
		&game.AllowSpectators,
		&game.EnableChat,
		&game.RecordStats,
		&game.CreatedAt,
		&game.LastUpdated,
		&game.TimeElapsedSeconds,
		&game.CreatorID,
		&game.LegacyUserID,
		&game.Orphaned,
	)
	return game, err
}

func (s *GameStore) Create(ctx context.Context, g *models.Game) error {
	query := `
		INSERT INTO games (name, status, players, game_type, is_public, allow_spectators,
			enable_chat, record_stats, created_at, last_updated, time_elapsed,
			creator_id, legacy_user_id, orphaned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		g.Name, g.Status, g.Players, g.GameType, g.IsPublic, g.AllowSpectators,
		g.EnableChat, g.RecordStats, g.CreatedAt, g.LastUpdated, g.TimeElapsedSeconds,
		g.CreatorID, g.LegacyUserID, g.Orphaned,
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", mapPgError(err))
	}
	return nil
}

func (s *GameStore) Get(ctx context.Context, id int64) (*models.Game, error) {
	return s.get(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
}

func (s *GameStore) GetForUpdate(ctx context.Context, id int64) (*models.Game, error) {
	return s.get(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1 FOR UPDATE`, id)
}

func (s *GameStore) get(ctx context.Context, query string, id int64) (*models.Game, error) {
	game, err := scanGame(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Game not found
		}
		return nil, fmt.Errorf("failed to get game by ID: %w", err)
	}
	return game, nil
}

// Update writes every mutable column. There is no delete: cancelling a game
// is a status change.
func (s *GameStore) Update(ctx context.Context, g *models.Game) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE games
		SET name = $2, status = $3, players = $4, game_type = $5, is_public = $6,
			allow_spectators = $7, enable_chat = $8, record_stats = $9,
			last_updated = $10, time_elapsed = $11, creator_id = $12,
			legacy_user_id = $13, orphaned = $14
		WHERE id = $1
	`, g.ID, g.Name, g.Status, g.Players, g.GameType, g.IsPublic,
		g.AllowSpectators, g.EnableChat, g.RecordStats,
		g.LastUpdated, g.TimeElapsedSeconds, g.CreatorID,
		g.LegacyUserID, g.Orphaned)
	if err != nil {
		return fmt.Errorf("update game %d: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "game", ID: g.ID}
	}
	return nil
}

func (s *GameStore) List(ctx context.Context) ([]*models.Game, error) {
	return s.list(ctx, `SELECT `+gameColumns+` FROM games ORDER BY id`)
}

func (s *GameStore) ListWithCreator(ctx context.Context, afterID int64, limit int) ([]*models.Game, error) {
	if limit > 0 {
		return s.list(ctx, `
			SELECT `+gameColumns+`
			FROM games
			WHERE creator_id IS NOT NULL AND id > $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE`, afterID, limit)
	}
	return s.list(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE creator_id IS NOT NULL AND id > $1
		ORDER BY id
		FOR UPDATE`, afterID)
}

func (s *GameStore) list(ctx context.Context, query string, args ...any) ([]*models.Game, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game row: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return games, nil
}
