package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"

	"github.com/jackc/pgx/v5"
)

type GameParticipationStore struct {
	db querier
}

const participationColumns = `id, user_id, game_id, joined_at, left_at, is_active, time_played_minutes`

func scanParticipation(row pgx.Row) (*models.GameParticipation, error) {
	p := &models.GameParticipation{}
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.GameID,
		&p.JoinedAt,
		&p.LeftAt,
		&p.Active,
		&p.MinutesPlayed,
	)
	return p, err
}

// LockPair takes a transaction-scoped advisory lock keyed on the pair, so two
// joins for the same user and game run one after the other. The partial
// unique index unique_active_participation backs it up.
func (s *GameParticipationStore) LockPair(ctx context.Context, userID, gameID int64) error {
	key := fmt.Sprintf("participation:%d:%d", userID, gameID)
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock participation %d/%d: %w", userID, gameID, err)
	}
	return nil
}

func (s *GameParticipationStore) FindActive(ctx context.Context, userID, gameID int64) (*models.GameParticipation, error) {
	p, err := scanParticipation(s.db.QueryRow(ctx, `
		SELECT `+participationColumns+`
		FROM game_participations
		WHERE user_id = $1 AND game_id = $2 AND is_active
		FOR UPDATE
	`, userID, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active participation: %w", err)
	}
	return p, nil
}

func (s *GameParticipationStore) Create(ctx context.Context, p *models.GameParticipation) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO game_participations (user_id, game_id, joined_at, left_at, is_active, time_played_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.UserID, p.GameID, p.JoinedAt, p.LeftAt, p.Active, p.MinutesPlayed).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create participation: %w", mapPgError(err))
	}
	return nil
}

func (s *GameParticipationStore) Close(ctx context.Context, p *models.GameParticipation) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE game_participations
		SET left_at = $2, is_active = false, time_played_minutes = $3
		WHERE id = $1 AND is_active
	`, p.ID, p.LeftAt, p.MinutesPlayed)
	if err != nil {
		return fmt.Errorf("close participation %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{Entity: "active participation", ID: p.ID}
	}
	return nil
}

func (s *GameParticipationStore) ListActive(ctx context.Context, gameID int64) ([]*models.GameParticipation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+participationColumns+`
		FROM game_participations
		WHERE game_id = $1 AND is_active
		ORDER BY joined_at
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	var out []*models.GameParticipation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *GameParticipationStore) CountActive(ctx context.Context, gameID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM game_participations WHERE game_id = $1 AND is_active
	`, gameID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active participations for game %d: %w", gameID, err)
	}
	return count, nil
}

func (s *GameParticipationStore) MinutesStats(ctx context.Context, gameID int64, includeActive bool) (int64, int64, error) {
	var sum, count int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(time_played_minutes), 0), COUNT(*)
		FROM game_participations
		WHERE game_id = $1 AND ($2 OR NOT is_active)
	`, gameID, includeActive).Scan(&sum, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("minutes stats for game %d: %w", gameID, err)
	}
	return sum, count, nil
}
