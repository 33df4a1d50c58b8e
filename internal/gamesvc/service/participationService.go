package service

import (
	"context"

	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ParticipationService is the ledger of who is playing which game and for
// how long. At most one participation per (user, game) is active at a time.
type ParticipationService struct {
	store         store.Store
	now           Clock
	includeActive bool
}

func NewParticipationService(s store.Store, includeActive bool) *ParticipationService {
	return &ParticipationService{store: s, now: utcNow, includeActive: includeActive}
}

// Join starts a session for the user in the game. Joining twice returns the
// session that is already open.
func (s *ParticipationService) Join(ctx context.Context, userID, gameID int64) (*models.GameParticipation, error) {
	var out *models.GameParticipation
	created := false

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		game, err := tx.Games().Get(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return &models.NotFoundError{Entity: "game", ID: gameID}
		}

		exists, err := tx.Users().Exists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return &models.NotFoundError{Entity: "user", ID: userID}
		}

		if err := tx.Participations().LockPair(ctx, userID, gameID); err != nil {
			return err
		}

		existing, err := tx.Participations().FindActive(ctx, userID, gameID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		p := &models.GameParticipation{
			UserID:        userID,
			GameID:        gameID,
			JoinedAt:      s.now(),
			Active:        true,
			MinutesPlayed: 0,
		}
		if err := tx.Participations().Create(ctx, p); err != nil {
			return err
		}
		out = p
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"userId": userID, "gameId": gameID, "participationId": out.ID})
	if created {
		logger.Info("participation started")
	} else {
		logger.Debug("user already participating, returning open participation")
	}
	return out, nil
}

// Leave closes the open session and fixes its minutes played. A closed
// session is never reopened; the next Join starts a new one.
func (s *ParticipationService) Leave(ctx context.Context, userID, gameID int64) (*models.GameParticipation, error) {
	var out *models.GameParticipation

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Participations().LockPair(ctx, userID, gameID); err != nil {
			return err
		}

		p, err := tx.Participations().FindActive(ctx, userID, gameID)
		if err != nil {
			return err
		}
		if p == nil {
			return &models.NotFoundError{Entity: "active participation for game", ID: gameID}
		}

		leftAt := s.now()
		p.LeftAt = &leftAt
		p.Active = false
		p.MinutesPlayed = models.MinutesBetween(p.JoinedAt, leftAt)

		if err := tx.Participations().Close(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"userId": userID, "gameId": gameID, "minutes": out.MinutesPlayed}).
		Info("participation closed")
	return out, nil
}

func (s *ParticipationService) ActiveCount(ctx context.Context, gameID int64) (int, error) {
	var count int
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		count, err = tx.Participations().CountActive(ctx, gameID)
		return err
	})
	return count, err
}

func (s *ParticipationService) ActiveParticipants(ctx context.Context, gameID int64) ([]*models.GameParticipation, error) {
	var out []*models.GameParticipation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Participations().ListActive(ctx, gameID)
		return err
	})
	return out, err
}

// AverageMinutes is the mean of minutes played over the game's
// participations, rounded to two decimals. With includeActive the open
// sessions count with their zero minutes, which pulls the mean down.
func (s *ParticipationService) AverageMinutes(ctx context.Context, gameID int64, includeActive bool) (decimal.Decimal, error) {
	var avg decimal.Decimal
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		avg, err = averageMinutes(ctx, tx, gameID, includeActive)
		return err
	})
	return avg, err
}

// Metrics uses the service's configured averaging mode.
func (s *ParticipationService) Metrics(ctx context.Context, gameID int64) (*models.GameMetrics, error) {
	return s.MetricsWith(ctx, gameID, s.includeActive)
}

func (s *ParticipationService) MetricsWith(ctx context.Context, gameID int64, includeActive bool) (*models.GameMetrics, error) {
	var m *models.GameMetrics
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		game, err := tx.Games().Get(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return &models.NotFoundError{Entity: "game", ID: gameID}
		}
		m, err = gameMetrics(ctx, tx, gameID, includeActive)
		return err
	})
	return m, err
}

func gameMetrics(ctx context.Context, tx store.Tx, gameID int64, includeActive bool) (*models.GameMetrics, error) {
	count, err := tx.Participations().CountActive(ctx, gameID)
	if err != nil {
		return nil, err
	}
	avg, err := averageMinutes(ctx, tx, gameID, includeActive)
	if err != nil {
		return nil, err
	}
	return &models.GameMetrics{GameID: gameID, ActiveParticipants: count, AverageMinutes: avg}, nil
}

func averageMinutes(ctx context.Context, tx store.Tx, gameID int64, includeActive bool) (decimal.Decimal, error) {
	sum, n, err := tx.Participations().MinutesStats(ctx, gameID, includeActive)
	if err != nil {
		return decimal.Zero, err
	}
	if n == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(n), 2), nil
}
