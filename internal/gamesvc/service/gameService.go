package service

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/store"
	log "github.com/sirupsen/logrus"
)

// GameService owns the Game aggregate. Every mutation commits first and then
// publishes; a failed publish is logged and the committed state stays.
type GameService struct {
	store         store.Store
	emitter       Emitter
	audit         AuditLog
	now           Clock
	includeActive bool
}

func NewGameService(s store.Store, emitter Emitter, audit AuditLog, includeActive bool) *GameService {
	if audit == nil {
		audit = nopAudit{}
	}
	return &GameService{store: s, emitter: emitter, audit: audit, now: utcNow, includeActive: includeActive}
}

// Create stores a new ACTIVO game owned by creatorID and announces it.
func (s *GameService) Create(ctx context.Context, req models.GameCreateRequest, creatorID int64) (*models.Game, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	game := &models.Game{
		Name:            strings.TrimSpace(req.Name),
		Status:          models.StatusActivo,
		Players:         req.Players,
		GameType:        req.GameType,
		IsPublic:        req.IsPublic,
		AllowSpectators: req.AllowSpectators,
		EnableChat:      req.EnableChat,
		RecordStats:     req.RecordStats,
		CreatedAt:       now,
		LastUpdated:     now,
	}
	if creatorID > 0 {
		game.CreatorID = sql.NullInt64{Int64: creatorID, Valid: true}
		game.LegacyUserID = sql.NullInt64{Int64: creatorID, Valid: true}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Games().Create(ctx, game)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.AuditEntry{Kind: models.AuditGameCreated, GameID: game.ID, UserID: game.UserRef(), To: string(game.Status), At: now})
	s.publish(ctx, comm.TopicGameCreated, game, &models.GameMetrics{GameID: game.ID})

	log.WithFields(log.Fields{"gameId": game.ID, "creatorId": creatorID}).Info("game created")
	return game, nil
}

func (s *GameService) Get(ctx context.Context, id int64) (*models.Game, error) {
	var game *models.Game
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		game, err = tx.Games().Get(ctx, id)
		if err != nil {
			return err
		}
		if game == nil {
			return &models.NotFoundError{Entity: "game", ID: id}
		}
		return nil
	})
	return game, err
}

// List returns every game, cancelled ones included, with its participation
// metrics. A game whose metrics cannot be read is listed with zero metrics.
func (s *GameService) List(ctx context.Context) ([]comm.GameProjection, error) {
	var out []comm.GameProjection
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		games, err := tx.Games().List(ctx)
		if err != nil {
			return err
		}
		out = make([]comm.GameProjection, 0, len(games))
		for _, g := range games {
			m, err := gameMetrics(ctx, tx, g.ID, s.includeActive)
			if err != nil {
				log.Errorf("Error [GameService.List] metrics for game %d: %s", g.ID, err)
				m = nil
			}
			out = append(out, NewGameProjection(g, m))
		}
		return nil
	})
	return out, err
}

// Update renames and/or moves the game to another status. Status changes go
// through the transition table; CANCELADO is terminal.
func (s *GameService) Update(ctx context.Context, id int64, upd models.GameUpdate) (*models.Game, error) {
	return s.update(ctx, id, upd, false)
}

// update applies upd under the row lock. With cancel set, a game that is
// already cancelled is returned unchanged.
func (s *GameService) update(ctx context.Context, id int64, upd models.GameUpdate, cancel bool) (*models.Game, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	var (
		game    *models.Game
		metrics *models.GameMetrics
		from    models.GameStatus
		oldName string
		noop    bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		game, err = tx.Games().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if game == nil {
			return &models.NotFoundError{Entity: "game", ID: id}
		}
		from, oldName = game.Status, game.Name
		if cancel && game.Status == models.StatusCancelado {
			noop = true
			return nil
		}

		if upd.Status != nil {
			if err := game.Status.Transition(*upd.Status); err != nil {
				return err
			}
			game.Status = *upd.Status
		} else if game.Status.Terminal() {
			return &models.TransitionError{From: game.Status, To: game.Status}
		}
		if upd.Name != nil {
			game.Name = strings.TrimSpace(*upd.Name)
		}
		game.LastUpdated = s.now()

		if err := tx.Games().Update(ctx, game); err != nil {
			return err
		}
		metrics, err = gameMetrics(ctx, tx, id, s.includeActive)
		return err
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return game, nil
	}

	if from != game.Status {
		s.audit.Record(ctx, models.AuditEntry{Kind: models.AuditStatusChanged, GameID: id, From: string(from), To: string(game.Status), At: game.LastUpdated})
	}
	if oldName != game.Name {
		s.audit.Record(ctx, models.AuditEntry{Kind: models.AuditGameRenamed, GameID: id, From: oldName, To: game.Name, At: game.LastUpdated})
	}
	s.publish(ctx, comm.TopicGameStatusChanged, game, metrics)

	log.WithFields(log.Fields{"gameId": id, "from": from, "to": game.Status}).Info("game updated")
	return game, nil
}

func (s *GameService) ChangeStatus(ctx context.Context, id int64, status models.GameStatus) (*models.Game, error) {
	return s.Update(ctx, id, models.GameUpdate{Status: &status})
}

// DeleteByID cancels the game. The row and its history stay; cancelling an
// already cancelled game changes nothing and publishes nothing.
func (s *GameService) DeleteByID(ctx context.Context, id int64) (*models.Game, error) {
	status := models.StatusCancelado
	return s.update(ctx, id, models.GameUpdate{Status: &status}, true)
}

// ReportError publishes a user's problem report about a game. The reporter
// name comes from the request, falling back to the user replica.
func (s *GameService) ReportError(ctx context.Context, gameID, reporterID int64, reporterName, description string) (*comm.GameErrorEvent, error) {
	var event *comm.GameErrorEvent
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		game, err := tx.Games().Get(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			return &models.NotFoundError{Entity: "game", ID: gameID}
		}

		name := strings.TrimSpace(reporterName)
		if name == "" && reporterID > 0 {
			user, err := tx.Users().Get(ctx, reporterID)
			if err != nil {
				return err
			}
			if user != nil {
				name = user.DisplayName
			}
		}
		if name == "" {
			name = "Unknown user"
		}
		if strings.TrimSpace(description) == "" {
			description = "No description"
		}

		event = &comm.GameErrorEvent{
			GameId:             game.ID,
			GameName:           game.Name,
			ReportedByUserId:   reporterID,
			ReportedByUserName: name,
			ErrorDescription:   description,
			Timestamp:          s.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	reporter := reporterID
	s.audit.Record(ctx, models.AuditEntry{Kind: models.AuditErrorReported, GameID: gameID, UserID: &reporter, Detail: event.ErrorDescription, At: event.Timestamp})
	if err := s.emitter.Publish(ctx, comm.TopicGameErrorReported, strconv.FormatInt(gameID, 10), event); err != nil {
		log.Errorf("Error [GameService.ReportError] publish for game %d: %s", gameID, err)
	}
	return event, nil
}

func (s *GameService) publish(ctx context.Context, topic string, game *models.Game, m *models.GameMetrics) {
	projection := NewGameProjection(game, m)
	if err := s.emitter.Publish(ctx, topic, strconv.FormatInt(game.ID, 10), projection); err != nil {
		log.WithFields(log.Fields{"gameId": game.ID, "topic": topic}).
			Errorf("event not published, local state kept: %s", err)
	}
}
