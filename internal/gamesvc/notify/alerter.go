package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

const (
	TypeGameError   = "GAME_ERROR"
	timestampLayout = "02/01/2006 15:04:05"
)

type GameLookup interface {
	Get(ctx context.Context, id int64) (*models.Game, error)
}

// AdminNotification is pushed to administrators when a player reports a
// problem with a game.
type AdminNotification struct {
	Type        string            `json:"type"`
	GameId      int64             `json:"gameId"`
	GameName    string            `json:"gameName"`
	GameStatus  models.GameStatus `json:"gameStatus"`
	Reporter    string            `json:"reporter"`
	ReporterId  int64             `json:"reporterId"`
	Description string            `json:"description"`
	Timestamp   string            `json:"timestamp"`
	Message     string            `json:"message"`
}

// ErrorAlerter turns event.game-error-reported into admin notifications.
type ErrorAlerter struct {
	games GameLookup
	sink  Sink
}

func NewErrorAlerter(games GameLookup, sink Sink) *ErrorAlerter {
	return &ErrorAlerter{games: games, sink: sink}
}

// Handle returns an error only when the game could not be read, so the
// event is redelivered. Bad events and failed deliveries are logged.
func (a *ErrorAlerter) Handle(ctx context.Context, data []byte) error {
	var event comm.GameErrorEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warnf("dropping malformed game error event: %s", err)
		return nil
	}

	logger := log.WithFields(log.Fields{"gameId": event.GameId, "reporter": event.ReportedByUserName})
	logger.Info("game error report received")

	game, err := a.games.Get(ctx, event.GameId)
	if errors.Is(err, models.ErrNotFound) || (err == nil && game == nil) {
		logger.Error("game for error report not found, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load game %d: %w", event.GameId, err)
	}

	n := buildNotification(event, game)
	for _, dest := range []string{AdminDestination, GameErrorsDestination(event.GameId)} {
		if err := a.sink.Publish(ctx, dest, n); err != nil {
			logger.Errorf("notification to %s not delivered: %s", dest, err)
		}
	}
	logger.Info("admins notified of game error")
	return nil
}

func buildNotification(event comm.GameErrorEvent, game *models.Game) AdminNotification {
	details := event.ErrorDescription
	if details == "" {
		details = "no details provided"
	}
	return AdminNotification{
		Type:        TypeGameError,
		GameId:      event.GameId,
		GameName:    event.GameName,
		GameStatus:  game.Status,
		Reporter:    event.ReportedByUserName,
		ReporterId:  event.ReportedByUserId,
		Description: event.ErrorDescription,
		Timestamp:   event.Timestamp.Format(timestampLayout),
		Message: fmt.Sprintf("ACTION REQUIRED! User %s reported a problem with game '%s'.\n"+
			"Current status: %s\n"+
			"Details: %s\n"+
			"Please set the game to PAUSADO and look into it.",
			event.ReportedByUserName, event.GameName, game.Status, details),
	}
}
