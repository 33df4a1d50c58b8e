package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
	"github.com/avvvet/gameview-services/internal/gamesvc/service"
)

const (
	CmdCreateGame  = "create-game"
	CmdGetGame     = "get-game"
	CmdListGames   = "list-games"
	CmdUpdateGame  = "update-game"
	CmdDeleteGame  = "delete-game"
	CmdJoinGame    = "join-game"
	CmdLeaveGame   = "leave-game"
	CmdGameMetrics = "game-metrics"
	CmdReportError = "report-error"
)

// Broker answers game commands sent over NATS request/reply.
type Broker struct {
	Conn           *nats.Conn
	GameService    *service.GameService
	Ledger         *service.ParticipationService
	HandlerTimeout time.Duration
}

func NewBroker(nc *nats.Conn, gameService *service.GameService, ledger *service.ParticipationService, timeout time.Duration) *Broker {
	return &Broker{
		Conn:           nc,
		GameService:    gameService,
		Ledger:         ledger,
		HandlerTimeout: timeout,
	}
}

// consume commands (Queue), one replica of the service answers each request
func (b *Broker) QueueSubscribeCommands(topic, queueGroup string) (*nats.Subscription, error) {
	return b.Conn.QueueSubscribe(topic, queueGroup, b.handleMessage)
}

func (b *Broker) handleMessage(msg *nats.Msg) {
	var cmd comm.Command
	var reply comm.Reply
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		log.Errorf("Error nats command %s", err)
		reply = comm.Reply{Code: http.StatusBadRequest, Error: "malformed command"}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), b.HandlerTimeout)
		reply = b.dispatch(ctx, cmd)
		cancel()
	}

	if msg.Reply == "" {
		log.Debugf("command %s had no reply subject", cmd.Type)
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		log.Errorf("Error marshal reply for %s: %s", cmd.Type, err)
		return
	}
	if err := msg.Respond(payload); err != nil {
		log.Errorf("Error responding to %s: %s", cmd.Type, err)
	}
}

func (b *Broker) dispatch(ctx context.Context, cmd comm.Command) comm.Reply {
	var (
		data any
		code = http.StatusOK
		err  error
	)

	switch cmd.Type {
	case CmdCreateGame:
		var req comm.CreateGameRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		var game *models.Game
		if game, err = b.GameService.Create(ctx, createRequest(req), req.UserId); err == nil {
			data = service.NewGameProjection(game, &models.GameMetrics{GameID: game.ID})
			code = http.StatusCreated
		}
	case CmdGetGame:
		var req comm.GameRef
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		var game *models.Game
		if game, err = b.GameService.Get(ctx, req.GameId); err == nil {
			data, err = b.project(ctx, game)
		}
	case CmdListGames:
		data, err = b.GameService.List(ctx)
	case CmdUpdateGame:
		var req comm.UpdateGameRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		upd := models.GameUpdate{Name: req.Name}
		if req.Status != nil {
			var st models.GameStatus
			if st, err = models.ParseGameStatus(*req.Status); err != nil {
				break
			}
			upd.Status = &st
		}
		var game *models.Game
		if game, err = b.GameService.Update(ctx, req.GameId, upd); err == nil {
			data, err = b.project(ctx, game)
		}
	case CmdDeleteGame:
		var req comm.GameRef
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		var game *models.Game
		if game, err = b.GameService.DeleteByID(ctx, req.GameId); err == nil {
			data, err = b.project(ctx, game)
		}
	case CmdJoinGame:
		var req comm.ParticipationRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		data, err = b.Ledger.Join(ctx, req.UserId, req.GameId)
	case CmdLeaveGame:
		var req comm.ParticipationRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		data, err = b.Ledger.Leave(ctx, req.UserId, req.GameId)
	case CmdGameMetrics:
		var req comm.MetricsRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		if req.IncludeActive != nil {
			data, err = b.Ledger.MetricsWith(ctx, req.GameId, *req.IncludeActive)
		} else {
			data, err = b.Ledger.Metrics(ctx, req.GameId)
		}
	case CmdReportError:
		var req comm.ReportErrorRequest
		if err = decode(cmd.Data, &req); err != nil {
			break
		}
		data, err = b.GameService.ReportError(ctx, req.GameId, req.UserId, req.UserName, req.Description)
	default:
		err = &models.ValidationError{Field: "type", Reason: "unknown command " + cmd.Type}
	}

	if err != nil {
		code = StatusFor(err)
		if code >= http.StatusInternalServerError {
			log.Errorf("Error command %s: %s", cmd.Type, err)
			return comm.Reply{Type: cmd.Type, Code: code, Error: "internal error"}
		}
		log.Debugf("command %s rejected: %s", cmd.Type, err)
		return comm.Reply{Type: cmd.Type, Code: code, Error: err.Error()}
	}
	return comm.Reply{Type: cmd.Type, Code: code, Data: data}
}

func createRequest(req comm.CreateGameRequest) models.GameCreateRequest {
	return models.GameCreateRequest{
		Name:            req.Name,
		Players:         req.Players,
		GameType:        req.GameType,
		IsPublic:        req.IsPublic,
		AllowSpectators: req.AllowSpectators,
		EnableChat:      req.EnableChat,
		RecordStats:     req.RecordStats,
	}
}

func (b *Broker) project(ctx context.Context, game *models.Game) (comm.GameProjection, error) {
	m, err := b.Ledger.Metrics(ctx, game.ID)
	if err != nil {
		return comm.GameProjection{}, err
	}
	return service.NewGameProjection(game, m), nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return &models.ValidationError{Reason: "missing command data"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &models.ValidationError{Reason: err.Error()}
	}
	return nil
}

// StatusFor maps a service error to the reply code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
