package service

import (
	"github.com/avvvet/gameview-services/internal/comm"
	"github.com/avvvet/gameview-services/internal/gamesvc/models"
)

// NewGameProjection builds the payload of event.game-created and
// event.game-status-changed. A nil m publishes zero metrics.
func NewGameProjection(g *models.Game, m *models.GameMetrics) comm.GameProjection {
	p := comm.GameProjection{
		ID:              g.ID,
		Name:            g.Name,
		Status:          string(g.Status),
		Players:         g.Players,
		CreatedAt:       g.CreatedAt,
		LastUpdated:     g.LastUpdated,
		TimeElapsed:     g.TimeElapsedSeconds,
		UserId:          g.UserRef(),
		GameType:        g.GameType,
		IsPublic:        g.IsPublic,
		AllowSpectators: g.AllowSpectators,
		EnableChat:      g.EnableChat,
		RecordStats:     g.RecordStats,
	}
	if m != nil {
		p.ActiveParticipants = m.ActiveParticipants
		p.AverageTimePlayed = m.AverageMinutes.InexactFloat64()
	}
	return p
}
