package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type GameStatus string

const (
	StatusActivo     GameStatus = "ACTIVO"
	StatusPausado    GameStatus = "PAUSADO"
	StatusCompletado GameStatus = "COMPLETADO"
	StatusCancelado  GameStatus = "CANCELADO" // terminal, used as the soft-delete marker
)

var transitions = map[GameStatus][]GameStatus{
	StatusActivo:     {StatusActivo, StatusPausado, StatusCompletado, StatusCancelado},
	StatusPausado:    {StatusPausado, StatusActivo, StatusCompletado, StatusCancelado},
	StatusCompletado: {StatusCancelado},
	StatusCancelado:  {},
}

// ParseGameStatus accepts the status name in any case ("pausado", "PAUSADO").
func ParseGameStatus(s string) (GameStatus, error) {
	st := GameStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown game status %q", s)}
	}
	return st, nil
}

func (s GameStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s GameStatus) Terminal() bool {
	return s == StatusCancelado
}

// CanTransition reports whether a game in status s may move to next.
func (s GameStatus) CanTransition(next GameStatus) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Transition returns a *TransitionError when the move is not allowed.
func (s GameStatus) Transition(next GameStatus) error {
	if !next.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown game status %q", next)}
	}
	if !s.CanTransition(next) {
		return &TransitionError{From: s, To: next}
	}
	return nil
}

type Game struct {
	ID                 int64         `json:"id"`
	Name               string        `json:"name"`
	Status             GameStatus    `json:"status"`
	Players            int           `json:"players"`
	GameType           string        `json:"gameType"`
	IsPublic           bool          `json:"isPublic"`
	AllowSpectators    bool          `json:"allowSpectators"`
	EnableChat         bool          `json:"enableChat"`
	RecordStats        bool          `json:"recordStats"`
	CreatedAt          time.Time     `json:"createdAt"`
	LastUpdated        time.Time     `json:"lastUpdated"`
	TimeElapsedSeconds int64         `json:"timeElapsed"`
	CreatorID          sql.NullInt64 `json:"-"` // weak reference to UserReplica.ID, may dangle
	LegacyUserID       sql.NullInt64 `json:"-"` // repair fallback for CreatorID
	Orphaned           bool          `json:"orphaned"`
}

// UserRef is the user id exposed to consumers: the creator when bound,
// otherwise the legacy id.
func (g *Game) UserRef() *int64 {
	if g.CreatorID.Valid {
		id := g.CreatorID.Int64
		return &id
	}
	if g.LegacyUserID.Valid {
		id := g.LegacyUserID.Int64
		return &id
	}
	return nil
}

type GameCreateRequest struct {
	Name            string `json:"name"`
	Players         int    `json:"players"`
	GameType        string `json:"gameType"`
	IsPublic        bool   `json:"isPublic"`
	AllowSpectators bool   `json:"allowSpectators"`
	EnableChat      bool   `json:"enableChat"`
	RecordStats     bool   `json:"recordStats"`
}

func (r GameCreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if r.Players < 0 {
		return &ValidationError{Field: "players", Reason: "must not be negative"}
	}
	return nil
}

// GameUpdate is a partial update; nil fields are left untouched.
type GameUpdate struct {
	Name   *string     `json:"name,omitempty"`
	Status *GameStatus `json:"status,omitempty"`
}
