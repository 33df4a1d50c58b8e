package comm

import (
	"encoding/json"
	"time"
)

const (
	TopicUserEvents        = "user-events"
	TopicGameCreated       = "event.game-created"
	TopicGameStatusChanged = "event.game-status-changed"
	TopicGameErrorReported = "event.game-error-reported"
)

const (
	UserCreated = "USER_CREATED"
	UserUpdated = "USER_UPDATED"
	UserDeleted = "USER_DELETED"
)

// UserEvent is the payload the auth service publishes on user-events.
// Timestamp is kept raw because the producer may omit the zone offset.
type UserEvent struct {
	EventType string `json:"eventType"`
	UserId    int64  `json:"userId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

// GameProjection is the full game view published on event.game-created and
// event.game-status-changed.
type GameProjection struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	Players            int       `json:"players"`
	CreatedAt          time.Time `json:"createdAt"`
	LastUpdated        time.Time `json:"lastUpdated"`
	TimeElapsed        int64     `json:"timeElapsed"`
	UserId             *int64    `json:"userId"`
	GameType           string    `json:"gameType"`
	IsPublic           bool      `json:"isPublic"`
	AllowSpectators    bool      `json:"allowSpectators"`
	EnableChat         bool      `json:"enableChat"`
	RecordStats        bool      `json:"recordStats"`
	ActiveParticipants int       `json:"activeParticipants"`
	AverageTimePlayed  float64   `json:"averageTimePlayed"`
}

type GameErrorEvent struct {
	GameId             int64     `json:"gameId"`
	GameName           string    `json:"gameName"`
	ReportedByUserId   int64     `json:"reportedByUserId"`
	ReportedByUserName string    `json:"reportedByUserName"`
	ErrorDescription   string    `json:"errorDescription"`
	Timestamp          time.Time `json:"timestamp"`
}

// Notification is what the notification sink carries to a destination.
type Notification struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// Command is a request sent to the game service over NATS request/reply.
type Command struct {
	Type string          `json:"type"` // e.g. "join-game", "update-game"
	Data json.RawMessage `json:"data"`
}

type Reply struct {
	Type  string      `json:"type"`
	Code  int         `json:"code"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type GameRef struct {
	GameId int64 `json:"gameId"`
}

type ParticipationRequest struct {
	UserId int64 `json:"userId"`
	GameId int64 `json:"gameId"`
}

type CreateGameRequest struct {
	Name            string `json:"name"`
	Players         int    `json:"players"`
	GameType        string `json:"gameType"`
	IsPublic        bool   `json:"isPublic"`
	AllowSpectators bool   `json:"allowSpectators"`
	EnableChat      bool   `json:"enableChat"`
	RecordStats     bool   `json:"recordStats"`
	UserId          int64  `json:"userId"`
}

type UpdateGameRequest struct {
	GameId int64   `json:"gameId"`
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty"`
}

type ReportErrorRequest struct {
	GameId      int64  `json:"gameId"`
	UserId      int64  `json:"userId"`
	UserName    string `json:"userName"`
	Description string `json:"description"`
}

type MetricsRequest struct {
	GameId        int64 `json:"gameId"`
	IncludeActive *bool `json:"includeActive,omitempty"`
}
