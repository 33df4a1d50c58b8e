package models

import "time"

const (
	AuditGameCreated     = "game-created"
	AuditStatusChanged   = "status-changed"
	AuditGameRenamed     = "game-renamed"
	AuditCreatorRebound  = "creator-rebound"
	AuditCreatorOrphaned = "creator-orphaned"
	AuditStubCreated     = "stub-created"
	AuditErrorReported   = "error-reported"
)

// AuditEntry is one line of game history.
type AuditEntry struct {
	Kind   string    `bson:"kind" json:"kind"`
	GameID int64     `bson:"game_id" json:"gameId"`
	UserID *int64    `bson:"user_id,omitempty" json:"userId,omitempty"`
	From   string    `bson:"from,omitempty" json:"from,omitempty"`
	To     string    `bson:"to,omitempty" json:"to,omitempty"`
	Detail string    `bson:"detail,omitempty" json:"detail,omitempty"`
	At     time.Time `bson:"at" json:"at"`
}
