package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameParticipation struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"userId"`
	GameID        int64      `json:"gameId"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
	Active        bool       `json:"isActive"`
	MinutesPlayed int        `json:"timePlayedMinutes"`
}

// MinutesBetween is the whole number of minutes from joined to left, never
// negative.
func MinutesBetween(joined, left time.Time) int {
	d := left.Sub(joined)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

type GameMetrics struct {
	GameID             int64           `json:"gameId"`
	ActiveParticipants int             `json:"activeParticipants"`
	AverageMinutes     decimal.Decimal `json:"averageTimePlayed"`
}
