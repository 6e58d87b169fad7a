package models

import "time"

// Team groups players competing together in a game.
type Team struct {
	ID        int64     `json:"id"`
	GameID    int64     `json:"game_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Players []Player `json:"players,omitempty"`
}
