package models

import "time"

// Game is the top-level container for a quiz session's content.
type Game struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Mode       string    `json:"mode"`
	PointsTerm string    `json:"points_term"`
	CreatedAt  time.Time `json:"created_at"`

	Boards []Board `json:"boards,omitempty"`
	Teams  []Team  `json:"teams,omitempty"`
}
