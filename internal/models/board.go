package models

// Board is one screen of categories within a game. A live session plays one
// board at a time; which one is ephemeral coordination state, not a column.
type Board struct {
	ID     int64  `json:"id"`
	GameID int64  `json:"game_id"`
	Name   string `json:"name"`
	Order  int    `json:"order"`

	Categories []Category `json:"categories,omitempty"`
}

// Category groups questions on a board.
type Category struct {
	ID      int64  `json:"id"`
	BoardID int64  `json:"board_id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`

	Questions []Question `json:"questions,omitempty"`
}
