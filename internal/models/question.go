package models

// Question is a single answerable clue. Answered state is a versioned record:
// StateVersion increases by exactly one on every successful mutation and is
// never observed to decrease.
type Question struct {
	ID           int64  `json:"id"`
	CategoryID   int64  `json:"category_id"`
	Text         string `json:"text"`
	Answer       string `json:"answer"`
	Points       int    `json:"points"`
	Answered     bool   `json:"answered"`
	Order        *int   `json:"order,omitempty"`
	StateVersion int64  `json:"state_version"`
}
