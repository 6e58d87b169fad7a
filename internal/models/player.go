package models

import "time"

// Player is a contestant. Score is derived from recorded answers; ScoreVersion
// is the versioned-record counter guarding score broadcasts against reordering.
type Player struct {
	ID           int64     `json:"id"`
	TeamID       int64     `json:"team_id"`
	Name         string    `json:"name"`
	Buzzer       *int      `json:"buzzer,omitempty"`
	Score        int       `json:"score"`
	ScoreVersion int64     `json:"score_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// PlayerAnswer records one player's scored response to one question. Points
// overrides the question's value when set.
type PlayerAnswer struct {
	ID         int64     `json:"id"`
	PlayerID   int64     `json:"player_id"`
	QuestionID int64     `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
	Points     *int      `json:"points,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}
