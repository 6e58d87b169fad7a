package record

// RecordAnswerChange is the change descriptor for the player record kind:
// score a player's response to a question.
type RecordAnswerChange struct {
	QuestionID int64 `json:"question_id"`
	IsCorrect  *bool `json:"is_correct"`
	Points     *int  `json:"points,omitempty"`
}

// ToggleQuestionChange is the change descriptor for the question record kind.
type ToggleQuestionChange struct {
	Answered *bool `json:"answered"`
}

// PlayerAnswerResult is the outcome of a player record mutation: the
// recomputed score plus the incremented score version.
type PlayerAnswerResult struct {
	PlayerID int64 `json:"player_id"`
	Score    int   `json:"score"`
	Version  int64 `json:"version"`
}

// QuestionStatusResult is the outcome of a question record mutation.
type QuestionStatusResult struct {
	QuestionID int64 `json:"question_id"`
	Answered   bool  `json:"answered"`
	Version    int64 `json:"version"`
}

// MutationResult is what Mutate hands back to the caller synchronously,
// before the broadcast goes out.
type MutationResult struct {
	Kind    string `json:"-"`
	Value   any    `json:"value"`
	Version int64  `json:"version"`
}
