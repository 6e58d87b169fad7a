package gameclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quizzer-app/quizzer/clients"
	"github.com/quizzer-app/quizzer/internal/game/record"
	"github.com/quizzer-app/quizzer/internal/models"
)

// APIClient talks to the durable-state REST API. A reconnecting client uses
// it to re-fetch current state instead of replaying missed broadcasts.
type APIClient struct {
	*clients.BaseClient
}

// NewAPIClient creates a REST client, e.g. NewAPIClient("http://localhost:8000").
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{BaseClient: clients.NewBaseClient(baseURL)}
}

// GetGame fetches a game with boards, teams and player scores/versions.
func (c *APIClient) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	var game models.Game
	if err := c.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/api/games/%d", gameID), nil, &game); err != nil {
		return nil, fmt.Errorf("get game %d: %w", gameID, err)
	}
	return &game, nil
}

// GetBoard fetches a board with categories and question state/versions.
func (c *APIClient) GetBoard(ctx context.Context, boardID int64) (*models.Board, error) {
	var board models.Board
	if err := c.DoJSON(ctx, http.MethodGet, fmt.Sprintf("/api/boards/%d", boardID), nil, &board); err != nil {
		return nil, fmt.Errorf("get board %d: %w", boardID, err)
	}
	return &board, nil
}

// RecordAnswer scores a player's response through the mutation service.
func (c *APIClient) RecordAnswer(ctx context.Context, gameID string, playerID int64, change record.RecordAnswerChange) (*record.PlayerAnswerResult, error) {
	var resp struct {
		Value   record.PlayerAnswerResult `json:"value"`
		Version int64                     `json:"version"`
	}
	endpoint := fmt.Sprintf("/api/games/%s/records/player/%d/mutate", gameID, playerID)
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, change, &resp); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	return &resp.Value, nil
}

// ToggleQuestion flips a question's answered flag through the mutation
// service.
func (c *APIClient) ToggleQuestion(ctx context.Context, gameID string, questionID int64, answered bool) (*record.QuestionStatusResult, error) {
	var resp struct {
		Value   record.QuestionStatusResult `json:"value"`
		Version int64                       `json:"version"`
	}
	endpoint := fmt.Sprintf("/api/games/%s/records/question/%d/mutate", gameID, questionID)
	change := record.ToggleQuestionChange{Answered: &answered}
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, change, &resp); err != nil {
		return nil, fmt.Errorf("toggle question: %w", err)
	}
	return &resp.Value, nil
}
