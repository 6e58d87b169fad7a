package record

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/bus"
	"github.com/quizzer-app/quizzer/internal/game/events"
	"github.com/quizzer-app/quizzer/internal/models"
)

// Store is what the mutation service needs from persistence. Every operation
// applies its change and bumps the record's version in one atomic write.
type Store interface {
	ToggleQuestion(ctx context.Context, questionID int64, answered bool) (*QuestionStatusResult, error)
	RecordPlayerAnswer(ctx context.Context, playerID int64, change RecordAnswerChange) (*PlayerAnswerResult, error)
	GetBoard(ctx context.Context, boardID int64) (*models.Board, error)
	GetGame(ctx context.Context, gameID int64) (*models.Game, error)
}

// Service is the sole path through which a versioned record changes. Writes
// to the same record are serialized by a per-record lock; distinct records
// mutate fully independently.
type Service struct {
	store     Store
	publisher bus.Publisher
	locks     *keyedLocks

	// lockTimeout bounds how long a mutation waits on a contended record
	// before surfacing a retryable error.
	lockTimeout time.Duration
	// publishTimeout bounds the asynchronous broadcast hop.
	publishTimeout time.Duration
}

// NewService creates the mutation service.
func NewService(store Store, publisher bus.Publisher) *Service {
	return &Service{
		store:          store,
		publisher:      publisher,
		locks:          newKeyedLocks(),
		lockTimeout:    5 * time.Second,
		publishTimeout: 5 * time.Second,
	}
}

// Mutate applies a change descriptor to one versioned record. It answers the
// caller synchronously with the new value and version, then hands the same
// result to the broadcast path asynchronously: the caller gets a definitive
// success or failure even when the broadcast channel is degraded.
func (s *Service) Mutate(ctx context.Context, gameID, kind string, id int64, change json.RawMessage) (*MutationResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.acquire(lockCtx, lockKey{kind: kind, id: id})
	if err != nil {
		return nil, err
	}
	defer release()

	switch kind {
	case events.KindQuestion:
		return s.toggleQuestion(ctx, gameID, id, change)
	case events.KindPlayer:
		return s.recordAnswer(ctx, gameID, id, change)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrNotFound, kind)
	}
}

func (s *Service) toggleQuestion(ctx context.Context, gameID string, questionID int64, change json.RawMessage) (*MutationResult, error) {
	var descriptor ToggleQuestionChange
	if err := json.Unmarshal(change, &descriptor); err != nil || descriptor.Answered == nil {
		return nil, fmt.Errorf("%w: want {\"answered\": bool}", ErrBadChange)
	}

	result, err := s.store.ToggleQuestion(ctx, questionID, *descriptor.Answered)
	if err != nil {
		return nil, err
	}

	go s.publish(gameID, events.TypeToggleQuestion, events.ToggleQuestionPayload{
		QuestionID: result.QuestionID,
		Answered:   result.Answered,
		Version:    result.Version,
	})

	return &MutationResult{Kind: events.KindQuestion, Value: result, Version: result.Version}, nil
}

func (s *Service) recordAnswer(ctx context.Context, gameID string, playerID int64, change json.RawMessage) (*MutationResult, error) {
	var descriptor RecordAnswerChange
	if err := json.Unmarshal(change, &descriptor); err != nil || descriptor.IsCorrect == nil || descriptor.QuestionID == 0 {
		return nil, fmt.Errorf("%w: want {\"question_id\": int, \"is_correct\": bool, \"points\"?: int}", ErrBadChange)
	}

	result, err := s.store.RecordPlayerAnswer(ctx, playerID, descriptor)
	if err != nil {
		return nil, err
	}

	go s.publish(gameID, events.TypeUpdateScore, events.UpdateScorePayload{
		PlayerID: result.PlayerID,
		Score:    result.Score,
		Version:  result.Version,
	})

	return &MutationResult{Kind: events.KindPlayer, Value: result, Version: result.Version}, nil
}

// publish ships a mutation result onto the bus. Failures are logged and
// swallowed: the coordination channel favors availability, and peers converge
// on the next mutation or reconnect catch-up.
func (s *Service) publish(gameID, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("marshal mutation payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()

	event := bus.Event{
		ID:        uuid.New(),
		Type:      typ,
		GameID:    gameID,
		CreatedAt: time.Now(),
		Payload:   data,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_type", typ).
			Str("game_id", gameID).
			Msg("mutation broadcast failed")
	}
}
