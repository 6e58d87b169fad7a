package gameclient

import (
	"sync"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

// CoordinationState is the ephemeral room state an authoritative client (the
// operator) holds locally: which board is active, which categories are
// revealed, which question is open. None of it is persisted anywhere, so
// after an outage the authority re-broadcasts it and peers who joined
// mid-outage converge through their own reconciliation filters.
type CoordinationState struct {
	mu           sync.Mutex
	activeBoard  *int64
	revealed     map[int64]bool
	openQuestion *int64
}

// NewCoordinationState creates an empty cache.
func NewCoordinationState() *CoordinationState {
	return &CoordinationState{revealed: make(map[int64]bool)}
}

// Observe folds a coordination payload into the cache. The client calls this
// for messages the authority sends as well as ones it receives, so the cache
// tracks the room regardless of who last changed it.
func (s *CoordinationState) Observe(typ string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch typ {
	case events.TypeSelectBoard:
		if p, ok := payload.(events.SelectBoardPayload); ok {
			id := p.BoardID
			s.activeBoard = &id
			// A board switch invalidates per-board ephemera.
			s.revealed = make(map[int64]bool)
			s.openQuestion = nil
		}
	case events.TypeRevealCategory:
		if p, ok := payload.(events.RevealCategoryPayload); ok {
			if p.Revealed {
				s.revealed[p.CategoryID] = true
			} else {
				delete(s.revealed, p.CategoryID)
			}
		}
	case events.TypeSelectQuestion:
		if p, ok := payload.(events.SelectQuestionPayload); ok {
			s.openQuestion = p.QuestionID
		}
	}
}

// replayMessage is one cached fact to re-announce after a reconnect.
type replayMessage struct {
	Type    string
	Payload any
}

// replay returns the cached state as broadcastable messages, board first so
// receivers reset per-board ephemera before applying the rest.
func (s *CoordinationState) replay() []replayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []replayMessage
	if s.activeBoard != nil {
		msgs = append(msgs, replayMessage{
			Type:    events.TypeSelectBoard,
			Payload: events.SelectBoardPayload{BoardID: *s.activeBoard},
		})
	}
	for categoryID := range s.revealed {
		msgs = append(msgs, replayMessage{
			Type:    events.TypeRevealCategory,
			Payload: events.RevealCategoryPayload{CategoryID: categoryID, Revealed: true},
		})
	}
	if s.openQuestion != nil {
		msgs = append(msgs, replayMessage{
			Type:    events.TypeSelectQuestion,
			Payload: events.SelectQuestionPayload{QuestionID: s.openQuestion},
		})
	}
	return msgs
}
