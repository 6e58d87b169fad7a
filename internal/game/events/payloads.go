package events

import "encoding/json"

// Payload types shared between the relay, the mutation service and the Go
// client.

// ConnectionChangedPayload announces a membership change. Emitted only by the
// registry, never sent by a client.
type ConnectionChangedPayload struct {
	ClientType string  `json:"client_type"`
	ClientID   *string `json:"client_id"`
	Connected  bool    `json:"connected"`
}

// UpdateScorePayload is the broadcast result of a player record mutation.
type UpdateScorePayload struct {
	PlayerID int64 `json:"player_id"`
	Score    int   `json:"score"`
	Version  int64 `json:"version"`
}

// ToggleQuestionPayload is the broadcast result of a question record mutation.
type ToggleQuestionPayload struct {
	QuestionID int64 `json:"question_id"`
	Answered   bool  `json:"answered"`
	Version    int64 `json:"version"`
}

// SelectQuestionPayload opens a question on every display; a nil QuestionID
// closes the open question.
type SelectQuestionPayload struct {
	QuestionID *int64 `json:"question_id"`
}

// RevealCategoryPayload uncovers a category header on the displays.
type RevealCategoryPayload struct {
	CategoryID int64 `json:"category_id"`
	Revealed   bool  `json:"revealed"`
}

// SelectBoardPayload switches which board the session is playing.
type SelectBoardPayload struct {
	BoardID int64 `json:"board_id"`
}

// ToggleBuzzersPayload arms or disarms the physical buzzers.
type ToggleBuzzersPayload struct {
	Enabled bool `json:"enabled"`
}

// BuzzerPressedPayload reports a buzzer press; a nil BuzzerID clears the
// current selection when buzzers are re-armed.
type BuzzerPressedPayload struct {
	BuzzerID *int `json:"buzzerId"`
}

// PingPayload and PongPayload carry the latency-probe timestamp. Pong echoes
// the ping's timestamp back to the sender's address.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload mirrors PingPayload.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Passthrough is the variant for message kinds the system does not interpret.
// The relay forwards them verbatim.
type Passthrough struct {
	Type   string
	Fields map[string]json.RawMessage
}

// DecodePayload parses an envelope's fields into the typed payload for every
// known message kind, or a Passthrough for anything else.
func DecodePayload(env *Envelope) (any, error) {
	raw, err := json.Marshal(env.Fields)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeConnectionChanged:
		var p ConnectionChangedPayload
		return p, json.Unmarshal(raw, &p)
	case TypeUpdateScore:
		var p UpdateScorePayload
		return p, json.Unmarshal(raw, &p)
	case TypeToggleQuestion:
		var p ToggleQuestionPayload
		return p, json.Unmarshal(raw, &p)
	case TypeSelectQuestion:
		var p SelectQuestionPayload
		return p, json.Unmarshal(raw, &p)
	case TypeRevealCategory:
		var p RevealCategoryPayload
		return p, json.Unmarshal(raw, &p)
	case TypeSelectBoard:
		var p SelectBoardPayload
		return p, json.Unmarshal(raw, &p)
	case TypeToggleBuzzers:
		var p ToggleBuzzersPayload
		return p, json.Unmarshal(raw, &p)
	case TypeBuzzerPressed:
		var p BuzzerPressedPayload
		return p, json.Unmarshal(raw, &p)
	case TypePing:
		var p PingPayload
		return p, json.Unmarshal(raw, &p)
	case TypePong:
		var p PongPayload
		return p, json.Unmarshal(raw, &p)
	default:
		return Passthrough{Type: env.Type, Fields: env.Fields}, nil
	}
}
