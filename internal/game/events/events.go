package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types interpreted somewhere in the system. The relay forwards any
// other type untouched; only the clients and the registry attach meaning to
// these.
const (
	TypeConnectionChanged = "connection_changed"
	TypeUpdateScore       = "update_score"
	TypeToggleQuestion    = "toggle_question"
	TypeSelectQuestion    = "select_question"
	TypeRevealCategory    = "reveal_category"
	TypeSelectBoard       = "select_board"
	TypeToggleBuzzers     = "toggle_buzzers"
	TypeBuzzerPressed     = "buzzer_pressed"
	TypePing              = "ping"
	TypePong              = "pong"
)

// Record kinds carried by versioned mutation broadcasts.
const (
	KindPlayer   = "player"
	KindQuestion = "question"
)

// ErrNoType indicates a message without a recognizable string "type" field.
var ErrNoType = errors.New("message has no type")

// Recipient restricts delivery of a message. All populated fields must match
// a connection's identity tags for it to receive the message (AND semantics).
// An empty recipient means every room member.
type Recipient struct {
	Address    string `json:"address,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	ClientType string `json:"client_type,omitempty"`
}

// Empty reports whether no filter field is populated.
func (r Recipient) Empty() bool {
	return r.Address == "" && r.ClientID == "" && r.ClientType == ""
}

// Envelope is the parsed form of a flat broadcast message
// {"type": ..., <payload fields>, "recipient": ...}. Payload fields are kept
// raw so unknown message kinds survive a relay hop byte-for-byte.
type Envelope struct {
	Type      string
	Recipient *Recipient
	Fields    map[string]json.RawMessage
}

// ParseEnvelope decodes a raw broadcast message. It validates nothing beyond
// the presence of a string "type"; payloads are opaque cargo. The "recipient"
// field, if present, is split out of Fields.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, ErrNoType
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return nil, ErrNoType
	}
	delete(fields, "type")

	env := &Envelope{Type: typ, Fields: fields}
	if rawRecipient, ok := fields["recipient"]; ok {
		var recipient Recipient
		if err := json.Unmarshal(rawRecipient, &recipient); err != nil {
			return nil, fmt.Errorf("decode recipient: %w", err)
		}
		env.Recipient = &recipient
		delete(fields, "recipient")
	}
	return env, nil
}

// Encode marshals the envelope back to the flat wire shape. senderAddr, when
// non-empty, is injected as "address" so recipients can reply directly; the
// recipient filter itself is never forwarded.
func (e *Envelope) Encode(senderAddr string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ
	if senderAddr != "" {
		addr, err := json.Marshal(senderAddr)
		if err != nil {
			return nil, err
		}
		out["address"] = addr
	}
	return json.Marshal(out)
}

// MarshalTo builds a flat wire message carrying a recipient filter. The
// relay strips the filter before forwarding.
func MarshalTo(typ string, payload any, recipient Recipient) ([]byte, error) {
	if recipient.Empty() {
		return Marshal(typ, payload)
	}
	fields := map[string]any{"type": typ, "recipient": recipient}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		payloadFields := map[string]json.RawMessage{}
		if err := json.Unmarshal(data, &payloadFields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", typ, err)
		}
		for k, v := range payloadFields {
			if _, taken := fields[k]; !taken {
				fields[k] = v
			}
		}
	}
	return json.Marshal(fields)
}

// Marshal builds a flat wire message from a type tag and a payload struct.
// The payload's fields become siblings of "type".
func Marshal(typ string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", typ, err)
		}
	}
	rawType, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields["type"] = rawType
	return json.Marshal(fields)
}
