package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizzer-app/quizzer/internal/game/events"
	"github.com/quizzer-app/quizzer/internal/game/registry"
)

func testRouter() *Router {
	return NewRouter(registry.New())
}

func attachTestConn(r *Router, address, room, clientType, clientID string) *Conn {
	c := newConn(address, room, clientType, clientID, nil, r, Config{SendBuffer: 16})
	r.attach(c)
	return c
}

// pending drains everything queued for the connection without blocking.
func pending(c *Conn) []map[string]any {
	var msgs []map[string]any
	for {
		select {
		case data := <-c.send:
			var decoded map[string]any
			if err := json.Unmarshal(data, &decoded); err == nil {
				msgs = append(msgs, decoded)
			}
		default:
			return msgs
		}
	}
}

func drain(conns ...*Conn) {
	for _, c := range conns {
		pending(c)
	}
}

func TestRouter_BroadcastReachesEveryMemberIncludingSender(t *testing.T) {
	r := testRouter()
	operator := attachTestConn(r, "op", "game-1", "operator", "")
	display := attachTestConn(r, "disp", "game-1", "display", "")
	buzzer := attachTestConn(r, "buzz", "game-1", "buzzer", "main")
	drain(operator, display, buzzer)

	r.Route(operator, []byte(`{"type":"select_board","board_id":2}`))

	for _, c := range []*Conn{operator, display, buzzer} {
		msgs := pending(c)
		require.Len(t, msgs, 1, "conn %s", c.Address)
		assert.Equal(t, "select_board", msgs[0]["type"])
		assert.Equal(t, float64(2), msgs[0]["board_id"])
		assert.Equal(t, "op", msgs[0]["address"])
	}
}

func TestRouter_RecipientFiltersDelivery(t *testing.T) {
	r := testRouter()
	operator := attachTestConn(r, "op", "game-1", "operator", "")
	displayA := attachTestConn(r, "da", "game-1", "display", "main")
	displayB := attachTestConn(r, "db", "game-1", "display", "aux")
	buzzer := attachTestConn(r, "buzz", "game-1", "buzzer", "main")

	tests := []struct {
		name string
		raw  string
		want map[string]bool // address -> should receive
	}{
		{
			name: "client_id only",
			raw:  `{"type":"ping","timestamp":1,"recipient":{"client_id":"main"}}`,
			want: map[string]bool{"op": false, "da": true, "db": false, "buzz": true},
		},
		{
			name: "client_type only",
			raw:  `{"type":"ping","timestamp":2,"recipient":{"client_type":"display"}}`,
			want: map[string]bool{"op": false, "da": true, "db": true, "buzz": false},
		},
		{
			name: "fields are ANDed",
			raw:  `{"type":"ping","timestamp":3,"recipient":{"client_type":"display","client_id":"main"}}`,
			want: map[string]bool{"op": false, "da": true, "db": false, "buzz": false},
		},
		{
			name: "address targets one connection",
			raw:  `{"type":"pong","timestamp":4,"recipient":{"address":"op"}}`,
			want: map[string]bool{"op": true, "da": false, "db": false, "buzz": false},
		},
		{
			name: "no joint match is a silent no-op",
			raw:  `{"type":"ping","timestamp":5,"recipient":{"client_type":"buzzer","client_id":"aux"}}`,
			want: map[string]bool{"op": false, "da": false, "db": false, "buzz": false},
		},
	}

	conns := map[string]*Conn{"op": operator, "da": displayA, "db": displayB, "buzz": buzzer}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drain(operator, displayA, displayB, buzzer)
			r.Route(operator, []byte(tt.raw))
			for addr, c := range conns {
				msgs := pending(c)
				if tt.want[addr] {
					require.Len(t, msgs, 1, "conn %s", addr)
					// The recipient filter must not leak to receivers.
					_, hasRecipient := msgs[0]["recipient"]
					assert.False(t, hasRecipient)
				} else {
					assert.Empty(t, msgs, "conn %s", addr)
				}
			}
		})
	}
}

func TestRouter_RoomsAreIsolated(t *testing.T) {
	r := testRouter()
	one := attachTestConn(r, "a1", "game-1", "operator", "")
	other := attachTestConn(r, "b1", "game-2", "operator", "")
	drain(one, other)

	r.Route(one, []byte(`{"type":"toggle_buzzers","enabled":true}`))

	assert.Len(t, pending(one), 1)
	assert.Empty(t, pending(other))
}

func TestRouter_MalformedMessagesAreDropped(t *testing.T) {
	r := testRouter()
	sender := attachTestConn(r, "op", "game-1", "operator", "")
	peer := attachTestConn(r, "disp", "game-1", "display", "")
	drain(sender, peer)

	r.Route(sender, []byte(`not json`))
	r.Route(sender, []byte(`{"board_id":2}`))
	r.Route(sender, []byte(`{"type":42}`))

	assert.Empty(t, pending(sender))
	assert.Empty(t, pending(peer))
}

func TestRouter_AnnouncesMembershipToTheRoom(t *testing.T) {
	r := testRouter()

	first := attachTestConn(r, "op", "game-1", "operator", "")
	msgs := pending(first)
	require.Len(t, msgs, 1, "new member receives its own announcement")
	assert.Equal(t, "connection_changed", msgs[0]["type"])
	assert.Equal(t, "operator", msgs[0]["client_type"])
	assert.Equal(t, true, msgs[0]["connected"])

	second := attachTestConn(r, "buzz", "game-1", "buzzer", "main")
	msgs = pending(first)
	require.Len(t, msgs, 1)
	assert.Equal(t, "connection_changed", msgs[0]["type"])
	assert.Equal(t, "buzzer", msgs[0]["client_type"])
	assert.Equal(t, "main", msgs[0]["client_id"])
	assert.Equal(t, true, msgs[0]["connected"])
	drain(second)

	r.detach(second)
	msgs = pending(first)
	require.Len(t, msgs, 1)
	assert.Equal(t, "connection_changed", msgs[0]["type"])
	assert.Equal(t, false, msgs[0]["connected"])

	// A repeated detach announces nothing.
	r.detach(second)
	assert.Empty(t, pending(first))
}

func TestRouter_NoDeliveryAfterDetach(t *testing.T) {
	r := testRouter()
	sender := attachTestConn(r, "op", "game-1", "operator", "")
	gone := attachTestConn(r, "disp", "game-1", "display", "")
	r.detach(gone)
	drain(sender, gone)

	r.Route(sender, []byte(`{"type":"select_board","board_id":1}`))

	assert.Len(t, pending(sender), 1)
	assert.Empty(t, pending(gone))
}

func TestRouter_ServerBroadcastCarriesNoAddress(t *testing.T) {
	r := testRouter()
	display := attachTestConn(r, "disp", "game-1", "display", "")
	drain(display)

	r.Broadcast("game-1", events.TypeUpdateScore, events.UpdateScorePayload{
		PlayerID: 3,
		Score:    500,
		Version:  7,
	}, events.Recipient{})

	msgs := pending(display)
	require.Len(t, msgs, 1)
	assert.Equal(t, "update_score", msgs[0]["type"])
	assert.Equal(t, float64(7), msgs[0]["version"])
	_, hasAddr := msgs[0]["address"]
	assert.False(t, hasAddr)
}
