package gameclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		ok     bool
	}{
		{"valid", Config{ServerURL: "ws://x", GameID: "1", ClientType: "display"}, true},
		{"missing server", Config{GameID: "1", ClientType: "display"}, false},
		{"missing game", Config{ServerURL: "ws://x", ClientType: "display"}, false},
		{"missing client_type", Config{ServerURL: "ws://x", GameID: "1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNextBackoff(t *testing.T) {
	max := 5 * time.Second
	assert.Equal(t, 200*time.Millisecond, nextBackoff(100*time.Millisecond, max))
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, max))
	assert.Equal(t, max, nextBackoff(3*time.Second, max))
	assert.Equal(t, max, nextBackoff(max, max))
}

func newDispatchClient(t *testing.T) (*Client, chan Message) {
	t.Helper()
	client, err := New(Config{ServerURL: "ws://unused", GameID: "1", ClientType: "display"})
	require.NoError(t, err)
	received := make(chan Message, 16)
	client.OnMessage(func(msg Message) { received <- msg })
	return client, received
}

func collect(received chan Message) []Message {
	var msgs []Message
	for {
		select {
		case msg := <-received:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestDispatch_StaleQuestionUpdateRejected(t *testing.T) {
	client, received := newDispatchClient(t)

	// Two mutations race; their broadcasts arrive newest first.
	client.dispatch([]byte(`{"type":"toggle_question","question_id":9,"answered":true,"version":15}`))
	client.dispatch([]byte(`{"type":"toggle_question","question_id":9,"answered":false,"version":14}`))

	msgs := collect(received)
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(events.ToggleQuestionPayload)
	require.True(t, ok)
	assert.Equal(t, int64(15), payload.Version)
	assert.True(t, payload.Answered)
	assert.Equal(t, int64(15), client.Versions().Last(events.KindQuestion, 9))
}

func TestDispatch_StaleScoreUpdateRejected(t *testing.T) {
	client, received := newDispatchClient(t)

	client.dispatch([]byte(`{"type":"update_score","player_id":4,"score":500,"version":2}`))
	client.dispatch([]byte(`{"type":"update_score","player_id":4,"score":400,"version":1}`))
	client.dispatch([]byte(`{"type":"update_score","player_id":4,"score":500,"version":2}`))

	msgs := collect(received)
	require.Len(t, msgs, 2, "duplicate of the current version is re-delivered, stale is not")
	for _, msg := range msgs {
		payload := msg.Payload.(events.UpdateScorePayload)
		assert.Equal(t, 500, payload.Score)
	}
}

func TestDispatch_UnversionedTypesBypassTheFilter(t *testing.T) {
	client, received := newDispatchClient(t)

	client.dispatch([]byte(`{"type":"select_board","board_id":2,"address":"op-addr"}`))
	client.dispatch([]byte(`{"type":"confetti","color":"gold"}`))

	msgs := collect(received)
	require.Len(t, msgs, 2)
	assert.Equal(t, "select_board", msgs[0].Type)
	assert.Equal(t, "op-addr", msgs[0].Address)

	through, ok := msgs[1].Payload.(events.Passthrough)
	require.True(t, ok)
	assert.Equal(t, "confetti", through.Type)
}

func TestDispatch_MalformedDropped(t *testing.T) {
	client, received := newDispatchClient(t)

	client.dispatch([]byte(`no json`))
	client.dispatch([]byte(`{"version":3}`))

	assert.Empty(t, collect(received))
}

func TestDispatch_AuthorityObservesPeerMessages(t *testing.T) {
	authority := NewCoordinationState()
	client, err := New(Config{
		ServerURL:  "ws://unused",
		GameID:     "1",
		ClientType: "operator",
		Authority:  authority,
	})
	require.NoError(t, err)

	client.dispatch([]byte(`{"type":"select_board","board_id":3}`))

	msgs := authority.replay()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.SelectBoardPayload{BoardID: 3}, msgs[0].Payload)
}

func TestSend_WhileDisconnected(t *testing.T) {
	client, _ := newDispatchClient(t)

	err := client.Send(events.TypeToggleBuzzers, events.ToggleBuzzersPayload{Enabled: true})
	require.ErrorIs(t, err, ErrNotConnected)
}

// roomServer is a minimal WebSocket endpoint standing in for the relay.
type roomServer struct {
	srv      *httptest.Server
	attempts atomic.Int32
	failures int32 // reject this many handshakes before accepting
	dropAt   int32 // close the connection after the first message of this attempt
	inbound  chan map[string]any
	conns    chan *websocket.Conn
	queries  chan string
}

func newRoomServer(t *testing.T, failures, dropAt int32) *roomServer {
	t.Helper()
	rs := &roomServer{
		failures: failures,
		dropAt:   dropAt,
		inbound:  make(chan map[string]any, 16),
		conns:    make(chan *websocket.Conn, 4),
		queries:  make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := rs.attempts.Add(1)
		if attempt <= rs.failures {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		rs.queries <- r.URL.RawQuery
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var decoded map[string]any
			if json.Unmarshal(data, &decoded) == nil {
				rs.inbound <- decoded
			}
			if attempt == rs.dropAt {
				ws.Close()
				return
			}
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *roomServer) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *roomServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-rs.inbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message from client")
		return nil
	}
}

func TestClient_ConnectParamsAndPingReply(t *testing.T) {
	rs := newRoomServer(t, 0, 0)

	client, err := New(Config{
		ServerURL:  rs.url(),
		GameID:     "1",
		ClientType: "buzzer",
		ClientID:   "main",
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()
	defer func() {
		client.Stop()
		<-done
	}()

	select {
	case query := <-rs.queries:
		assert.Contains(t, query, "client_type=buzzer")
		assert.Contains(t, query, "client_id=main")
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	var ws *websocket.Conn
	select {
	case ws = <-rs.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no server-side connection")
	}

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"ping","timestamp":42,"address":"probe-addr"}`)))

	pong := rs.next(t)
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, float64(42), pong["timestamp"])
	recipient, ok := pong["recipient"].(map[string]any)
	require.True(t, ok, "pong must be addressed to the prober")
	assert.Equal(t, "probe-addr", recipient["address"])
}

func TestClient_ContextCancelClosesConnection(t *testing.T) {
	rs := newRoomServer(t, 0, 0)

	client, err := New(Config{
		ServerURL:  rs.url(),
		GameID:     "1",
		ClientType: "display",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case <-rs.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
	assert.Equal(t, StateStopped, client.State())
}

func TestClient_ReconnectsFromHalfOpenConnection(t *testing.T) {
	// The server upgrades and then goes silent: it never reads, so it never
	// answers pings. The client's read deadline must expire and trigger a
	// reconnect instead of blocking forever.
	var attempts atomic.Int32
	block := make(chan struct{})
	defer close(block)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		<-block
	}))
	defer srv.Close()

	client, err := New(Config{
		ServerURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		GameID:         "1",
		ClientType:     "display",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		PingInterval:   30 * time.Millisecond,
		PingTimeout:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()
	defer func() {
		client.Stop()
		<-done
	}()

	require.Eventually(t, func() bool {
		return attempts.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond, "silent connection never abandoned")
}

func TestClient_ReconnectBackoffAndCatchup(t *testing.T) {
	// Three rejected handshakes, then a connection that drops after the
	// catch-up message, then a stable one.
	rs := newRoomServer(t, 3, 4)
	clock := clockwork.NewFakeClock()

	authority := NewCoordinationState()
	authority.Observe(events.TypeSelectBoard, events.SelectBoardPayload{BoardID: 2})

	client, err := New(Config{
		ServerURL:      rs.url(),
		GameID:         "1",
		ClientType:     "operator",
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Authority:      authority,
		Clock:          clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	// Each failed attempt doubles the delay before the next one.
	for _, delay := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	} {
		clock.BlockUntil(1)
		assert.Equal(t, StateReconnecting, client.State())
		clock.Advance(delay)
	}

	// Attempt 4 succeeds and re-announces the held coordination state.
	catchup := rs.next(t)
	assert.Equal(t, "select_board", catchup["type"])
	assert.Equal(t, float64(2), catchup["board_id"])

	// The server drops the connection; a successful connect has reset the
	// backoff to its initial value.
	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	catchup = rs.next(t)
	assert.Equal(t, "select_board", catchup["type"])
	assert.Equal(t, float64(2), catchup["board_id"])
	assert.Equal(t, int32(5), rs.attempts.Load())

	require.Eventually(t, func() bool {
		return client.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	client.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StateStopped, client.State())
}
