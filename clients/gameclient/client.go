package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

// State is the connection lifecycle of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateReconnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotConnected means a send was attempted while the transport is down.
// The message is dropped; convergence comes from the next state-changing
// event or reconnect catch-up.
var ErrNotConnected = errors.New("not connected")

// Config holds client identity and connection tuning.
type Config struct {
	// ServerURL is the WebSocket base, e.g. "ws://localhost:8000".
	ServerURL string
	// GameID selects the room.
	GameID string
	// ClientType is the caller-declared category ("operator", "display",
	// "buzzer", "osc"). Required.
	ClientType string
	// ClientID optionally names this instance.
	ClientID string

	// InitialBackoff is the first reconnect delay; it doubles per failure up
	// to MaxBackoff and resets on every successful connect.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	HandshakeTimeout time.Duration

	// PingInterval is how often the client probes the transport;
	// PingTimeout is how long past a due pong a silent connection survives.
	// Together they bound how long a half-open connection goes unnoticed.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Authority, when set, marks this client as the holder of the room's
	// ephemeral coordination state; it is re-broadcast after each reconnect.
	Authority *CoordinationState

	// Clock is swappable for tests.
	Clock clockwork.Clock
}

// Message is one admitted broadcast handed to the message callback.
type Message struct {
	Type string
	// Address of the originating connection, injected by the relay; reply by
	// sending with Recipient{Address: msg.Address}.
	Address string
	// Payload is the typed variant for known kinds, or events.Passthrough.
	Payload any
}

// Client maintains a room connection across transient disconnects. It owns
// the reconciliation filter every delivered update passes through, replies to
// latency pings, and re-announces held coordination state after reconnects.
// Durable state is converged by a plain re-fetch (see APIClient), never by
// message replay.
type Client struct {
	config Config
	clock  clockwork.Clock

	versions *VersionTable

	onMessage    func(Message)
	onConnect    func()
	onDisconnect func()

	state atomic.Int32

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a client. ClientType is required.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if config.GameID == "" {
		return nil, errors.New("game id is required")
	}
	if config.ClientType == "" {
		return nil, errors.New("client_type is required")
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 15 * time.Second
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Client{
		config:   config,
		clock:    config.Clock,
		versions: NewVersionTable(),
		stop:     make(chan struct{}),
	}, nil
}

// OnMessage sets the callback for admitted broadcasts. Set before Run.
func (c *Client) OnMessage(fn func(Message)) { c.onMessage = fn }

// OnConnect sets a hook invoked after every successful (re)connect, once the
// identity announcement and coordination catch-up have gone out. Re-fetch
// durable state here.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect sets a hook invoked when the transport drops.
func (c *Client) OnDisconnect(fn func()) { c.onDisconnect = fn }

// State reports the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Versions exposes the client's reconciliation filter.
func (c *Client) Versions() *VersionTable { return c.versions }

// Run connects and services the room until Stop or ctx cancellation. An
// unexpected close schedules a reconnect after a backoff delay; only an
// explicit stop is terminal.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.config.InitialBackoff

	for {
		if c.stopped(ctx) {
			c.state.Store(int32(StateStopped))
			return nil
		}

		ws, err := c.dial(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("game_id", c.config.GameID).
				Dur("retry_in", backoff).
				Msg("connect failed")
			c.state.Store(int32(StateReconnecting))
			if !c.wait(ctx, backoff) {
				c.state.Store(int32(StateStopped))
				return nil
			}
			backoff = nextBackoff(backoff, c.config.MaxBackoff)
			continue
		}

		c.setConn(ws)
		c.state.Store(int32(StateConnected))
		backoff = c.config.InitialBackoff
		log.Info().
			Str("game_id", c.config.GameID).
			Str("client_type", c.config.ClientType).
			Msg("connected")

		c.announceCatchup()
		if c.onConnect != nil {
			c.onConnect()
		}

		done := make(chan struct{})
		go c.keepalive(ctx, ws, done)
		err = c.readLoop(ws)
		close(done)
		c.setConn(nil)
		ws.Close()
		if c.onDisconnect != nil {
			c.onDisconnect()
		}

		if c.stopped(ctx) {
			c.state.Store(int32(StateStopped))
			return nil
		}

		c.state.Store(int32(StateDisconnected))
		log.Warn().
			Err(err).
			Dur("retry_in", backoff).
			Msg("connection lost, reconnecting")
		if !c.wait(ctx, backoff) {
			c.state.Store(int32(StateStopped))
			return nil
		}
		backoff = nextBackoff(backoff, c.config.MaxBackoff)
		c.state.Store(int32(StateReconnecting))
	}
}

// Stop closes the client for good.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

// Send broadcasts a message to the whole room.
func (c *Client) Send(typ string, payload any) error {
	return c.SendTo(typ, payload, events.Recipient{})
}

// SendTo sends a message restricted by a recipient filter.
func (c *Client) SendTo(typ string, payload any, recipient events.Recipient) error {
	data, err := events.MarshalTo(typ, payload, recipient)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("cannot send %s: %w", typ, ErrNotConnected)
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}

	if c.config.Authority != nil {
		c.config.Authority.Observe(typ, payload)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	query := url.Values{"client_type": {c.config.ClientType}}
	if c.config.ClientID != "" {
		query.Set("client_id", c.config.ClientID)
	}
	endpoint := fmt.Sprintf("%s/ws/game/%s?%s", c.config.ServerURL, c.config.GameID, query.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return ws, nil
}

func (c *Client) readLoop(ws *websocket.Conn) error {
	readTimeout := c.config.PingInterval + c.config.PingTimeout
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data),
			time.Now().Add(c.config.PingTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.dispatch(data)
	}
}

// keepalive probes the transport so a half-open connection fails the read
// deadline instead of hanging forever, and closes the socket when the run
// context ends so Run returns without waiting on the transport.
func (c *Client) keepalive(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(c.config.PingTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			ws.Close()
			return
		case <-c.stop:
			ws.Close()
			return
		case <-done:
			return
		}
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := events.ParseEnvelope(data)
	if err != nil {
		log.Debug().Err(err).Msg("dropping malformed message")
		return
	}

	payload, err := events.DecodePayload(env)
	if err != nil {
		log.Debug().Err(err).Str("type", env.Type).Msg("dropping undecodable payload")
		return
	}
	address := senderAddress(env)

	// Latency probes are answered in place, addressed back to the prober.
	if ping, ok := payload.(events.PingPayload); ok {
		if err := c.SendTo(events.TypePong, events.PongPayload{Timestamp: ping.Timestamp},
			events.Recipient{Address: address}); err != nil {
			log.Debug().Err(err).Msg("pong failed")
		}
		return
	}

	// Versioned updates pass the reconciliation filter before being applied;
	// a stale version is expected behavior, not an error.
	switch p := payload.(type) {
	case events.UpdateScorePayload:
		if !c.versions.Admit(events.KindPlayer, p.PlayerID, p.Version) {
			log.Debug().
				Int64("player_id", p.PlayerID).
				Int64("version", p.Version).
				Msg("stale score update rejected")
			return
		}
	case events.ToggleQuestionPayload:
		if !c.versions.Admit(events.KindQuestion, p.QuestionID, p.Version) {
			log.Debug().
				Int64("question_id", p.QuestionID).
				Int64("version", p.Version).
				Msg("stale question update rejected")
			return
		}
	}

	if c.config.Authority != nil {
		c.config.Authority.Observe(env.Type, payload)
	}

	if c.onMessage != nil {
		c.onMessage(Message{Type: env.Type, Address: address, Payload: payload})
	}
}

// announceCatchup re-broadcasts locally held coordination state so peers who
// joined or reconnected during an outage converge. Recipients apply these
// through the same reconciliation filter as any other update.
func (c *Client) announceCatchup() {
	if c.config.Authority == nil {
		return
	}
	for _, msg := range c.config.Authority.replay() {
		if err := c.Send(msg.Type, msg.Payload); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("catch-up announce failed")
		}
	}
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

// wait sleeps for the backoff delay; false means the client should exit.
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-c.clock.After(d):
		return true
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func senderAddress(env *events.Envelope) string {
	raw, ok := env.Fields["address"]
	if !ok {
		return ""
	}
	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		return ""
	}
	return addr
}
