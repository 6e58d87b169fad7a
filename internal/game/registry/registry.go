package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/events"
)

// Connection is the ephemeral membership record for one open transport
// connection. It lives exactly as long as the transport session and is never
// persisted.
type Connection struct {
	Address    string    `json:"address"`
	ClientType string    `json:"client_type"`
	ClientID   string    `json:"client_id,omitempty"`
	Connected  bool      `json:"connected"`
	LastSeen   time.Time `json:"last_seen"`
	// LatencyMS is reserved for heartbeat round-trip measurement.
	LatencyMS *float64 `json:"latency_ms,omitempty"`
}

// Announcer publishes a registry fact to a room. The relay router implements
// this; observers learn about membership changes only through the announced
// fact, never by polling the registry.
type Announcer interface {
	AnnounceConnectionChange(room string, payload events.ConnectionChangedPayload)
}

// Registry is the authoritative, process-local bookkeeping of room
// membership. All state sits behind one mutex and is mutated only through
// registry operations triggered by transport open/close.
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]map[string]*Connection // room -> address -> connection
	announcer Announcer
}

// New creates an empty registry. Rooms are rebuilt from scratch on process
// restart; nothing here survives one.
func New() *Registry {
	return &Registry{rooms: make(map[string]map[string]*Connection)}
}

// SetAnnouncer wires the broadcast path for connection_changed facts. Must be
// called before the first Register; split from New because the relay router
// and the registry reference each other.
func (r *Registry) SetAnnouncer(a Announcer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announcer = a
}

// Register adds a connection to a room and announces it. ClientType is
// required at handshake; ClientID is optional.
func (r *Registry) Register(room string, conn Connection) {
	conn.Connected = true
	conn.LastSeen = time.Now()

	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	members[conn.Address] = &conn
	announcer := r.announcer
	r.mu.Unlock()

	log.Info().
		Str("room", room).
		Str("address", conn.Address).
		Str("client_type", conn.ClientType).
		Str("client_id", conn.ClientID).
		Msg("connection registered")

	if announcer != nil {
		announcer.AnnounceConnectionChange(room, changePayload(conn, true))
	}
}

// Unregister removes a connection and announces the departure. Safe to call
// for an address that was already removed; the announcement then does not
// repeat.
func (r *Registry) Unregister(room, address string) {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return
	}
	conn, ok := members[address]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(members, address)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	announcer := r.announcer
	r.mu.Unlock()

	log.Info().
		Str("room", room).
		Str("address", address).
		Str("client_type", conn.ClientType).
		Msg("connection unregistered")

	if announcer != nil {
		announcer.AnnounceConnectionChange(room, changePayload(*conn, false))
	}
}

// Touch refreshes a connection's liveness timestamp.
func (r *Registry) Touch(room, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.rooms[room][address]; ok {
		conn.LastSeen = time.Now()
	}
}

// Resolve returns the addresses of every room member matching the filter.
// All populated filter fields must match (AND); an empty filter matches the
// whole room. Used exclusively by the relay router.
func (r *Registry) Resolve(room string, filter events.Recipient) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var addrs []string
	for _, conn := range r.rooms[room] {
		if filter.Address != "" && conn.Address != filter.Address {
			continue
		}
		if filter.ClientID != "" && conn.ClientID != filter.ClientID {
			continue
		}
		if filter.ClientType != "" && conn.ClientType != filter.ClientType {
			continue
		}
		addrs = append(addrs, conn.Address)
	}
	return addrs
}

// Snapshot returns a copy of the room's current membership, for diagnostics.
func (r *Registry) Snapshot(room string) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]Connection, 0, len(r.rooms[room]))
	for _, conn := range r.rooms[room] {
		conns = append(conns, *conn)
	}
	return conns
}

// Stats returns room and connection counts.
func (r *Registry) Stats() (rooms, connections int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, members := range r.rooms {
		connections += len(members)
	}
	return len(r.rooms), connections
}

func changePayload(conn Connection, connected bool) events.ConnectionChangedPayload {
	payload := events.ConnectionChangedPayload{
		ClientType: conn.ClientType,
		Connected:  connected,
	}
	if conn.ClientID != "" {
		id := conn.ClientID
		payload.ClientID = &id
	}
	return payload
}
