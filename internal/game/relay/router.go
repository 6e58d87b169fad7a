package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quizzer-app/quizzer/internal/game/events"
	"github.com/quizzer-app/quizzer/internal/game/registry"
)

// Router delivers inbound messages to some or all room members with minimal
// processing. It validates nothing beyond a recognizable "type": coordination
// payloads are opaque cargo, so new message kinds need no router change.
type Router struct {
	registry *registry.Registry

	mu    sync.RWMutex
	conns map[string]*Conn // address -> conn
}

// NewRouter creates a router over the given registry and wires itself in as
// the registry's announcer.
func NewRouter(reg *registry.Registry) *Router {
	r := &Router{
		registry: reg,
		conns:    make(map[string]*Conn),
	}
	reg.SetAnnouncer(r)
	return r
}

// attach makes a connection reachable for delivery and registers it. The
// registry announcement fires after attach, so the new member receives its
// own connection_changed like every peer.
func (r *Router) attach(c *Conn) {
	r.mu.Lock()
	r.conns[c.Address] = c
	r.mu.Unlock()

	r.registry.Register(c.Room, registry.Connection{
		Address:    c.Address,
		ClientType: c.ClientType,
		ClientID:   c.ClientID,
	})
}

// detach removes the connection from delivery before the registry announces
// the departure, so no further message reaches the dead address.
func (r *Router) detach(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c.Address)
	r.mu.Unlock()

	r.registry.Unregister(c.Room, c.Address)
}

// Route forwards one inbound client message. Without a recipient it reaches
// every open connection in the room, sender included: the sender's own UI
// updates through the identical path as every peer's. With a recipient, all
// populated fields must match; an empty match set is a silent no-op. The
// sender's address is injected so recipients can reply directly. Delivery is
// fire-and-forget and never blocks the sender.
func (r *Router) Route(sender *Conn, raw []byte) {
	env, err := events.ParseEnvelope(raw)
	if err != nil {
		log.Debug().
			Err(err).
			Str("address", sender.Address).
			Msg("dropping malformed message")
		return
	}

	data, err := env.Encode(sender.Address)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("re-encode message")
		return
	}

	var filter events.Recipient
	if env.Recipient != nil {
		filter = *env.Recipient
	}
	r.deliver(sender.Room, filter, data)
}

// Broadcast sends a server-originated message to the room, optionally
// filtered. Server messages carry no sender address.
func (r *Router) Broadcast(room, typ string, payload any, filter events.Recipient) {
	data, err := events.Marshal(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("marshal broadcast")
		return
	}
	r.deliver(room, filter, data)
}

// AnnounceConnectionChange implements registry.Announcer.
func (r *Router) AnnounceConnectionChange(room string, payload events.ConnectionChangedPayload) {
	r.Broadcast(room, events.TypeConnectionChanged, payload, events.Recipient{})
}

func (r *Router) deliver(room string, filter events.Recipient, data []byte) {
	addrs := r.registry.Resolve(room, filter)
	if len(addrs) == 0 {
		return
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(addrs))
	for _, addr := range addrs {
		if c, ok := r.conns[addr]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
		}
	}

	log.Debug().
		Str("room", room).
		Int("delivered", delivered).
		Msg("message relayed")
}
