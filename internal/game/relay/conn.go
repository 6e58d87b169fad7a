package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Conn is one live WebSocket attachment to a room. The address is assigned by
// the transport layer at handshake and is unique per connection.
type Conn struct {
	Address    string
	Room       string
	ClientType string
	ClientID   string

	ws     *websocket.Conn
	send   chan []byte
	router *Router
	config Config

	closeOnce sync.Once
}

func newConn(address, room, clientType, clientID string, ws *websocket.Conn, router *Router, config Config) *Conn {
	return &Conn{
		Address:    address,
		Room:       room,
		ClientType: clientType,
		ClientID:   clientID,
		ws:         ws,
		send:       make(chan []byte, config.SendBuffer),
		router:     router,
		config:     config,
	}
}

// enqueue hands a message to the write pump without blocking the caller. A
// full buffer means the consumer is too slow or dead; the connection is torn
// down and the registry cleanup path announces the departure.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		log.Warn().
			Str("address", c.Address).
			Str("client_type", c.ClientType).
			Msg("send buffer full, closing connection")
		c.teardown()
		return false
	}
}

// teardown detaches the connection exactly once and closes the socket. The
// registry announces connection_changed{connected:false} as a side effect.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.router.detach(c)
		c.ws.Close()
	})
}

// writePump drains the send channel onto the socket and keeps the transport
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().
					Err(err).
					Str("address", c.Address).
					Msg("write to closed transport")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound messages into the router until the transport dies,
// including abnormal termination.
func (c *Conn) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.router.registry.Touch(c.Room, c.Address)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("address", c.Address).
					Msg("unexpected close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.router.registry.Touch(c.Room, c.Address)
		c.router.Route(c, data)
	}
}
