package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Config holds transport tuning for room connections.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	ReadBuffer     int
	WriteBuffer    int
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConfig returns transport defaults suitable for a LAN quiz session.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   15 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
		ReadBuffer:     1024,
		WriteBuffer:    1024,
		CheckOrigin: func(r *http.Request) bool {
			// Quizzer runs on a trusted local network.
			return true
		},
	}
}

// Handler upgrades HTTP requests to room WebSocket connections.
type Handler struct {
	router   *Router
	upgrader websocket.Upgrader
	config   Config
}

// NewHandler creates the WebSocket upgrade handler for a router.
func NewHandler(router *Router, config Config) *Handler {
	return &Handler{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBuffer,
			WriteBufferSize: config.WriteBuffer,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleGameSocket handles GET /ws/game/{gameID}. Identity is declared at
// connect time: client_type is required, client_id optional.
func (h *Handler) HandleGameSocket(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("gameID")
	if room == "" {
		http.Error(w, "game id is required", http.StatusBadRequest)
		return
	}

	clientType := r.URL.Query().Get("client_type")
	if clientType == "" {
		http.Error(w, "client_type is required", http.StatusBadRequest)
		return
	}
	clientID := r.URL.Query().Get("client_id")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("websocket upgrade failed")
		return
	}

	address := uuid.New().String()
	conn := newConn(address, room, clientType, clientID, ws, h.router, h.config)
	h.router.attach(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("room", room).
		Str("address", address).
		Str("client_type", clientType).
		Str("client_id", clientID).
		Msg("websocket connection established")
}

// RegisterRoutes registers the WebSocket route on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/game/{gameID}", h.HandleGameSocket)
}
