package record

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Handler exposes the mutation service and the durable-state read API over
// REST. Synchronous mutation failures map to status codes here; broadcast
// failures never reach this boundary.
type Handler struct {
	service *Service
}

// NewHandler creates the REST handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleMutate handles
// POST /api/games/{gameID}/records/{kind}/{id}/mutate.
func (h *Handler) HandleMutate(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameID")
	kind := r.PathValue("kind")
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid record id", http.StatusBadRequest)
		return
	}

	change, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		http.Error(w, "unreadable change descriptor", http.StatusBadRequest)
		return
	}

	result, err := h.service.Mutate(r.Context(), gameID, kind, id, change)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// HandleGetBoard handles GET /api/boards/{boardID}: the durable state a
// reconnecting client re-fetches to converge.
func (h *Handler) HandleGetBoard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("boardID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid board id", http.StatusBadRequest)
		return
	}

	board, err := h.service.store.GetBoard(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, board)
}

// HandleGetGame handles GET /api/games/{gameID}.
func (h *Handler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("gameID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	game, err := h.service.store.GetGame(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, game)
}

// RegisterRoutes registers the REST routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games/{gameID}/records/{kind}/{id}/mutate", h.HandleMutate)
	mux.HandleFunc("GET /api/boards/{boardID}", h.HandleGetBoard)
	mux.HandleFunc("GET /api/games/{gameID}", h.HandleGetGame)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBadChange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, "write conflicted, try again", http.StatusConflict)
	case errors.Is(err, ErrLockTimeout):
		http.Error(w, "record busy, try again", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("record request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
