package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomchat/internal/apperr"
	"roomchat/internal/httpx"
	"roomchat/internal/middleware"
)

type Handler struct {
	rooms    *RoomService
	messages *MessageService
	log      *zap.Logger
}

func NewHandler(rooms *RoomService, messages *MessageService, log *zap.Logger) *Handler {
	return &Handler{rooms: rooms, messages: messages, log: log.Named("chat.http")}
}

// Routes mounts the room endpoints. They expect an authenticated request.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/rooms", h.ListRooms)
	r.Post("/rooms/direct", h.CreateDirectRoom)
	r.Post("/rooms/group", h.CreateGroupRoom)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Post("/rooms/{id}/invite", h.InviteToGroup)
	r.Get("/rooms/{id}/messages", h.ListMessages)
}

type directRoomRequest struct {
	Username string `json:"username"`
}

type groupRoomRequest struct {
	GroupName string `json:"groupName"`
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	rooms, err := h.rooms.ListRooms(r.Context(), userID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, rooms)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	roomID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	room, err := h.rooms.GetRoom(r.Context(), userID, roomID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, room)
}

func (h *Handler) CreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req directRoomRequest
	if err := httpx.Decode(r, &req); err != nil || req.Username == "" {
		httpx.Error(w, h.log, apperr.ErrInvalidFields)
		return
	}

	room, err := h.rooms.CreateDirectRoom(r.Context(), userID, req.Username)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, room)
}

func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req groupRoomRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	room, err := h.rooms.CreateGroupRoom(r.Context(), userID, req.GroupName)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, room)
}

func (h *Handler) InviteToGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	roomID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req directRoomRequest
	if err := httpx.Decode(r, &req); err != nil || req.Username == "" {
		httpx.Error(w, h.log, apperr.ErrInvalidFields)
		return
	}

	room, err := h.rooms.InviteToGroup(r.Context(), userID, roomID, req.Username)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, room)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	roomID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	messages, err := h.messages.ListMessages(r.Context(), userID, roomID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, messages)
}
