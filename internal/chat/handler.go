package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartnote-chat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev mode; lock down behind a reverse proxy in prod
	},
}

type Handler struct {
	hub  *Hub
	repo *Repository
	log  *zap.Logger
}

func NewHandler(hub *Hub, repo *Repository, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: hub, repo: repo, log: log}
}

// ServeWs upgrades an authenticated request to a websocket and registers
// the connection with the hub.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	username, ok2 := middleware.Username(r.Context())
	if !ok || !ok2 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h.hub,
		log:      h.log,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
	}
	h.hub.Register <- client

	go client.writePump()
	go client.readPump()
}

// GetPrivateHistory serves GET /api/chat/private/{peerID}: the backlog
// between the requester and the peer, oldest first, wrapped in a data
// envelope.
func (h *Handler) GetPrivateHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	peerID, err := strconv.Atoi(chi.URLParam(r, "peerID"))
	if err != nil {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}

	msgs, err := h.repo.PrivateHistory(r.Context(), userID, peerID)
	if err != nil {
		h.log.Error("private history", zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	writeData(w, msgs)
}

// GetGroupHistory serves GET /api/chat/group/{groupID}. Only participants
// may read a group's backlog.
func (h *Handler) GetGroupHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	groupID, err := strconv.Atoi(chi.URLParam(r, "groupID"))
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}

	member, err := h.repo.IsParticipant(r.Context(), groupID, userID)
	if err != nil {
		h.log.Error("participant lookup", zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	msgs, err := h.repo.GroupHistory(r.Context(), groupID)
	if err != nil {
		h.log.Error("group history", zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	writeData(w, msgs)
}

// StartConversation serves POST /api/conversations: find or create the 1:1
// conversation with another user.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	convID, err := h.repo.FindOrCreatePrivateConversation(r.Context(), userID, req.UserID)
	if err != nil {
		h.log.Error("start conversation", zap.Error(err))
		http.Error(w, "could not start conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"conversation_id": convID})
}

// CreateGroup serves POST /api/groups. The requester is always a member.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Name      string `json:"name"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	members := append([]int{userID}, req.MemberIDs...)
	convID, err := h.repo.CreateGroup(r.Context(), req.Name, members)
	if err != nil {
		h.log.Error("create group", zap.Error(err))
		http.Error(w, "could not create group", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"conversation_id": convID})
}

func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, map[string]any{"data": v})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
