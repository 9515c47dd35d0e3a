package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	myMiddleware "realchat/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// HandlerOptions tunes the websocket endpoint and the history API.
type HandlerOptions struct {
	AllowedOrigins []string // "*" allows every origin
	MaxMessageSize int64
	SendBuffer     int
	HistoryLimit   int
}

type Handler struct {
	hub      *Hub
	gate     *AuthGate
	history  HistoryReader
	opts     HandlerOptions
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(log *slog.Logger, hub *Hub, gate *AuthGate, history HistoryReader, opts HandlerOptions) *Handler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	h := &Handler{hub: hub, gate: gate, history: history, opts: opts, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.ContainsBy(h.opts.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

// ServeWs authenticates the request and only then upgrades it. A rejected
// credential never reaches the registry.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Authenticate(r.Context(), myMiddleware.TokenFromRequest(r))
	if err != nil {
		h.log.Warn("Websocket connection refused", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(h.hub, conn, identity, h.opts.MaxMessageSize, h.opts.SendBuffer)
	if err := h.hub.Serve(client); err != nil {
		h.log.Warn("Websocket connection refused", "remote", r.RemoteAddr, "username", identity.Username, "error", err)
	}
}

// GetOnlineUsers returns the current presence snapshot.
func (h *Handler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := h.hub.OnlineUsers()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(users),
		"users": users,
	})
}

// GetChatHistory returns the private conversation between user1 and user2.
// The caller must be one of them.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	username, _ := r.Context().Value(myMiddleware.UsernameKey).(string)
	if username == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	user1, user2 := q.Get("user1"), q.Get("user2")
	if user1 == "" || user2 == "" {
		http.Error(w, "user1 and user2 are required", http.StatusBadRequest)
		return
	}
	if username != user1 && username != user2 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	limit := h.opts.HistoryLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	msgs, err := h.history.History(r.Context(), user1, user2, limit)
	if err != nil {
		h.log.Error("Loading history failed", "user1", user1, "user2", user2, "error", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
