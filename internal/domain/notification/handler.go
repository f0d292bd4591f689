package notification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
	"github.com/mwork/ledger-api/internal/pkg/jwt"
	"github.com/mwork/ledger-api/internal/pkg/response"
	"github.com/mwork/ledger-api/internal/pkg/validator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Handler handles notification HTTP requests
type Handler struct {
	service  *Service
	hub      *Hub
	jwt      *jwt.Service
	upgrader websocket.Upgrader
}

// NewHandler creates notification handler. An empty allowedOrigins accepts
// every websocket origin.
func NewHandler(service *Service, hub *Hub, jwtService *jwt.Service, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		jwt:     jwtService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Routes returns notification router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Browsers cannot set headers on websocket requests; the token comes in
	// the query string.
	r.Get("/ws", h.WebSocket)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.List)
		r.Get("/unread-count", h.GetUnreadCount)
		r.Post("/{id}/read", h.MarkAsRead)
		r.Post("/read-all", h.MarkAllAsRead)
		r.Put("/channel", h.LinkChannel)
		r.Delete("/channel", h.UnlinkChannel)
	})
	return r
}

// List handles GET /notifications
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	notifications, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "list notifications")
		return
	}

	items := make([]*NotificationResponse, len(notifications))
	for i, n := range notifications {
		items[i] = NotificationResponseFromEntity(n)
	}
	response.OK(w, items)
}

// GetUnreadCount handles GET /notifications/unread-count
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	count, err := h.service.GetUnreadCount(r.Context(), userID)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "count unread")
		return
	}
	response.OK(w, UnreadCountResponse{UnreadCount: count})
}

// MarkAsRead handles POST /notifications/{id}/read
func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid notification ID")
		return
	}

	err = h.service.MarkAsRead(r.Context(), middleware.GetUserID(r.Context()), id)
	if errors.Is(err, ErrNotificationNotFound) {
		response.NotFound(w, "Notification not found")
		return
	}
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "mark read")
		return
	}
	response.OK(w, map[string]string{"status": "ok"})
}

// MarkAllAsRead handles POST /notifications/read-all
func (h *Handler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkAllAsRead(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "mark all read")
		return
	}
	response.OK(w, map[string]int64{"updated": n})
}

// LinkChannel handles PUT /notifications/channel
func (h *Handler) LinkChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	if err := h.service.LinkChannel(r.Context(), middleware.GetUserID(r.Context()), req.ChatID); err != nil {
		errorhandler.Internal(r.Context(), w, err, "link channel")
		return
	}
	response.OK(w, map[string]string{"status": "linked"})
}

// UnlinkChannel handles DELETE /notifications/channel
func (h *Handler) UnlinkChannel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnlinkChannel(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		errorhandler.Internal(r.Context(), w, err, "unlink channel")
		return
	}
	response.NoContent(w)
}

// WebSocket handles GET /notifications/ws?token=
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.jwt.ValidateAccessToken(r.URL.Query().Get("token"))
	if err != nil || claims.IsBanned {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: claims.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
	h.hub.Register(client)

	go h.wsReader(client)
	go h.wsWriter(client)
}

// wsReader only keeps the connection alive; clients send nothing.
func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		_ = client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", client.UserID.String()).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
