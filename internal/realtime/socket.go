package realtime

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	apiError "collaborative-page-builder/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Socket is a websocket subscriber on one page.
type Socket struct {
	id       string
	senderID string
	pageID   uint64
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (s *Socket) ID() string       { return s.id }
func (s *Socket) SenderID() string { return s.senderID }

func (s *Socket) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Socket) close() {
	s.once.Do(func() { close(s.done) })
}

// PageGate decides whether an actor may watch a page and returns the page
// revision the subscription starts from.
type PageGate interface {
	WatchPage(ctx context.Context, actorID, pageID uint64) (uint64, error)
}

// SocketHandler upgrades authenticated requests to page subscriptions.
type SocketHandler struct {
	hub        *Hub
	gate       PageGate
	upgrader   websocket.Upgrader
	sendBuffer int
}

// NewSocketHandler builds the handler. checkOrigin nil accepts every origin.
func NewSocketHandler(hub *Hub, gate PageGate, sendBuffer int, checkOrigin func(*http.Request) bool) *SocketHandler {
	if sendBuffer < 1 {
		sendBuffer = 64
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &SocketHandler{
		hub:  hub,
		gate: gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		sendBuffer: sendBuffer,
	}
}

// ServePage handles GET /ws/pages/:id. The auth middleware runs first and
// sets user_id and client_id.
func (h *SocketHandler) ServePage(c *gin.Context) {
	pageID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(apiError.BadRequest("Invalid page id", err))
		return
	}
	userID := c.GetUint64("user_id")

	revision, err := h.gate.WatchPage(c.Request.Context(), userID, pageID)
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the failure response
		log.Warn().Err(err).Uint64("page_id", pageID).Msg("websocket upgrade failed")
		return
	}

	senderID := c.GetString("client_id")
	if senderID == "" {
		senderID = UserSender(userID)
	}
	socket := &Socket{
		id:       uuid.NewString(),
		senderID: senderID,
		pageID:   pageID,
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
	}
	h.hub.Subscribe(pageID, socket, revision)
	log.Info().
		Uint64("page_id", pageID).
		Uint64("user_id", userID).
		Str("socket_id", socket.id).
		Msg("editor connected")

	go h.writePump(socket)
	h.readPump(socket)
}

// readPump discards client frames and returns when the connection dies.
func (h *SocketHandler) readPump(s *Socket) {
	defer func() {
		h.hub.Unsubscribe(s.pageID, s.id)
		s.close()
		log.Info().Uint64("page_id", s.pageID).Str("socket_id", s.id).Msg("editor disconnected")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("socket_id", s.id).Msg("socket read failed")
			}
			return
		}
	}
}

func (h *SocketHandler) writePump(s *Socket) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
