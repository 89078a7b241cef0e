// Package ws relays bridge messages between an external web view and its
// runtime session over a WebSocket.
//
// Inbound text frames are raw bridge messages, exactly what the injected
// script passes to postMessage. Outbound frames are session notices
// (progress, finished, load, closed) plus connection-level replies.
package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageBytes = 64 << 10
	outboundBuffer  = 16
)

// Handler manages relay connections.
type Handler struct {
	players  *player.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a relay handler.
func NewHandler(players *player.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		players: players,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Content origins are arbitrary LMS hosts.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades GET /player/sessions/:sid/ws.
func (h *Handler) HandleConnection(c *gin.Context) {
	s, err := h.players.Get(c.Param("sid"))
	if err == nil && !s.OwnedBy(middleware.ViewerFrom(c)) {
		err = player.ErrSessionNotFound
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": err.Error(),
			"code":  "session_not_found",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger.With(zap.String("conn", connID), zap.String("session", s.ID.String()))
	logger.Debug("relay connected")

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	notices, stop := s.Subscribe()
	defer stop()

	out := make(chan any, outboundBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	out <- gin.H{
		"type":          "connected",
		"connection_id": connID,
		"session":       s.View(),
	}

	go func() {
		defer close(writerDone)
		h.writeLoop(conn, notices, out, done, logger)
	}()

	h.readLoop(conn, s, out, logger)
	close(done)
	<-writerDone
	logger.Debug("relay disconnected")
}

func (h *Handler) readLoop(conn *websocket.Conn, s *player.Session, out chan<- any, logger *zap.Logger) {
	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("relay read error", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.metrics.RecordWSMessage("in")

		var frame struct {
			Type string `json:"type"`
		}
		if sonic.Unmarshal(raw, &frame) == nil && frame.Type == "ping" {
			trySend(out, gin.H{"type": "pong", "timestamp": time.Now().Unix()})
			continue
		}

		if _, err := s.Deliver(raw); err != nil {
			if errors.Is(err, player.ErrSessionClosed) {
				return
			}
			trySend(out, gin.H{
				"type":      "error",
				"message":   err.Error(),
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, notices <-chan player.Notice, out <-chan any, done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case n, ok := <-notices:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				// Unblocks the reader.
				_ = conn.Close()
				return
			}
			if err := h.write(conn, n); err != nil {
				logger.Debug("relay write failed", zap.Error(err))
				return
			}

		case m := <-out:
			if err := h.write(conn, m); err != nil {
				logger.Debug("relay write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out")
	return nil
}

func trySend(out chan<- any, v any) {
	select {
	case out <- v:
	default:
	}
}
