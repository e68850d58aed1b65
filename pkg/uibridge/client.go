package uibridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Intents carry image data URLs for edit-image replies.
	maxMessageSize = 8 << 20

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge listens on loopback for a local renderer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected rendering layer.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(s.baseContext())
	return &Client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		log:    s.log.With(zap.String("remote", conn.RemoteAddr().String())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// readPump decodes intents until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		var intent Intent
		if err := json.Unmarshal(data, &intent); err != nil {
			c.sendError("", errInvalidFrame)
			continue
		}
		if blocking(intent.Type) {
			go c.handle(intent)
			continue
		}
		c.handle(intent)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(intent Intent) {
	result, err := c.server.dispatch(c.ctx, intent)
	if err != nil {
		c.log.Debug("intent failed", zap.String("type", string(intent.Type)), zap.Error(err))
		c.sendError(intent.ID, err)
		return
	}
	frame, err := NewFrame(FrameResult, intent.ID, result)
	if err != nil {
		c.log.Error("failed to encode result", zap.Error(err))
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendError(id string, err error) {
	frame, ferr := NewFrame(FrameError, id, ErrorData{Message: err.Error(), Code: errorCode(err)})
	if ferr != nil {
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendFrame(frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("failed to marshal frame", zap.Error(err))
		return
	}
	c.server.deliver(c, data)
}
