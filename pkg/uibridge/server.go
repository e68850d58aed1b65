// Package uibridge exposes a room session to a rendering layer over a
// WebSocket. A client gets a snapshot of the session on connect, then every
// update; it sends intents and receives a result or error frame for each.
package uibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/room"
	"go.uber.org/zap"
)

var (
	errInvalidFrame  = errors.New("invalid frame")
	errUnknownIntent = errors.New("unknown intent")
)

// Controller is the session surface the bridge drives. *room.Session implements it.
type Controller interface {
	View() room.View
	Subscribe() (<-chan room.Update, func())
	CreateRoom(ctx context.Context, kind protocol.RoomKind) (protocol.Room, error)
	JoinRoom(ctx context.Context, code string) (protocol.Room, error)
	Leave() error
	SendMessage(content string, kind protocol.MessageKind, replyTo string) (protocol.Message, error)
	EditMessage(id, content string) error
	DeleteMessage(id string) error
	AddReaction(id, emoji string) error
	SendTyping(isTyping bool) error
	AddBot(kind protocol.BotKind) error
	RemoveBot(kind protocol.BotKind) error
	PolishDraft(ctx context.Context, draft string) (string, error)
	EditImage(ctx context.Context, messageID, instruction string) (protocol.Message, error)
}

var _ Controller = (*room.Session)(nil)

// Server fans session updates out to connected clients.
type Server struct {
	ctrl    Controller
	metrics *metrics.Metrics
	log     *zap.Logger
	updates <-chan room.Update
	stop    func()

	mu      sync.RWMutex
	clients map[*Client]struct{}
	ctx     context.Context
}

func NewServer(ctrl Controller, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	updates, stop := ctrl.Subscribe()
	return &Server{
		ctrl:    ctrl,
		updates: updates,
		stop:    stop,
		metrics: m,
		log:     log.Named("uibridge"),
		clients: make(map[*Client]struct{}),
		ctx:     context.Background(),
	}
}

// Handler routes /ws, /healthz and, when metrics are enabled, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run forwards session updates to every client until ctx is done or the
// session stops publishing. Updates published between NewServer and Run are
// buffered. Clients are disconnected on return.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	defer s.stop()
	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-s.updates:
			if !ok {
				return nil
			}
			frame, err := NewFrame(FrameUpdate, "", u)
			if err != nil {
				s.log.Error("failed to encode update", zap.Error(err))
				continue
			}
			s.broadcast(frame)
		}
	}
}

// ServeWS upgrades the request and sends the current session snapshot.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	client := newClient(s, conn)
	s.register(client)
	if frame, err := NewFrame(FrameSnapshot, "", s.ctrl.View()); err == nil {
		client.sendFrame(frame)
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	view := s.ctrl.View()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"status": "ok",
		"state":  view.State,
		"peers":  len(view.Peers),
		"online": view.Online,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("failed to write health response", zap.Error(err))
	}
}

func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Debug("client registered", zap.Int("clients", n))
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// deliver queues data for c, dropping the client when its buffer is full.
func (s *Server) deliver(c *Client, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		s.log.Warn("dropping slow client")
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) broadcast(frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.log.Error("failed to marshal frame", zap.Error(err))
		return
	}
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.deliver(c, data)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// blocking intents wait on the network or the bot service and run off the read loop.
func blocking(t IntentType) bool {
	switch t {
	case IntentCreate, IntentJoin, IntentPolish, IntentEditImage:
		return true
	}
	return false
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}
	return v, nil
}

// dispatch runs one intent against the controller and returns its result payload.
func (s *Server) dispatch(ctx context.Context, intent Intent) (interface{}, error) {
	switch intent.Type {
	case IntentSend:
		d, err := decode[SendData](intent.Data)
		if err != nil {
			return nil, err
		}
		kind := protocol.KindText
		if d.Kind != "" {
			kind = protocol.MessageKind(strings.ToUpper(d.Kind))
		}
		return s.ctrl.SendMessage(d.Content, kind, d.ReplyTo)

	case IntentEdit:
		d, err := decode[EditData](intent.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.ctrl.EditMessage(d.MessageID, d.Content)

	case IntentDelete:
		d, err := decode[MessageRef](intent.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.ctrl.DeleteMessage(d.MessageID)

	case IntentReact:
		d, err := decode[ReactData](intent.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.ctrl.AddReaction(d.MessageID, d.Emoji)

	case IntentTyping:
		d, err := decode[TypingData](intent.Data)
		if err != nil {
			return nil, err
		}
		return nil, s.ctrl.SendTyping(d.IsTyping)

	case IntentLeave:
		return nil, s.ctrl.Leave()

	case IntentCreate:
		d, err := decode[CreateData](intent.Data)
		if err != nil {
			return nil, err
		}
		return s.ctrl.CreateRoom(ctx, protocol.RoomKind(strings.ToUpper(d.Kind)))

	case IntentJoin:
		d, err := decode[JoinData](intent.Data)
		if err != nil {
			return nil, err
		}
		return s.ctrl.JoinRoom(ctx, d.Code)

	case IntentAddBot, IntentRemoveBot:
		d, err := decode[BotData](intent.Data)
		if err != nil {
			return nil, err
		}
		kind, ok := bots.ParseKind(d.Bot)
		if !ok {
			return nil, fmt.Errorf("%w: %q", room.ErrUnknownBot, d.Bot)
		}
		if intent.Type == IntentAddBot {
			return nil, s.ctrl.AddBot(kind)
		}
		return nil, s.ctrl.RemoveBot(kind)

	case IntentPolish:
		d, err := decode[PolishData](intent.Data)
		if err != nil {
			return nil, err
		}
		polished, err := s.ctrl.PolishDraft(ctx, d.Draft)
		if err != nil {
			return nil, err
		}
		return PolishData{Draft: polished}, nil

	case IntentEditImage:
		d, err := decode[EditImageData](intent.Data)
		if err != nil {
			return nil, err
		}
		return s.ctrl.EditImage(ctx, d.MessageID, d.Instruction)
	}
	return nil, fmt.Errorf("%w: %q", errUnknownIntent, intent.Type)
}

// errorCode maps session errors to stable codes for the renderer.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errInvalidFrame):
		return "invalid_frame"
	case errors.Is(err, errUnknownIntent):
		return "unknown_intent"
	case errors.Is(err, room.ErrInvalidCode), errors.Is(err, identity.ErrInvalidName):
		return "invalid_input"
	case errors.Is(err, room.ErrJoinFailed):
		return "join_failed"
	case errors.Is(err, room.ErrBusy):
		return "busy"
	case errors.Is(err, room.ErrNotActive):
		return "not_active"
	case errors.Is(err, room.ErrNotSender), errors.Is(err, room.ErrNotAdmin):
		return "forbidden"
	case errors.Is(err, room.ErrMessageNotFound), errors.Is(err, room.ErrMessageDeleted):
		return "not_found"
	case errors.Is(err, room.ErrUnknownBot):
		return "unknown_bot"
	case errors.Is(err, room.ErrEmptyMessage), errors.Is(err, room.ErrNotImage):
		return "invalid_input"
	case errors.Is(err, room.ErrClosed):
		return "closed"
	}
	return "internal"
}
