// Package room runs a chat room session: the host/guest state machine, local
// reconciliation of peer signals, and the host's relay duty.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/offline"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/relay"
	"github.com/baderanaas/hushroom/pkg/store"
	"github.com/baderanaas/hushroom/pkg/transport"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Network is the part of transport.Registry a session drives.
type Network interface {
	SelfID() string
	Events() <-chan transport.Event
	ConnectTo(ctx context.Context, peerID string) error
	Broadcast(env protocol.Envelope, exclude string) int
	SendTo(peerID string, env protocol.Envelope) error
	Disconnect(peerID string)
	CloseAll()
	Peers() []string
	Connected(peerID string) bool
}

// Options wires a Session.
type Options struct {
	User    protocol.User
	Net     Network
	KV      store.KV
	Bots    bots.Service
	Config  Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// Session owns one user's room state. All state is confined to the goroutine
// running Run; public methods hand closures to it and wait for the result.
type Session struct {
	user    protocol.User
	net     Network
	relay   *relay.Engine
	bots    bots.Service
	queue   *offline.Queue
	snaps   *offline.Snapshots
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	ctx   context.Context
	calls chan func()
	done  chan struct{}

	subs    map[int]chan Update
	nextSub int
	subsMu  sync.Mutex

	// Everything below is owned by the Run goroutine.
	state     State
	reason    string
	room      *protocol.Room
	messages  []protocol.Message
	index     map[string]int
	typing    map[string]string
	online    bool
	quotaWarn bool
	epoch     int // bumps whenever the room is torn down, so late async results are discarded
	join      *joinAttempt
}

type joinAttempt struct {
	code   string
	epoch  int
	timer  *time.Timer
	result chan error
}

func New(opts Options) (*Session, error) {
	if opts.Net == nil {
		return nil, errors.New("session requires a network")
	}
	if opts.User.ID == "" {
		return nil, errors.New("session requires a user")
	}
	if opts.KV == nil {
		opts.KV = store.NewMemory()
	}
	if opts.Bots == nil {
		opts.Bots = bots.Offline{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	def := DefaultConfig()
	if opts.Config.JoinTimeout <= 0 {
		opts.Config.JoinTimeout = def.JoinTimeout
	}
	if opts.Config.CreateDelay < 0 {
		opts.Config.CreateDelay = 0
	}
	if opts.Config.BotTimeout <= 0 {
		opts.Config.BotTimeout = def.BotTimeout
	}

	queue, err := offline.NewQueue(opts.KV)
	if err != nil {
		return nil, err
	}

	log := opts.Log.With(zap.String("self", opts.User.ID))
	return &Session{
		user:    opts.User,
		net:     opts.Net,
		relay:   relay.NewEngine(opts.Net, log, opts.Metrics),
		bots:    opts.Bots,
		queue:   queue,
		snaps:   offline.NewSnapshots(opts.KV),
		cfg:     opts.Config,
		log:     log,
		metrics: opts.Metrics,
		ctx:     context.Background(),
		calls:   make(chan func()),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Update),
		index:   make(map[string]int),
		typing:  make(map[string]string),
		online:  true,
	}, nil
}

// Run processes calls and network events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)
	s.metrics.SetPending(s.queue.Len())

	events := s.net.Events()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.calls:
			fn()
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) shutdown() {
	if s.join != nil {
		s.join.timer.Stop()
		s.join.result <- ErrClosed
		s.join = nil
	}
	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.calls <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// post schedules fn on the session goroutine without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.calls <- fn:
	case <-s.done:
	}
}

// User returns the local identity.
func (s *Session) User() protocol.User {
	return s.user
}

// Subscribe returns a stream of updates and a function to stop it. Slow
// subscribers miss updates rather than stall the session.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Session) publish(kind UpdateKind, msg *protocol.Message, notice string) {
	u := Update{Kind: kind, Notice: notice, View: s.view()}
	if msg != nil {
		cp := msg.Clone()
		u.Message = &cp
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Session) notice(text string) {
	s.log.Info("notice", zap.String("text", text))
	s.publish(UpdateNotice, nil, text)
}

func (s *Session) view() View {
	v := View{
		State:    s.state,
		Reason:   s.reason,
		User:     s.user,
		Messages: protocol.CloneMessages(s.messages),
		Typing:   make(map[string]string, len(s.typing)),
		Peers:    s.net.Peers(),
		Online:   s.online,
		Pending:  s.queue.Len(),
		IsHost:   s.isHost(),
	}
	if s.room != nil {
		r := s.room.Clone()
		v.Room = &r
	}
	for id, name := range s.typing {
		v.Typing[id] = name
	}
	return v
}

// View returns a copy of the current session state.
func (s *Session) View() View {
	var v View
	if err := s.do(func() { v = s.view() }); err != nil {
		return View{State: StateIdle, User: s.user}
	}
	return v
}

func (s *Session) State() State {
	return s.View().State
}

func (s *Session) Messages() []protocol.Message {
	var msgs []protocol.Message
	s.do(func() { msgs = protocol.CloneMessages(s.messages) })
	return msgs
}

func (s *Session) Typing() map[string]string {
	return s.View().Typing
}

func (s *Session) CanSend() bool {
	return s.View().CanSend()
}

// isHost reports whether this node relays for the active room.
func (s *Session) isHost() bool {
	return s.state == StateActive && s.room != nil && s.room.HostID == s.user.ID
}

func (s *Session) isGuest() bool {
	return s.state == StateActive && s.room != nil && s.room.HostID != s.user.ID
}

// persist saves the active room. Quota failures keep the in-memory change and warn once.
func (s *Session) persist() {
	if s.room == nil || s.state != StateActive {
		return
	}
	err := s.snaps.Save(*s.room, s.messages)
	switch {
	case err == nil:
		s.quotaWarn = false
	case errors.Is(err, store.ErrQuotaExceeded):
		if !s.quotaWarn {
			s.quotaWarn = true
			s.notice(QuotaNotice)
		}
	default:
		s.log.Warn("failed to save room snapshot", zap.Error(err))
	}
}

func (s *Session) broadcast(sig protocol.Signal) int {
	env, err := protocol.Encode(s.user.ID, s.user.Name, sig)
	if err != nil {
		s.log.Error("failed to encode signal", zap.Error(err))
		return 0
	}
	return s.net.Broadcast(env, "")
}

func (s *Session) sendTo(peerID string, sig protocol.Signal) error {
	env, err := protocol.Encode(s.user.ID, s.user.Name, sig)
	if err != nil {
		return err
	}
	if err := s.net.SendTo(peerID, env); err != nil {
		return fmt.Errorf("failed to send %s: %w", sig.Kind(), err)
	}
	return nil
}

// appendMessage adds msg to the log unless its id is already present.
func (s *Session) appendMessage(msg protocol.Message) bool {
	if _, exists := s.index[msg.ID]; exists {
		return false
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return true
}

func (s *Session) message(id string) (*protocol.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return &s.messages[i], true
}

func (s *Session) resetLog(msgs []protocol.Message) {
	s.messages = nil
	s.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		s.appendMessage(m)
	}
}

func (s *Session) setState(state State, reason string) {
	if s.state == state && s.reason == reason {
		return
	}
	s.log.Info("state change", zap.Stringer("from", s.state), zap.Stringer("to", state), zap.String("reason", reason))
	s.state = state
	s.reason = reason
	s.publish(UpdateState, nil, "")
}
