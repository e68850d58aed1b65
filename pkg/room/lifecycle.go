package room

import (
	"context"
	"fmt"
	"time"

	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func roomName(kind protocol.RoomKind) string {
	if kind == protocol.RoomPrivate {
		return "Private Session"
	}
	return "Group Space"
}

func (s *Session) canStart() error {
	if s.state == StateConnecting || s.state == StateActive {
		return ErrBusy
	}
	return nil
}

// CreateRoom hosts a new room addressed by the local peer id.
func (s *Session) CreateRoom(ctx context.Context, kind protocol.RoomKind) (protocol.Room, error) {
	if kind != protocol.RoomPrivate && kind != protocol.RoomGroup {
		kind = protocol.RoomGroup
	}

	var epoch int
	var startErr error
	if err := s.do(func() {
		if startErr = s.canStart(); startErr != nil {
			return
		}
		s.epoch++
		epoch = s.epoch
		s.setState(StateConnecting, "")
	}); err != nil {
		return protocol.Room{}, err
	}
	if startErr != nil {
		return protocol.Room{}, startErr
	}

	if s.cfg.CreateDelay > 0 {
		select {
		case <-time.After(s.cfg.CreateDelay):
		case <-ctx.Done():
			s.post(func() {
				if s.epoch == epoch && s.state == StateConnecting {
					s.setState(StateIdle, "")
				}
			})
			return protocol.Room{}, ctx.Err()
		}
	}

	var room protocol.Room
	var createErr error
	if err := s.do(func() {
		if s.epoch != epoch || s.state != StateConnecting {
			createErr = ErrJoinAborted
			return
		}
		room = protocol.Room{
			ID:         s.user.ID,
			Name:       roomName(kind),
			Kind:       kind,
			HostID:     s.user.ID,
			CreatedAt:  time.Now().UTC(),
			ActiveBots: []protocol.BotKind{},
			AdminIDs:   []string{s.user.ID},
		}
		own := room.Clone()
		s.room = &own
		s.typing = make(map[string]string)
		s.resetLog([]protocol.Message{{
			ID:         uuid.NewString(),
			RoomID:     room.ID,
			SenderID:   systemSender,
			SenderName: systemName,
			Content:    fmt.Sprintf("Room created. Share the code %s so others can join.", room.ID),
			Timestamp:  room.CreatedAt,
			Kind:       protocol.KindSystem,
			Status:     protocol.StatusSent,
		}})
		s.setState(StateActive, "")
		s.persist()
		s.publish(UpdateRoom, nil, "")
		s.log.Info("room created", zap.String("room", room.ID), zap.String("kind", string(kind)))
	}); err != nil {
		return protocol.Room{}, err
	}
	return room, createErr
}

// JoinRoom connects to the host whose id is code and waits for JoinAccepted.
// Every failure, including a timeout, leaves the session in StateError with
// ErrJoinFailed as the reason.
func (s *Session) JoinRoom(ctx context.Context, code string) (protocol.Room, error) {
	code = identity.NormalizeCode(code)
	if !identity.ValidCode(code) {
		return protocol.Room{}, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	if code == s.user.ID {
		return protocol.Room{}, fmt.Errorf("%w: that is your own code", ErrInvalidCode)
	}

	var attempt *joinAttempt
	var startErr error
	if err := s.do(func() {
		if startErr = s.canStart(); startErr != nil {
			return
		}
		s.epoch++
		attempt = &joinAttempt{
			code:   code,
			epoch:  s.epoch,
			result: make(chan error, 1),
		}
		epoch := s.epoch
		attempt.timer = time.AfterFunc(s.cfg.JoinTimeout, func() {
			s.post(func() { s.failJoin(epoch, transport.ErrConnectionTimeout) })
		})
		s.join = attempt
		s.room = nil
		s.resetLog(nil)
		s.typing = make(map[string]string)
		s.setState(StateConnecting, "")

		go s.dial(epoch, code)
	}); err != nil {
		return protocol.Room{}, err
	}
	if startErr != nil {
		return protocol.Room{}, startErr
	}

	select {
	case err := <-attempt.result:
		if err != nil {
			s.metrics.JoinAttempt("failed")
			return protocol.Room{}, err
		}
	case <-ctx.Done():
		s.post(func() { s.failJoin(attempt.epoch, ctx.Err()) })
		return protocol.Room{}, ctx.Err()
	}

	s.metrics.JoinAttempt("accepted")
	var room protocol.Room
	s.do(func() {
		if s.room != nil {
			room = s.room.Clone()
		}
	})
	return room, nil
}

func (s *Session) dial(epoch int, code string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JoinTimeout)
	defer cancel()

	if err := s.net.ConnectTo(ctx, code); err != nil {
		s.post(func() { s.failJoin(epoch, err) })
	}
}

// failJoin ends the join attempt of epoch, if it is still the current one.
func (s *Session) failJoin(epoch int, cause error) {
	if s.join == nil || s.join.epoch != epoch || s.state != StateConnecting {
		return
	}
	attempt := s.join
	s.join = nil
	attempt.timer.Stop()

	s.log.Warn("join failed", zap.String("room", attempt.code), zap.Error(cause))
	s.net.CloseAll()
	s.setState(StateError, ErrJoinFailed.Error())
	attempt.result <- fmt.Errorf("%w: %v", ErrJoinFailed, cause)
}

// acceptJoin completes the current join attempt with the host's snapshot.
func (s *Session) acceptJoin(accepted protocol.JoinAccepted) {
	attempt := s.join
	s.join = nil
	attempt.timer.Stop()

	room := accepted.Room.Clone()
	s.room = &room
	s.resetLog(protocol.CloneMessages(accepted.History))
	s.setState(StateActive, "")
	s.persist()
	s.publish(UpdateRoom, nil, "")
	s.log.Info("joined room", zap.String("room", room.ID), zap.Int("history", len(accepted.History)))
	attempt.result <- nil
}

// Leave tears the room down locally, closing every link.
func (s *Session) Leave() error {
	return s.do(s.leave)
}

func (s *Session) leave() {
	if s.join != nil {
		s.join.timer.Stop()
		s.join.result <- ErrJoinAborted
		s.join = nil
	}
	s.epoch++
	s.net.CloseAll()
	s.room = nil
	s.resetLog(nil)
	s.typing = make(map[string]string)
	if err := s.snaps.Clear(); err != nil {
		s.log.Warn("failed to clear snapshot", zap.Error(err))
	}
	if err := s.queue.Clear(); err != nil {
		s.log.Warn("failed to clear pending queue", zap.Error(err))
	}
	s.metrics.SetPending(0)
	s.setState(StateIdle, "")
	s.publish(UpdateRoom, nil, "")
}

// Resume restores the room saved by a previous run. A guest reconnects to
// its host in the background and merges the host's history when accepted.
func (s *Session) Resume() (protocol.Room, error) {
	var room protocol.Room
	var resumeErr error
	if err := s.do(func() {
		if resumeErr = s.canStart(); resumeErr != nil {
			return
		}
		snap, err := s.snaps.Load()
		if err != nil {
			resumeErr = err
			return
		}
		if snap == nil {
			resumeErr = ErrNoSnapshot
			return
		}

		s.epoch++
		room = snap.Room.Clone()
		own := room.Clone()
		s.room = &own
		s.resetLog(snap.Messages)
		s.typing = make(map[string]string)
		s.setState(StateActive, "")
		s.publish(UpdateRoom, nil, "")
		s.log.Info("room resumed", zap.String("room", room.ID), zap.Int("messages", len(snap.Messages)))

		if s.isGuest() {
			s.reconnectHost()
		}
	}); err != nil {
		return protocol.Room{}, err
	}
	return room, resumeErr
}

// reconnectHost re-dials the host of the active room. The Open event
// triggers a fresh JoinRequest whose answer is merged into the log.
func (s *Session) reconnectHost() {
	if !s.isGuest() || s.net.Connected(s.room.HostID) {
		return
	}
	hostID := s.room.HostID
	epoch := s.epoch
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JoinTimeout)
		defer cancel()
		if err := s.net.ConnectTo(ctx, hostID); err != nil {
			s.post(func() {
				if s.epoch == epoch {
					s.log.Warn("reconnect failed", zap.String("room", hostID), zap.Error(err))
					s.notice(fmt.Sprintf("Could not reach the host (%s).", ErrJoinFailed))
				}
			})
		}
	}()
}

// SetOnline records a connectivity change. Coming back online flushes the
// pending queue and lets a guest find its host again.
func (s *Session) SetOnline(online bool) {
	s.post(func() {
		was := s.online
		s.online = online
		if was == online {
			// A queue restored from the last run is flushed on the first online report.
			if online && s.queue.Len() > 0 {
				s.flushPending()
				s.publish(UpdateState, nil, "")
			}
			return
		}
		if online {
			s.flushPending()
			s.reconnectHost()
		}
		s.publish(UpdateState, nil, "")
	})
}

// flushPending marks every queued message Sent. Nothing is retransmitted.
func (s *Session) flushPending() {
	items, err := s.queue.Drain()
	if err != nil {
		s.log.Warn("failed to persist drained queue", zap.Error(err))
	}
	for _, queued := range items {
		if m, ok := s.message(queued.ID); ok {
			m.Status = protocol.StatusSent
			s.publish(UpdateMessage, m, "")
		}
	}
	s.metrics.SetPending(0)
	if len(items) > 0 {
		s.log.Info("flushed pending messages", zap.Int("count", len(items)))
		s.persist()
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpen:
		s.publish(UpdatePeers, nil, "")
		s.handleOpen(ev.PeerID)
	case transport.EventClose:
		s.handleClose(ev.PeerID, ev.Err)
	case transport.EventData:
		s.handleEnvelope(ev.PeerID, ev.Envelope)
	}
}

func (s *Session) handleOpen(peerID string) {
	switch {
	case s.state == StateConnecting && s.join != nil && peerID == s.join.code:
		// Fall through to the request below.
	case s.isGuest() && peerID == s.room.HostID:
		s.log.Info("reconnected to host", zap.String("room", peerID))
	default:
		return
	}
	err := s.sendTo(peerID, protocol.JoinRequest{UserID: s.user.ID, Name: s.user.Name})
	if err != nil {
		s.log.Warn("failed to send join request", zap.String("peer", peerID), zap.Error(err))
		if s.join != nil {
			s.failJoin(s.join.epoch, err)
		}
	}
}

func (s *Session) handleClose(peerID string, cause error) {
	if _, ok := s.typing[peerID]; ok {
		delete(s.typing, peerID)
		s.publish(UpdateTyping, nil, "")
	}
	s.publish(UpdatePeers, nil, "")

	switch {
	case s.state == StateConnecting && s.join != nil && peerID == s.join.code:
		if cause == nil {
			cause = transport.ErrLinkClosed
		}
		s.failJoin(s.join.epoch, cause)
	case s.isGuest() && peerID == s.room.HostID:
		s.notice(HostLostNotice)
	}
}
