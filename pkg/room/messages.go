package room

import (
	"fmt"
	"strings"
	"time"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendMessage appends a message authored by the local user and broadcasts it.
// While offline the message is marked Pending and queued.
func (s *Session) SendMessage(content string, kind protocol.MessageKind, replyTo string) (protocol.Message, error) {
	if kind == "" {
		kind = protocol.KindText
	}
	if !kind.Valid() || kind == protocol.KindSystem {
		return protocol.Message{}, fmt.Errorf("cannot send a %q message", kind)
	}
	if kind == protocol.KindText {
		content = strings.TrimSpace(content)
	}
	if content == "" {
		return protocol.Message{}, ErrEmptyMessage
	}

	var msg protocol.Message
	var sendErr error
	err := s.do(func() {
		if s.state != StateActive {
			sendErr = ErrNotActive
			return
		}
		if replyTo != "" {
			if _, ok := s.message(replyTo); !ok {
				sendErr = fmt.Errorf("%w: reply target %s", ErrMessageNotFound, replyTo)
				return
			}
		}
		msg = s.sendLocal(protocol.Message{
			ID:         uuid.NewString(),
			RoomID:     s.room.ID,
			SenderID:   s.user.ID,
			SenderName: s.user.Name,
			Content:    content,
			Timestamp:  time.Now().UTC(),
			Kind:       kind,
			ReplyTo:    replyTo,
		})
		if kind == protocol.KindText {
			s.triggerBots(msg)
		}
	})
	if err != nil {
		return protocol.Message{}, err
	}
	return msg, sendErr
}

// sendLocal stamps the delivery status, appends msg, queues it when offline
// and broadcasts it. The broadcast is attempted either way.
func (s *Session) sendLocal(msg protocol.Message) protocol.Message {
	if s.online {
		msg.Status = protocol.StatusSent
	} else {
		msg.Status = protocol.StatusPending
		if err := s.queue.Push(msg); err != nil {
			s.log.Warn("failed to persist pending message", zap.String("message_id", msg.ID), zap.Error(err))
		}
		s.metrics.SetPending(s.queue.Len())
	}

	s.appendMessage(msg)
	s.broadcast(protocol.ChatMessage{Message: msg})
	s.persist()
	s.publish(UpdateMessage, &msg, "")
	return msg.Clone()
}

// announce appends and broadcasts a system message authored by this node.
func (s *Session) announce(content string) {
	s.sendLocal(protocol.Message{
		ID:         uuid.NewString(),
		RoomID:     s.room.ID,
		SenderID:   s.user.ID,
		SenderName: systemName,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Kind:       protocol.KindSystem,
	})
}

// ownMessage looks up a message the local user is allowed to change.
func (s *Session) ownMessage(id string) (*protocol.Message, error) {
	if s.state != StateActive {
		return nil, ErrNotActive
	}
	m, ok := s.message(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if m.SenderID != s.user.ID || m.IsBot {
		return nil, ErrNotSender
	}
	if m.IsDeleted {
		return nil, ErrMessageDeleted
	}
	return m, nil
}

// EditMessage replaces the content of one of the local user's messages.
func (s *Session) EditMessage(id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	var editErr error
	err := s.do(func() {
		m, err := s.ownMessage(id)
		if err != nil {
			editErr = err
			return
		}
		m.Content = content
		m.IsEdited = true
		s.broadcast(protocol.MessageEdit{MessageID: id, Content: content})
		s.persist()
		s.publish(UpdateMessage, m, "")
	})
	if err != nil {
		return err
	}
	return editErr
}

// DeleteMessage blanks one of the local user's messages.
func (s *Session) DeleteMessage(id string) error {
	var delErr error
	err := s.do(func() {
		m, err := s.ownMessage(id)
		if err != nil {
			delErr = err
			return
		}
		markDeleted(m)
		s.broadcast(protocol.MessageDelete{MessageID: id})
		s.persist()
		s.publish(UpdateMessage, m, "")
	})
	if err != nil {
		return err
	}
	return delErr
}

func markDeleted(m *protocol.Message) {
	m.Content = protocol.DeletedContent
	m.IsDeleted = true
}

// AddReaction toggles the local user's emoji on a message.
func (s *Session) AddReaction(id, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return fmt.Errorf("empty reaction")
	}
	var reactErr error
	err := s.do(func() {
		if s.state != StateActive {
			reactErr = ErrNotActive
			return
		}
		m, ok := s.message(id)
		if !ok {
			reactErr = fmt.Errorf("%w: %s", ErrMessageNotFound, id)
			return
		}
		m.ToggleReaction(emoji, s.user.ID)
		s.broadcast(protocol.Reaction{MessageID: id, Emoji: emoji})
		s.persist()
		s.publish(UpdateMessage, m, "")
	})
	if err != nil {
		return err
	}
	return reactErr
}

// SendTyping tells the room whether the local user is composing.
func (s *Session) SendTyping(isTyping bool) error {
	var typingErr error
	err := s.do(func() {
		if s.state != StateActive {
			typingErr = ErrNotActive
			return
		}
		s.broadcast(protocol.TypingIndicator{IsTyping: isTyping, UserName: s.user.Name})
	})
	if err != nil {
		return err
	}
	return typingErr
}

// handleEnvelope reconciles a signal received on the link from peerID. The
// host forwards every signal it applied to the other guests.
func (s *Session) handleEnvelope(from string, env protocol.Envelope) {
	kind := string(env.Kind)
	s.metrics.SignalReceived(kind)
	log := s.log.With(zap.String("peer", from), zap.String("kind", kind))

	sig, err := protocol.Decode(env)
	if err != nil {
		log.Warn("dropping undecodable signal", zap.Error(err))
		s.metrics.SignalRejected(kind, "decode")
		return
	}

	// A guest only listens to its host; the host only accepts signals
	// whose claimed sender owns the link they came in on.
	switch {
	case s.isHost() && env.SenderID != from:
		s.reject(log, kind, "sender_mismatch")
		return
	case s.isGuest() && from != s.room.HostID:
		s.reject(log, kind, "not_host")
		return
	}

	var applied bool
	switch sig := sig.(type) {
	case protocol.JoinRequest:
		s.onJoinRequest(from, sig, log)
		return
	case protocol.JoinAccepted:
		s.onJoinAccepted(from, sig, log)
		return
	case protocol.ChatMessage:
		applied = s.onChatMessage(env, sig, log)
	case protocol.MessageEdit:
		applied = s.onMessageEdit(env, sig, log)
	case protocol.MessageDelete:
		applied = s.onMessageDelete(env, sig, log)
	case protocol.Reaction:
		applied = s.onReaction(env, sig, log)
	case protocol.TypingIndicator:
		applied = s.onTyping(env, sig)
	}

	if applied && s.isHost() {
		s.relay.Forward(env, from)
	}
}

func (s *Session) reject(log *zap.Logger, kind, reason string) {
	log.Debug("rejected signal", zap.String("reason", reason))
	s.metrics.SignalRejected(kind, reason)
}

func (s *Session) onJoinRequest(from string, req protocol.JoinRequest, log *zap.Logger) {
	if !s.isHost() {
		s.reject(log, string(req.Kind()), "not_hosting")
		s.net.Disconnect(from)
		return
	}
	if req.UserID != from {
		s.reject(log, string(req.Kind()), "sender_mismatch")
		return
	}

	accepted := protocol.JoinAccepted{
		Room:    s.room.Clone(),
		History: protocol.CloneMessages(s.messages),
	}
	if err := s.sendTo(from, accepted); err != nil {
		log.Warn("failed to accept join", zap.Error(err))
		return
	}
	log.Info("accepted join", zap.String("name", req.Name))
}

func (s *Session) onJoinAccepted(from string, accepted protocol.JoinAccepted, log *zap.Logger) {
	switch {
	case s.state == StateConnecting && s.join != nil && from == s.join.code:
		s.acceptJoin(accepted)
	case s.isGuest() && from == s.room.HostID:
		s.mergeHistory(accepted)
	default:
		s.reject(log, string(accepted.Kind()), "unexpected")
	}
}

// mergeHistory folds a host snapshot into the local log after a reconnect.
// Known messages take the host's mutable fields; unknown ones are appended.
func (s *Session) mergeHistory(accepted protocol.JoinAccepted) {
	room := accepted.Room.Clone()
	s.room = &room

	added := 0
	for _, hm := range accepted.History {
		if m, ok := s.message(hm.ID); ok {
			m.Content = hm.Content
			m.IsEdited = hm.IsEdited
			m.IsDeleted = hm.IsDeleted
			m.Reactions = hm.Clone().Reactions
			continue
		}
		if s.appendMessage(hm.Clone()) {
			added++
		}
	}
	s.persist()
	s.publish(UpdateRoom, nil, "")
	s.log.Info("merged host history", zap.String("room", room.ID), zap.Int("added", added))
}

func (s *Session) onChatMessage(env protocol.Envelope, sig protocol.ChatMessage, log *zap.Logger) bool {
	if s.state != StateActive {
		return false
	}
	msg := sig.Message
	if msg.SenderID != env.SenderID && !(msg.IsBot && bots.IsSender(msg.SenderID)) {
		s.reject(log, string(env.Kind), "sender_mismatch")
		return false
	}
	if msg.Kind == protocol.KindSystem && env.SenderID != s.room.HostID {
		s.reject(log, string(env.Kind), "system_not_host")
		return false
	}
	msg.Status = protocol.StatusSent
	if !s.appendMessage(msg) {
		s.metrics.SignalRejected(string(env.Kind), "duplicate")
		return false
	}
	s.persist()
	s.publish(UpdateMessage, &msg, "")
	return true
}

// editable finds the target of an edit or delete and checks that the
// envelope's sender wrote it.
func (s *Session) editable(env protocol.Envelope, id string, log *zap.Logger) (*protocol.Message, bool) {
	if s.state != StateActive {
		return nil, false
	}
	m, ok := s.message(id)
	if !ok {
		s.reject(log, string(env.Kind), "unknown_message")
		return nil, false
	}
	if m.SenderID != env.SenderID || m.IsBot {
		s.reject(log, string(env.Kind), "not_sender")
		return nil, false
	}
	return m, true
}

func (s *Session) onMessageEdit(env protocol.Envelope, sig protocol.MessageEdit, log *zap.Logger) bool {
	m, ok := s.editable(env, sig.MessageID, log)
	if !ok {
		return false
	}
	if m.IsDeleted {
		s.reject(log, string(env.Kind), "deleted")
		return false
	}
	m.Content = sig.Content
	m.IsEdited = true
	s.persist()
	s.publish(UpdateMessage, m, "")
	return true
}

func (s *Session) onMessageDelete(env protocol.Envelope, sig protocol.MessageDelete, log *zap.Logger) bool {
	m, ok := s.editable(env, sig.MessageID, log)
	if !ok {
		return false
	}
	markDeleted(m)
	s.persist()
	s.publish(UpdateMessage, m, "")
	return true
}

func (s *Session) onReaction(env protocol.Envelope, sig protocol.Reaction, log *zap.Logger) bool {
	if s.state != StateActive || sig.Emoji == "" {
		return false
	}
	m, ok := s.message(sig.MessageID)
	if !ok {
		s.reject(log, string(env.Kind), "unknown_message")
		return false
	}
	m.ToggleReaction(sig.Emoji, env.SenderID)
	s.persist()
	s.publish(UpdateMessage, m, "")
	return true
}

func (s *Session) onTyping(env protocol.Envelope, sig protocol.TypingIndicator) bool {
	if s.state != StateActive || env.SenderID == s.user.ID {
		return false
	}
	if sig.IsTyping {
		name := sig.UserName
		if name == "" {
			name = env.SenderName
		}
		s.typing[env.SenderID] = name
	} else {
		delete(s.typing, env.SenderID)
	}
	s.publish(UpdateTyping, nil, "")
	return true
}
