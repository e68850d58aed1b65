package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// triggerBots runs the room's bots against a message the local user just sent.
// The moderator goes first; a flagged message gets a warning and nothing else.
func (s *Session) triggerBots(msg protocol.Message) {
	if s.room == nil || msg.Kind != protocol.KindText || msg.SenderID != s.user.ID || msg.IsBot {
		return
	}

	moderated := s.room.HasBot(protocol.BotModerator)
	var responders []protocol.BotKind
	for _, kind := range s.room.ActiveBots {
		if bots.ShouldRespond(kind, msg.Content) {
			responders = append(responders, kind)
		}
	}
	if !moderated && len(responders) == 0 {
		return
	}

	epoch := s.epoch
	history := bots.RecentHistory(s.messages, bots.HistoryWindow)
	go func() {
		if moderated && !s.moderate(epoch, msg.Content) {
			return
		}
		if len(responders) == 0 {
			return
		}

		s.post(func() {
			if s.epoch != epoch {
				return
			}
			for _, kind := range responders {
				s.typing[bots.SenderID(kind)] = bots.DisplayName(kind)
			}
			s.publish(UpdateTyping, nil, "")
		})
		for _, kind := range responders {
			go s.respond(epoch, kind, msg.Content, history)
		}
	}()
}

// moderate reports whether content may pass. A failing moderation service lets it through.
func (s *Session) moderate(epoch int, content string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.BotTimeout)
	defer cancel()

	verdict, err := s.bots.Moderate(ctx, content)
	if err != nil {
		s.metrics.BotCall("moderate", "error")
		s.log.Warn("moderation unavailable, allowing message", zap.Error(err))
		return true
	}
	if verdict.Safe {
		s.metrics.BotCall("moderate", "safe")
		return true
	}

	s.metrics.BotCall("moderate", "flagged")
	s.post(func() {
		if s.epoch == epoch && s.state == StateActive {
			s.sendBotMessage(protocol.BotModerator, bots.FlagWarning(verdict.Reason))
		}
	})
	return false
}

func (s *Session) respond(epoch int, kind protocol.BotKind, content string, history []protocol.Message) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.BotTimeout)
	defer cancel()

	reply, err := s.bots.Respond(ctx, kind, content, history)
	if err != nil {
		s.metrics.BotCall("respond", "error")
		s.log.Warn("bot failed to respond", zap.String("bot", string(kind)), zap.Error(err))
		reply = bots.ApologyText
	} else {
		s.metrics.BotCall("respond", "ok")
	}

	s.post(func() {
		if s.epoch != epoch {
			return
		}
		delete(s.typing, bots.SenderID(kind))
		s.publish(UpdateTyping, nil, "")
		if s.state == StateActive {
			s.sendBotMessage(kind, reply)
		}
	})
}

// sendBotMessage appends a bot-authored message and broadcasts it like any other.
func (s *Session) sendBotMessage(kind protocol.BotKind, content string) {
	s.sendLocal(protocol.Message{
		ID:         uuid.NewString(),
		RoomID:     s.room.ID,
		SenderID:   bots.SenderID(kind),
		SenderName: bots.DisplayName(kind),
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Kind:       protocol.KindText,
		IsBot:      true,
		BotKind:    kind,
	})
}

func (s *Session) adminRoom() (*protocol.Room, error) {
	if s.state != StateActive || s.room == nil {
		return nil, ErrNotActive
	}
	if !s.room.IsAdmin(s.user.ID) {
		return nil, ErrNotAdmin
	}
	return s.room, nil
}

// AddBot activates a bot in the room. Only the admin may do this.
func (s *Session) AddBot(kind protocol.BotKind) error {
	if _, ok := bots.Lookup(kind); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBot, kind)
	}
	var addErr error
	err := s.do(func() {
		room, err := s.adminRoom()
		if err != nil {
			addErr = err
			return
		}
		if room.HasBot(kind) {
			return
		}
		room.ActiveBots = append(room.ActiveBots, kind)
		s.publish(UpdateRoom, nil, "")
		s.announce(bots.AddedNotice(kind))
		s.syncGuests()
	})
	if err != nil {
		return err
	}
	return addErr
}

// RemoveBot deactivates a bot. Only the admin may do this.
func (s *Session) RemoveBot(kind protocol.BotKind) error {
	var removeErr error
	err := s.do(func() {
		room, err := s.adminRoom()
		if err != nil {
			removeErr = err
			return
		}
		i := slices.Index(room.ActiveBots, kind)
		if i < 0 {
			return
		}
		room.ActiveBots = slices.Delete(room.ActiveBots, i, i+1)
		delete(s.typing, bots.SenderID(kind))
		s.publish(UpdateRoom, nil, "")
		s.announce(bots.RemovedNotice(kind))
		s.syncGuests()
	})
	if err != nil {
		return err
	}
	return removeErr
}

// syncGuests pushes the host's room descriptor and log to every guest. Guests
// merge it the same way they merge the answer to a reconnect.
func (s *Session) syncGuests() {
	n := s.broadcast(protocol.JoinAccepted{
		Room:    s.room.Clone(),
		History: protocol.CloneMessages(s.messages),
	})
	s.log.Debug("synced room to guests", zap.Strings("bots", botNames(s.room.ActiveBots)), zap.Int("guests", n))
}

func botNames(kinds []protocol.BotKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// PolishDraft asks the bot service to tidy a draft. On failure the draft is
// returned unchanged together with the error.
func (s *Session) PolishDraft(ctx context.Context, draft string) (string, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", ErrEmptyMessage
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BotTimeout)
	defer cancel()

	polished, err := s.bots.Polish(ctx, draft)
	if err != nil {
		s.metrics.BotCall("polish", "error")
		return draft, fmt.Errorf("failed to polish draft: %w", err)
	}
	s.metrics.BotCall("polish", "ok")
	return polished, nil
}

// EditImage sends an edited copy of an image message as a new image that
// replies to the original. A failed edit only produces a notice.
func (s *Session) EditImage(ctx context.Context, messageID, instruction string) (protocol.Message, error) {
	var image string
	var lookupErr error
	if err := s.do(func() {
		if s.state != StateActive {
			lookupErr = ErrNotActive
			return
		}
		m, ok := s.message(messageID)
		switch {
		case !ok:
			lookupErr = fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		case m.IsDeleted:
			lookupErr = ErrMessageDeleted
		case m.Kind != protocol.KindImage:
			lookupErr = ErrNotImage
		default:
			image = m.Content
		}
	}); err != nil {
		return protocol.Message{}, err
	}
	if lookupErr != nil {
		return protocol.Message{}, lookupErr
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.BotTimeout)
	defer cancel()
	edited, err := s.bots.EditImage(ctx, image, instruction)
	if err != nil {
		s.metrics.BotCall("edit_image", "error")
		s.post(func() { s.notice("Image editing failed. Try again soon.") })
		return protocol.Message{}, fmt.Errorf("failed to edit image: %w", err)
	}
	s.metrics.BotCall("edit_image", "ok")

	msg, err := s.SendMessage(edited, protocol.KindImage, messageID)
	if errors.Is(err, ErrMessageNotFound) {
		// The original vanished while editing; send it standalone.
		return s.SendMessage(edited, protocol.KindImage, "")
	}
	return msg, err
}
