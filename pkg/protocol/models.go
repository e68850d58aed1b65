package protocol

import (
	"slices"
	"time"
)

// DeletedContent replaces the content of a deleted message.
const DeletedContent = "🚫 This message was deleted"

// User is the local participant. ID doubles as the peer address.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type RoomKind string

const (
	RoomPrivate RoomKind = "PRIVATE"
	RoomGroup   RoomKind = "GROUP"
)

type BotKind string

const (
	BotModerator  BotKind = "MODERATOR"
	BotMeme       BotKind = "MEME"
	BotTranslator BotKind = "TRANSLATOR"
	BotSummary    BotKind = "SUMMARY"
	BotHelper     BotKind = "HELPER"
)

// Room describes a hosted session. ID is always the host's peer id.
type Room struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       RoomKind  `json:"kind"`
	HostID     string    `json:"hostId"`
	CreatedAt  time.Time `json:"createdAt"`
	ActiveBots []BotKind `json:"activeBots"`
	AdminIDs   []string  `json:"adminIds"`
}

// IsAdmin reports whether userID administers the room.
func (r *Room) IsAdmin(userID string) bool {
	return slices.Contains(r.AdminIDs, userID)
}

// HasBot reports whether kind is active in the room.
func (r *Room) HasBot(kind BotKind) bool {
	return slices.Contains(r.ActiveBots, kind)
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	r.ActiveBots = slices.Clone(r.ActiveBots)
	r.AdminIDs = slices.Clone(r.AdminIDs)
	return r
}

type MessageKind string

const (
	KindText    MessageKind = "TEXT"
	KindImage   MessageKind = "IMAGE"
	KindVideo   MessageKind = "VIDEO"
	KindAudio   MessageKind = "AUDIO"
	KindFile    MessageKind = "FILE"
	KindSticker MessageKind = "STICKER"
	KindSystem  MessageKind = "SYSTEM"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile, KindSticker, KindSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent    MessageStatus = "SENT"
	StatusPending MessageStatus = "PENDING"
	StatusError   MessageStatus = "ERROR"
)

// Message is one entry of a room's log. ID is assigned by the sender and never reused.
type Message struct {
	ID         string              `json:"id"`
	RoomID     string              `json:"roomId"`
	SenderID   string              `json:"senderId"`
	SenderName string              `json:"senderName"`
	Content    string              `json:"content"`
	Timestamp  time.Time           `json:"timestamp"`
	Kind       MessageKind         `json:"kind"`
	Status     MessageStatus       `json:"status"`
	IsBot      bool                `json:"isBot,omitempty"`
	BotKind    BotKind             `json:"botKind,omitempty"`
	ReplyTo    string              `json:"replyTo,omitempty"`
	IsEdited   bool                `json:"isEdited,omitempty"`
	IsDeleted  bool                `json:"isDeleted,omitempty"`
	Reactions  map[string][]string `json:"reactions,omitempty"` // emoji -> user ids
}

// ToggleReaction adds userID to the emoji's set, or removes it when already present.
// The emoji key disappears once its set is empty.
func (m *Message) ToggleReaction(emoji, userID string) {
	users := m.Reactions[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = slices.Delete(slices.Clone(users), i, i+1)
	} else {
		users = append(slices.Clone(users), userID)
	}

	if len(users) == 0 {
		delete(m.Reactions, emoji)
		return
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[emoji] = users
}

// ReactionKeys returns the emoji with at least one reaction, sorted.
func (m Message) ReactionKeys() []string {
	keys := make([]string, 0, len(m.Reactions))
	for emoji := range m.Reactions {
		keys = append(keys, emoji)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		reactions := make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			reactions[emoji] = slices.Clone(users)
		}
		m.Reactions = reactions
	}
	return m
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
