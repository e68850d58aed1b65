package room

import (
	"errors"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrJoinFailed is the user-facing join failure. Timeouts, unreachable
	// hosts and stale codes are reported identically.
	ErrJoinFailed = errors.New("peer not found or offline")

	ErrInvalidCode     = errors.New("invalid room code")
	ErrBusy            = errors.New("already in a room")
	ErrNotActive       = errors.New("no active room")
	ErrNotSender       = errors.New("only the original sender can change this message")
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageDeleted  = errors.New("message was deleted")
	ErrNotAdmin        = errors.New("only the room admin can do that")
	ErrUnknownBot      = errors.New("unknown bot")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNotImage        = errors.New("message is not an image")
	ErrNoSnapshot      = errors.New("no saved room")
	ErrJoinAborted     = errors.New("join aborted")
	ErrClosed          = errors.New("session closed")
)

const (
	QuotaNotice    = "Storage is full. Recent changes may not survive a reload."
	HostLostNotice = "Lost connection to the host."
	systemSender   = "system"
	systemName     = "System"
)

// Config tunes session timing.
type Config struct {
	// JoinTimeout bounds a join attempt from dial to JoinAccepted.
	JoinTimeout time.Duration
	// CreateDelay is a cosmetic pause between Connecting and Active when creating a room.
	CreateDelay time.Duration
	// BotTimeout bounds each bot service call.
	BotTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		JoinTimeout: 10 * time.Second,
		CreateDelay: 500 * time.Millisecond,
		BotTimeout:  30 * time.Second,
	}
}

type UpdateKind string

const (
	UpdateState   UpdateKind = "state"
	UpdateMessage UpdateKind = "message"
	UpdateTyping  UpdateKind = "typing"
	UpdatePeers   UpdateKind = "peers"
	UpdateRoom    UpdateKind = "room"
	UpdateNotice  UpdateKind = "notice"
)

// View is a consistent copy of the session as seen by a rendering layer.
type View struct {
	State    State              `json:"state"`
	Reason   string             `json:"reason,omitempty"`
	User     protocol.User      `json:"user"`
	Room     *protocol.Room     `json:"room,omitempty"`
	Messages []protocol.Message `json:"messages"`
	Typing   map[string]string  `json:"typing"`
	Peers    []string           `json:"peers"`
	Online   bool               `json:"online"`
	Pending  int                `json:"pending"`
	IsHost   bool               `json:"isHost"`
}

// CanSend reports whether the composer should be enabled: the room is
// active and at least one peer is connected.
func (v View) CanSend() bool {
	return v.State == StateActive && len(v.Peers) > 0
}

// Update is pushed to subscribers after every change.
type Update struct {
	Kind UpdateKind `json:"kind"`
	// Message is the appended or changed message for UpdateMessage.
	Message *protocol.Message `json:"message,omitempty"`
	Notice  string            `json:"notice,omitempty"`
	View    View              `json:"view"`
}
