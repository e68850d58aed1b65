package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags a signal envelope.
type Kind string

const (
	KindJoinRequest     Kind = "JOIN_REQUEST"
	KindJoinAccepted    Kind = "JOIN_ACCEPTED"
	KindChatMessage     Kind = "CHAT_MESSAGE"
	KindMessageEdit     Kind = "MESSAGE_EDIT"
	KindMessageDelete   Kind = "MESSAGE_DELETE"
	KindReaction        Kind = "REACTION"
	KindTypingIndicator Kind = "TYPING_INDICATOR"
)

var (
	ErrUnknownKind    = errors.New("unknown signal kind")
	ErrInvalidPayload = errors.New("invalid signal payload")
)

// Envelope is the wire form of a signal.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
}

// Signal is implemented by every payload variant.
type Signal interface {
	Kind() Kind
}

type JoinRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type JoinAccepted struct {
	Room    Room      `json:"room"`
	History []Message `json:"history"`
}

type ChatMessage struct {
	Message Message `json:"message"`
}

type MessageEdit struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageDelete struct {
	MessageID string `json:"messageId"`
}

type Reaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingIndicator struct {
	IsTyping bool   `json:"isTyping"`
	UserName string `json:"userName"`
}

func (JoinRequest) Kind() Kind     { return KindJoinRequest }
func (JoinAccepted) Kind() Kind    { return KindJoinAccepted }
func (ChatMessage) Kind() Kind     { return KindChatMessage }
func (MessageEdit) Kind() Kind     { return KindMessageEdit }
func (MessageDelete) Kind() Kind   { return KindMessageDelete }
func (Reaction) Kind() Kind        { return KindReaction }
func (TypingIndicator) Kind() Kind { return KindTypingIndicator }

// Encode wraps sig in an envelope stamped with the sender.
func Encode(senderID, senderName string, sig Signal) (Envelope, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", sig.Kind(), err)
	}
	return Envelope{
		Kind:       sig.Kind(),
		Payload:    payload,
		SenderID:   senderID,
		SenderName: senderName,
	}, nil
}

// Decode returns the typed payload carried by env.
func Decode(env Envelope) (Signal, error) {
	switch env.Kind {
	case KindJoinRequest:
		return decodeAs[JoinRequest](env)
	case KindJoinAccepted:
		return decodeAs[JoinAccepted](env)
	case KindChatMessage:
		sig, err := decodeAs[ChatMessage](env)
		if err == nil && sig.(ChatMessage).Message.ID == "" {
			return nil, fmt.Errorf("%w: chat message without id", ErrInvalidPayload)
		}
		return sig, err
	case KindMessageEdit:
		return decodeAs[MessageEdit](env)
	case KindMessageDelete:
		return decodeAs[MessageDelete](env)
	case KindReaction:
		return decodeAs[Reaction](env)
	case KindTypingIndicator:
		return decodeAs[TypingIndicator](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func decodeAs[T Signal](env Envelope) (Signal, error) {
	var sig T
	if err := json.Unmarshal(env.Payload, &sig); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Kind, err)
	}
	return sig, nil
}

// Relayable reports whether the host forwards signals of this kind to other peers.
// The join handshake is point-to-point and never relayed.
func Relayable(k Kind) bool {
	switch k {
	case KindChatMessage, KindMessageEdit, KindMessageDelete, KindReaction, KindTypingIndicator:
		return true
	}
	return false
}
