package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeChatMessage(t *testing.T) {
	msg := Message{
		ID:         "m-1",
		RoomID:     "K7M2PQ",
		SenderID:   "ABCDEF",
		SenderName: "alice",
		Content:    "hello",
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:       KindText,
		Status:     StatusSent,
	}

	env, err := Encode("ABCDEF", "alice", ChatMessage{Message: msg})
	require.NoError(t, err)
	require.Equal(t, KindChatMessage, env.Kind)
	require.Equal(t, "ABCDEF", env.SenderID)
	require.Equal(t, "alice", env.SenderName)

	// Survive a wire round trip before decoding.
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var wire Envelope
	require.NoError(t, json.Unmarshal(raw, &wire))

	sig, err := Decode(wire)
	require.NoError(t, err)
	chat, ok := sig.(ChatMessage)
	require.True(t, ok)
	require.Equal(t, msg, chat.Message)
}

func TestDecodeDispatchesEveryKind(t *testing.T) {
	signals := []Signal{
		JoinRequest{UserID: "ABCDEF", Name: "alice"},
		JoinAccepted{Room: Room{ID: "K7M2PQ", HostID: "K7M2PQ"}, History: []Message{}},
		ChatMessage{Message: Message{ID: "x"}},
		MessageEdit{MessageID: "x", Content: "fixed"},
		MessageDelete{MessageID: "x"},
		Reaction{MessageID: "x", Emoji: "👍"},
		TypingIndicator{IsTyping: true, UserName: "alice"},
	}

	for _, sig := range signals {
		env, err := Encode("ABCDEF", "alice", sig)
		require.NoError(t, err)
		decoded, err := Decode(env)
		require.NoError(t, err)
		require.Equal(t, sig.Kind(), decoded.Kind())
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode(Envelope{Kind: "PRESENCE", Payload: json.RawMessage(`{}`)})
	require.True(t, errors.Is(err, ErrUnknownKind))
}

func TestDecodeRejectsBadPayload(t *testing.T) {
	_, err := Decode(Envelope{Kind: KindReaction, Payload: json.RawMessage(`[1,2`)})
	require.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = Decode(Envelope{Kind: KindChatMessage, Payload: json.RawMessage(`{"message":{}}`)})
	require.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestRelayable(t *testing.T) {
	require.False(t, Relayable(KindJoinRequest))
	require.False(t, Relayable(KindJoinAccepted))
	for _, k := range []Kind{KindChatMessage, KindMessageEdit, KindMessageDelete, KindReaction, KindTypingIndicator} {
		require.True(t, Relayable(k), k)
	}
}
