package relay

import (
	"sort"
	"testing"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMesh struct {
	peers     []string
	delivered map[string][]protocol.Envelope
}

func (f *fakeMesh) Broadcast(env protocol.Envelope, exclude string) int {
	n := 0
	for _, id := range f.peers {
		if id == exclude {
			continue
		}
		f.delivered[id] = append(f.delivered[id], env)
		n++
	}
	return n
}

func newFakeMesh(peers ...string) *fakeMesh {
	return &fakeMesh{peers: peers, delivered: make(map[string][]protocol.Envelope)}
}

func TestForwardReachesEveryOtherPeer(t *testing.T) {
	mesh := newFakeMesh("AAAAAA", "BBBBBB", "CCCCCC")
	e := NewEngine(mesh, zaptest.NewLogger(t), nil)

	env, err := protocol.Encode("AAAAAA", "alice", protocol.ChatMessage{Message: protocol.Message{ID: "m1"}})
	require.NoError(t, err)

	require.Equal(t, 2, e.Forward(env, "AAAAAA"))

	var got []string
	for id := range mesh.delivered {
		got = append(got, id)
	}
	sort.Strings(got)
	require.Equal(t, []string{"BBBBBB", "CCCCCC"}, got)
	require.Equal(t, env, mesh.delivered["BBBBBB"][0], "forwarded verbatim")
}

func TestForwardSkipsHandshake(t *testing.T) {
	mesh := newFakeMesh("AAAAAA", "BBBBBB")
	e := NewEngine(mesh, nil, nil)

	for _, sig := range []protocol.Signal{
		protocol.JoinRequest{UserID: "AAAAAA", Name: "alice"},
		protocol.JoinAccepted{},
	} {
		env, err := protocol.Encode("AAAAAA", "alice", sig)
		require.NoError(t, err)
		require.Zero(t, e.Forward(env, "AAAAAA"))
	}
	require.Empty(t, mesh.delivered)
}

func TestForwardEveryRelayableKind(t *testing.T) {
	mesh := newFakeMesh("AAAAAA", "BBBBBB")
	e := NewEngine(mesh, nil, nil)

	for _, sig := range []protocol.Signal{
		protocol.ChatMessage{Message: protocol.Message{ID: "m"}},
		protocol.MessageEdit{MessageID: "m", Content: "x"},
		protocol.MessageDelete{MessageID: "m"},
		protocol.Reaction{MessageID: "m", Emoji: "👍"},
		protocol.TypingIndicator{IsTyping: true, UserName: "alice"},
	} {
		env, err := protocol.Encode("AAAAAA", "alice", sig)
		require.NoError(t, err)
		require.Equal(t, 1, e.Forward(env, "AAAAAA"), sig.Kind())
	}
	require.Len(t, mesh.delivered["BBBBBB"], 5)
}
