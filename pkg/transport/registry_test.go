package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T, net *MemoryNetwork, id string) *Registry {
	t.Helper()
	tr, err := net.Listen(id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(tr, zaptest.NewLogger(t), nil)
	r.Start(ctx)
	t.Cleanup(func() {
		cancel()
		require.NoError(t, r.Close())
	})
	return r
}

func nextEvent(t *testing.T, r *Registry) Event {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registry event")
		return Event{}
	}
}

func testEnvelope(t *testing.T, sender, content string) protocol.Envelope {
	t.Helper()
	env, err := protocol.Encode(sender, sender, protocol.ChatMessage{Message: protocol.Message{ID: content, Content: content}})
	require.NoError(t, err)
	return env
}

func TestConnectEmitsOpenOnBothSides(t *testing.T) {
	net := NewMemoryNetwork()
	host := newTestRegistry(t, net, "HHHHHH")
	guest := newTestRegistry(t, net, "GGGGGG")

	require.NoError(t, guest.ConnectTo(context.Background(), "HHHHHH"))

	ev := nextEvent(t, guest)
	require.Equal(t, EventOpen, ev.Kind)
	require.Equal(t, "HHHHHH", ev.PeerID)

	ev = nextEvent(t, host)
	require.Equal(t, EventOpen, ev.Kind)
	require.Equal(t, "GGGGGG", ev.PeerID)

	require.Equal(t, []string{"HHHHHH"}, guest.Peers())
	require.Equal(t, []string{"GGGGGG"}, host.Peers())
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	net := NewMemoryNetwork()
	host := newTestRegistry(t, net, "HHHHHH")
	peers := map[string]*Registry{}
	for _, id := range []string{"AAAAAA", "BBBBBB", "CCCCCC"} {
		peers[id] = newTestRegistry(t, net, id)
		require.NoError(t, peers[id].ConnectTo(context.Background(), "HHHHHH"))
		require.Equal(t, EventOpen, nextEvent(t, peers[id]).Kind)
		require.Equal(t, EventOpen, nextEvent(t, host).Kind)
	}

	env := testEnvelope(t, "AAAAAA", "hi")
	require.Equal(t, 2, host.Broadcast(env, "AAAAAA"))

	for _, id := range []string{"BBBBBB", "CCCCCC"} {
		ev := nextEvent(t, peers[id])
		require.Equal(t, EventData, ev.Kind)
		require.Equal(t, "HHHHHH", ev.PeerID)
		require.Equal(t, env.Kind, ev.Envelope.Kind)
		require.JSONEq(t, string(env.Payload), string(ev.Envelope.Payload))
	}

	select {
	case ev := <-peers["AAAAAA"].Events():
		t.Fatalf("origin received its own broadcast: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoteCloseEmitsClose(t *testing.T) {
	net := NewMemoryNetwork()
	host := newTestRegistry(t, net, "HHHHHH")
	guest := newTestRegistry(t, net, "GGGGGG")

	require.NoError(t, guest.ConnectTo(context.Background(), "HHHHHH"))
	require.Equal(t, EventOpen, nextEvent(t, guest).Kind)
	require.Equal(t, EventOpen, nextEvent(t, host).Kind)

	guest.Disconnect("HHHHHH")

	ev := nextEvent(t, host)
	require.Equal(t, EventClose, ev.Kind)
	require.Equal(t, "GGGGGG", ev.PeerID)
	require.Empty(t, host.Peers())

	ev = nextEvent(t, guest)
	require.Equal(t, EventClose, ev.Kind)
	require.Empty(t, guest.Peers())
}

func TestReconnectReplacesLink(t *testing.T) {
	net := NewMemoryNetwork()
	host := newTestRegistry(t, net, "HHHHHH")
	guest := newTestRegistry(t, net, "GGGGGG")

	require.NoError(t, guest.ConnectTo(context.Background(), "HHHHHH"))
	require.Equal(t, EventOpen, nextEvent(t, host).Kind)
	require.Equal(t, EventOpen, nextEvent(t, guest).Kind)

	require.NoError(t, guest.ConnectTo(context.Background(), "HHHHHH"))
	waitFor(t, host, EventOpen)
	require.Equal(t, EventOpen, nextEvent(t, guest).Kind)

	// The replaced link closes and the new one still carries data.
	require.Equal(t, []string{"HHHHHH"}, guest.Peers())
	require.NoError(t, guest.SendTo("HHHHHH", testEnvelope(t, "GGGGGG", "after")))

	ev := waitFor(t, host, EventData)
	require.Equal(t, "GGGGGG", ev.PeerID)
	require.Equal(t, []string{"GGGGGG"}, host.Peers())
}

// waitFor skips events until one of kind arrives. The host may observe the
// replaced link closing before or after the new one opens.
func waitFor(t *testing.T, r *Registry, kind EventKind) Event {
	t.Helper()
	for {
		ev := nextEvent(t, r)
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestConnectTimeout(t *testing.T) {
	net := NewMemoryNetwork()
	guest := newTestRegistry(t, net, "GGGGGG")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := guest.ConnectTo(ctx, "ZZZZZZ")
	require.True(t, errors.Is(err, ErrConnectionTimeout), err)
}

func TestConnectToSelf(t *testing.T) {
	net := NewMemoryNetwork()
	r := newTestRegistry(t, net, "GGGGGG")
	require.ErrorIs(t, r.ConnectTo(context.Background(), "GGGGGG"), ErrSelfConnect)
}

func TestSendToUnknownPeer(t *testing.T) {
	net := NewMemoryNetwork()
	r := newTestRegistry(t, net, "GGGGGG")
	require.ErrorIs(t, r.SendTo("HHHHHH", testEnvelope(t, "GGGGGG", "x")), ErrUnknownPeer)
}

func TestCloseAllIsSilent(t *testing.T) {
	net := NewMemoryNetwork()
	host := newTestRegistry(t, net, "HHHHHH")
	guest := newTestRegistry(t, net, "GGGGGG")

	require.NoError(t, guest.ConnectTo(context.Background(), "HHHHHH"))
	require.Equal(t, EventOpen, nextEvent(t, guest).Kind)
	require.Equal(t, EventOpen, nextEvent(t, host).Kind)

	guest.CloseAll()
	require.Empty(t, guest.Peers())

	select {
	case ev := <-guest.Events():
		t.Fatalf("unexpected event after CloseAll: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// The other side still notices the link went away.
	require.Equal(t, EventClose, nextEvent(t, host).Kind)
}
