package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/libp2p"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/room"
	"github.com/baderanaas/hushroom/pkg/store"
	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeNetwork struct{}

func (fakeNetwork) Invite() string { return "aW52aXRl" }

func (fakeNetwork) AddInvite(invite string) (string, error) {
	if invite == "token-for-host" {
		return "K7M2PQ", nil
	}
	return "", libp2p.ErrInvalidInvite
}

func (fakeNetwork) KnownPeers() []libp2p.PeerStatus {
	return []libp2p.PeerStatus{{PeerInfo: libp2p.PeerInfo{ShortID: "K7M2PQ", Name: "Amina", Source: "mdns"}, Connected: true}}
}

func newSession(t *testing.T, net *transport.MemoryNetwork, id, name string) *room.Session {
	t.Helper()
	tr, err := net.Listen(id)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	reg := transport.NewRegistry(tr, log, nil)
	reg.Start(ctx)

	s, err := room.New(room.Options{
		User:   protocol.User{ID: id, Name: name},
		Net:    reg,
		Config: room.Config{JoinTimeout: 2 * time.Second},
		Log:    log,
	})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		require.NoError(t, reg.Close())
	})
	return s
}

func newTestCLI(t *testing.T, s *room.Session, input string) (*CLI, *syncBuffer, *identity.Provider) {
	t.Helper()
	kv := store.NewMemory()
	contacts, err := identity.NewContacts(kv)
	require.NoError(t, err)
	provider := identity.NewProvider(kv, zaptest.NewLogger(t))

	out := &syncBuffer{}
	c := New(Options{
		Session:  s,
		Contacts: contacts,
		Identity: provider,
		Network:  fakeNetwork{},
		In:       strings.NewReader(input),
		Out:      out,
		Log:      zaptest.NewLogger(t),
	})
	return c, out, provider
}

func TestRunCreateAndSend(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, out, _ := newTestCLI(t, s, "/create private\nhello there\n/history\n/quit\nignored\n")

	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	require.Contains(t, text, "✅ Hushroom started as Amina (K7M2PQ)")
	require.Contains(t, text, "✅ Private Session created")
	require.Contains(t, text, "Amina: hello there")
	require.Contains(t, text, "🔌 Shutting down")
	require.NotContains(t, text, "ignored")

	view := s.View()
	require.Equal(t, room.StateActive, view.State)
	require.Equal(t, protocol.RoomPrivate, view.Room.Kind)
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, out, _ := newTestCLI(t, s, "hello\n")

	require.NoError(t, c.Run(context.Background()))
	require.Contains(t, out.String(), "❌ Failed to send message: no active room")
}

func TestJoinThroughContactAndInvite(t *testing.T) {
	net := transport.NewMemoryNetwork()
	host := newSession(t, net, "K7M2PQ", "Amina")
	_, err := host.CreateRoom(context.Background(), protocol.RoomGroup)
	require.NoError(t, err)

	guest := newSession(t, net, "AAAAAA", "Baraka")
	c, out, _ := newTestCLI(t, guest, "")
	ctx := context.Background()

	done, err := c.handle(ctx, "/add-contact amina k7m2pq")
	require.False(t, done)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Contact 'amina' added (K7M2PQ)")

	_, err = c.handle(ctx, "/join amina")
	require.NoError(t, err)
	require.Contains(t, out.String(), "✅ Joined Group Space hosted by K7M2PQ")
	require.Equal(t, room.StateActive, guest.View().State)

	_, err = c.handle(ctx, "/leave")
	require.NoError(t, err)
	require.Equal(t, room.StateIdle, guest.View().State)

	_, err = c.handle(ctx, "/join token-for-host")
	require.NoError(t, err)
	require.Equal(t, room.StateActive, guest.View().State)
}

func TestResolveCode(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, _, _ := newTestCLI(t, s, "")

	code, err := c.resolveCode("aaaaaa")
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", code)

	_, err = c.contacts.Add("zawadi", "BBBBBB")
	require.NoError(t, err)
	code, err = c.resolveCode("Zawadi")
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", code)

	code, err = c.resolveCode("token-for-host")
	require.NoError(t, err)
	require.Equal(t, "K7M2PQ", code)

	_, err = c.resolveCode("not a thing")
	require.Error(t, err)
}

func TestMessageCommandsUseIDPrefix(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	_, err := s.CreateRoom(context.Background(), protocol.RoomGroup)
	require.NoError(t, err)
	msg, err := s.SendMessage("first draft", protocol.KindText, "")
	require.NoError(t, err)

	c, out, _ := newTestCLI(t, s, "")
	ctx := context.Background()
	prefix := msg.ID[:6]

	_, err = c.handle(ctx, "/edit "+prefix+" final words")
	require.NoError(t, err)
	_, err = c.handle(ctx, "/react "+prefix+" 🔥")
	require.NoError(t, err)
	_, err = c.handle(ctx, "/reply "+prefix+" agreed")
	require.NoError(t, err)

	edited, ok := findByID(s.View().Messages, msg.ID)
	require.True(t, ok)
	require.Equal(t, "final words", edited.Content)
	require.True(t, edited.IsEdited)
	require.Equal(t, []string{"K7M2PQ"}, edited.Reactions["🔥"])

	msgs := s.View().Messages
	last := msgs[len(msgs)-1]
	require.Equal(t, "agreed", last.Content)
	require.Equal(t, msg.ID, last.ReplyTo)

	_, err = c.handle(ctx, "/delete "+prefix)
	require.NoError(t, err)
	deleted, _ := findByID(s.View().Messages, msg.ID)
	require.True(t, deleted.IsDeleted)

	_, err = c.handle(ctx, "/edit zzzzzz nope")
	require.NoError(t, err)
	require.Contains(t, out.String(), "message not found")
}

func TestBotCommands(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	_, err := s.CreateRoom(context.Background(), protocol.RoomGroup)
	require.NoError(t, err)
	c, out, _ := newTestCLI(t, s, "")
	ctx := context.Background()

	_, err = c.handle(ctx, "/bot-add meme")
	require.NoError(t, err)
	require.True(t, s.View().Room.HasBot(protocol.BotMeme))

	_, err = c.handle(ctx, "/bots")
	require.NoError(t, err)
	require.Contains(t, out.String(), "[✓] 😂 meme")

	_, err = c.handle(ctx, "/bot-add butler")
	require.NoError(t, err)
	require.Contains(t, out.String(), `❌ Unknown bot "butler"`)

	_, err = c.handle(ctx, "/bot-remove MEME")
	require.NoError(t, err)
	require.False(t, s.View().Room.HasBot(protocol.BotMeme))
}

func TestPeersAndInvite(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, out, _ := newTestCLI(t, s, "")
	ctx := context.Background()

	_, err := c.handle(ctx, "/peers")
	require.NoError(t, err)
	_, err = c.handle(ctx, "/invite")
	require.NoError(t, err)

	text := out.String()
	require.Contains(t, text, "No peers connected to this room.")
	require.Contains(t, text, "🟢 K7M2PQ Amina (via mdns)")
	require.Contains(t, text, "📨 Share this invite: aW52aXRl")
}

func TestLogout(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, _, provider := newTestCLI(t, s, "")
	_, err := provider.Login("Amina", "")
	require.NoError(t, err)

	done, err := c.handle(context.Background(), "/logout")
	require.True(t, done)
	require.ErrorIs(t, err, ErrLogout)

	user, err := provider.Restore()
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestUnknownCommand(t *testing.T) {
	s := newSession(t, transport.NewMemoryNetwork(), "K7M2PQ", "Amina")
	c, out, _ := newTestCLI(t, s, "")

	done, err := c.handle(context.Background(), "/dance")
	require.False(t, done)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Unknown command /dance")
}

func findByID(msgs []protocol.Message, id string) (protocol.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return protocol.Message{}, false
}
