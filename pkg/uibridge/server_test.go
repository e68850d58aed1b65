package uibridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/room"
	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const readTimeout = 3 * time.Second

func newTestBridge(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	tr, err := transport.NewMemoryNetwork().Listen("HOSTAA")
	require.NoError(t, err)
	m := metrics.New()
	reg := transport.NewRegistry(tr, log, m)
	reg.Start(ctx)

	s, err := room.New(room.Options{
		User:    protocol.User{ID: "HOSTAA", Name: "Amina"},
		Net:     reg,
		Log:     log,
		Metrics: m,
	})
	require.NoError(t, err)

	srv := NewServer(s, m, log)
	sessionDone := make(chan struct{})
	bridgeDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = s.Run(ctx)
	}()
	go func() {
		defer close(bridgeDone)
		_ = srv.Run(ctx)
	}()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-sessionDone
		<-bridgeDone
		require.NoError(t, reg.Close())
	})
	return ts, m
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// awaitFrame reads until a frame matches, skipping unrelated updates.
func awaitFrame(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	for {
		f := readFrame(t, conn)
		if match(f) {
			return f
		}
	}
}

func replyTo(id string) func(Frame) bool {
	return func(f Frame) bool {
		return f.ID == id && (f.Type == FrameResult || f.Type == FrameError)
	}
}

func sendIntent(t *testing.T, conn *websocket.Conn, id string, typ IntentType, data interface{}) {
	t.Helper()
	intent := Intent{ID: id, Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		intent.Data = raw
	}
	require.NoError(t, conn.WriteJSON(intent))
}

func TestSnapshotOnConnect(t *testing.T) {
	ts, _ := newTestBridge(t)
	conn := dial(t, ts)

	f := readFrame(t, conn)
	require.Equal(t, FrameSnapshot, f.Type)

	var view struct {
		State string        `json:"state"`
		User  protocol.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &view))
	require.Equal(t, "idle", view.State)
	require.Equal(t, "HOSTAA", view.User.ID)
}

func TestCreateAndSend(t *testing.T) {
	ts, _ := newTestBridge(t)
	conn := dial(t, ts)
	require.Equal(t, FrameSnapshot, readFrame(t, conn).Type)

	sendIntent(t, conn, "1", IntentCreate, CreateData{Kind: "group"})
	f := awaitFrame(t, conn, replyTo("1"))
	require.Equal(t, FrameResult, f.Type)
	var r protocol.Room
	require.NoError(t, json.Unmarshal(f.Data, &r))
	require.Equal(t, "HOSTAA", r.ID)
	require.Equal(t, protocol.RoomGroup, r.Kind)

	sendIntent(t, conn, "2", IntentSend, SendData{Content: "  habari  "})
	var sent protocol.Message
	var sawUpdate bool
	for sent.ID == "" || !sawUpdate {
		f := readFrame(t, conn)
		switch {
		case f.Type == FrameResult && f.ID == "2":
			require.NoError(t, json.Unmarshal(f.Data, &sent))
		case f.Type == FrameUpdate:
			var u room.Update
			require.NoError(t, json.Unmarshal(f.Data, &u))
			if u.Kind == room.UpdateMessage && u.Message != nil && u.Message.Content == "habari" {
				sawUpdate = true
			}
		}
	}
	require.Equal(t, "habari", sent.Content)
	require.Equal(t, protocol.KindText, sent.Kind)

	sendIntent(t, conn, "3", IntentReact, ReactData{MessageID: sent.ID, Emoji: "🔥"})
	require.Equal(t, FrameResult, awaitFrame(t, conn, replyTo("3")).Type)

	sendIntent(t, conn, "4", IntentEdit, EditData{MessageID: sent.ID, Content: "habari yako"})
	require.Equal(t, FrameResult, awaitFrame(t, conn, replyTo("4")).Type)

	sendIntent(t, conn, "5", IntentLeave, nil)
	require.Equal(t, FrameResult, awaitFrame(t, conn, replyTo("5")).Type)
}

func TestIntentErrors(t *testing.T) {
	ts, _ := newTestBridge(t)
	conn := dial(t, ts)
	require.Equal(t, FrameSnapshot, readFrame(t, conn).Type)

	cases := []struct {
		id   string
		typ  IntentType
		data interface{}
		code string
	}{
		{"a", IntentSend, SendData{Content: "hello"}, "not_active"},
		{"b", IntentType("dance"), nil, "unknown_intent"},
		{"c", IntentAddBot, BotData{Bot: "butler"}, "unknown_bot"},
		{"d", IntentJoin, JoinData{Code: "abc"}, "invalid_input"},
		{"e", IntentJoin, JoinData{Code: "hostaa"}, "invalid_input"},
		{"f", IntentSend, "not an object", "invalid_frame"},
	}
	for _, tc := range cases {
		sendIntent(t, conn, tc.id, tc.typ, tc.data)
		f := awaitFrame(t, conn, replyTo(tc.id))
		require.Equal(t, FrameError, f.Type, tc.id)
		var e ErrorData
		require.NoError(t, json.Unmarshal(f.Data, &e))
		require.Equal(t, tc.code, e.Code, tc.id)
		require.NotEmpty(t, e.Message)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	f := awaitFrame(t, conn, func(f Frame) bool { return f.Type == FrameError && f.ID == "" })
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	require.Equal(t, "invalid_frame", e.Code)
}

func TestUpdatesReachEveryClient(t *testing.T) {
	ts, _ := newTestBridge(t)
	first := dial(t, ts)
	second := dial(t, ts)
	require.Equal(t, FrameSnapshot, readFrame(t, first).Type)
	require.Equal(t, FrameSnapshot, readFrame(t, second).Type)

	sendIntent(t, first, "1", IntentCreate, CreateData{Kind: "private"})
	require.Equal(t, FrameResult, awaitFrame(t, first, replyTo("1")).Type)

	f := awaitFrame(t, second, func(f Frame) bool {
		if f.Type != FrameUpdate {
			return false
		}
		var u room.Update
		require.NoError(t, json.Unmarshal(f.Data, &u))
		return u.Kind == room.UpdateRoom
	})
	var u room.Update
	require.NoError(t, json.Unmarshal(f.Data, &u))
	require.NotNil(t, u.View.Room)
	require.Equal(t, protocol.RoomPrivate, u.View.Room.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, m := newTestBridge(t)
	m.SignalReceived("ChatMessage")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "idle", health["state"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "hushroom_signals_received_total")
}
