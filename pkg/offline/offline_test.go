package offline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueuePersistsAcrossRestarts(t *testing.T) {
	kv := store.NewMemory()
	q, err := NewQueue(kv)
	require.NoError(t, err)

	require.NoError(t, q.Push(protocol.Message{ID: "a", Status: protocol.StatusPending}))
	require.NoError(t, q.Push(protocol.Message{ID: "b", Status: protocol.StatusPending}))
	require.Equal(t, 2, q.Len())

	restored, err := NewQueue(kv)
	require.NoError(t, err)
	require.Equal(t, 2, restored.Len())

	items, err := restored.Drain()
	require.NoError(t, err)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, "b", items[1].ID)
	require.Zero(t, restored.Len())

	_, ok, err := kv.Get(pendingKey)
	require.NoError(t, err)
	require.False(t, ok, "an empty queue leaves nothing behind")
}

func TestSnapshotRoundTrip(t *testing.T) {
	snaps := NewSnapshots(store.NewMemory())

	snap, err := snaps.Load()
	require.NoError(t, err)
	require.Nil(t, snap)

	room := protocol.Room{ID: "K7M2PQ", HostID: "K7M2PQ", Name: "Group Space", Kind: protocol.RoomGroup}
	msgs := []protocol.Message{{ID: "1", Content: "hi"}}
	require.NoError(t, snaps.Save(room, msgs))

	snap, err = snaps.Load()
	require.NoError(t, err)
	require.Equal(t, room.ID, snap.Room.ID)
	require.Equal(t, "hi", snap.Messages[0].Content)

	require.NoError(t, snaps.Clear())
	snap, err = snaps.Load()
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestSnapshotQuota(t *testing.T) {
	snaps := NewSnapshots(store.Limit(store.NewMemory(), 256))
	err := snaps.Save(protocol.Room{ID: "K7M2PQ"}, []protocol.Message{{ID: "1", Content: strings.Repeat("x", 512)}})
	require.True(t, errors.Is(err, store.ErrQuotaExceeded))
}

func TestMonitorReportsTransitions(t *testing.T) {
	var online atomic.Bool
	online.Store(true)

	m := NewMonitor(online.Load, 10*time.Millisecond, zaptest.NewLogger(t))
	require.True(t, m.Online())

	var mu sync.Mutex
	var seen []bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, func(v bool) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	online.Store(false)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	online.Store(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []bool{true, false, true}, seen)
	mu.Unlock()
}
