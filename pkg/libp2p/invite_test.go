package libp2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

const testLibp2pID = "QmSoLnSGccFuZQJzRadHn95W2CrSFmMCKRYExzCGETCF9V"

func testAddrs(t *testing.T) []multiaddr.Multiaddr {
	t.Helper()
	var addrs []multiaddr.Multiaddr
	for _, s := range []string{
		"/ip4/127.0.0.1/tcp/4001/p2p/" + testLibp2pID,
		"/ip6/::1/udp/4001/quic-v1/p2p/" + testLibp2pID,
	} {
		addr, err := multiaddr.NewMultiaddr(s)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	return addrs
}

func TestGenerateAndParseInvite(t *testing.T) {
	invite := GenerateInvite("K7M2PQ", testAddrs(t))
	require.NotEmpty(t, invite)

	code, info, err := ParseInvite(invite)
	require.NoError(t, err)
	require.Equal(t, "K7M2PQ", code)
	require.Equal(t, testLibp2pID, info.ID.String())
	require.Len(t, info.Addrs, 2)
}

func TestParseInvalidInvite(t *testing.T) {
	for _, invite := range []string{
		"invalid-invite",
		GenerateInvite("nope", testAddrs(t)),
		GenerateInvite("K7M2PQ", nil),
	} {
		_, _, err := ParseInvite(invite)
		require.ErrorIs(t, err, ErrInvalidInvite, invite)
	}
}

func TestDirectory(t *testing.T) {
	dir := NewDirectory()
	id, err := peer.Decode(testLibp2pID)
	require.NoError(t, err)
	addrs := testAddrs(t)

	dir.Put("K7M2PQ", "Amina", peer.AddrInfo{ID: id, Addrs: addrs[:1]}, "lobby")
	dir.Put("K7M2PQ", "", peer.AddrInfo{ID: id, Addrs: addrs}, "mdns")

	info, ok := dir.Lookup("K7M2PQ")
	require.True(t, ok)
	require.Len(t, info.Addrs, 2)

	short, ok := dir.ShortID(id)
	require.True(t, ok)
	require.Equal(t, "K7M2PQ", short)

	list := dir.List()
	require.Len(t, list, 1)
	require.Equal(t, "Amina", list[0].Name)
	require.Equal(t, "mdns", list[0].Source)

	connected := func(peer.ID) bool { return true }
	require.Zero(t, dir.Prune(time.Now().Add(time.Hour), connected))
	require.Equal(t, 1, dir.Prune(time.Now().Add(time.Hour), func(peer.ID) bool { return false }))
	_, ok = dir.Lookup("K7M2PQ")
	require.False(t, ok)
}
