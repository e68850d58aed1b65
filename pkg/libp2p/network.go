package libp2p

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// maintainNetwork runs background tasks to keep the network healthy.
func (n *Node) maintainNetwork() {
	ticker := time.NewTicker(maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.cleanupStaleEntries()
			n.ensureConnectivity()
		}
	}
}

// cleanupStaleEntries forgets short ids that haven't been seen in a while.
func (n *Node) cleanupStaleEntries() {
	removed := n.dir.Prune(time.Now().Add(-staleAfter), n.isConnected)
	if removed > 0 {
		n.log.Debug("pruned directory", zap.Int("removed", removed))
	}
}

// ensureConnectivity re-dials the bootstrap peers we reached before when the host is isolated.
func (n *Node) ensureConnectivity() {
	connected := len(n.host.Network().Peers())
	if connected >= 3 {
		return
	}
	n.log.Info("low connectivity, boosting discovery", zap.Int("peers", connected))

	n.bootstrapMux.RLock()
	seeds := append([]peer.AddrInfo(nil), n.bootstrapPeers...)
	n.bootstrapMux.RUnlock()
	for _, pi := range seeds {
		go func(pi peer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err == nil {
				n.exchangeAnnouncement(pi.ID, "bootstrap")
			}
		}(pi)
	}
}

func (n *Node) isConnected(id peer.ID) bool {
	return n.host.Network().Connectedness(id) == network.Connected
}

// connectToPeer connects to a peer given its multiaddress string.
func (n *Node) connectToPeer(addrStr string) error {
	peerInfo, err := addrInfoFromString(addrStr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *peerInfo); err != nil {
		return err
	}

	n.bootstrapMux.Lock()
	n.bootstrapPeers = append(n.bootstrapPeers, *peerInfo)
	if len(n.bootstrapPeers) > 20 {
		n.bootstrapPeers = n.bootstrapPeers[1:]
	}
	n.bootstrapMux.Unlock()
	return nil
}

// PeerStatus is a directory entry with its live connection state.
type PeerStatus struct {
	PeerInfo
	Connected bool
}

// KnownPeers lists every short id in the directory.
func (n *Node) KnownPeers() []PeerStatus {
	entries := n.dir.List()
	out := make([]PeerStatus, len(entries))
	for i, p := range entries {
		out[i] = PeerStatus{PeerInfo: p, Connected: n.isConnected(p.AddrInfo.ID)}
	}
	return out
}

// HostPeers is the number of libp2p connections, including non-room peers.
func (n *Node) HostPeers() int {
	return len(n.host.Network().Peers())
}
