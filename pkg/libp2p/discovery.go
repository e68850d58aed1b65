package libp2p

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/transport"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"go.uber.org/zap"
)

// discoveryNotifee connects to hosts found by mDNS and swaps announcements with them.
type discoveryNotifee struct {
	node *Node
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n := d.node
	if pi.ID == n.host.ID() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("mDNS peer unreachable", zap.String("libp2p_id", pi.ID.String()), zap.Error(err))
			return
		}
		n.exchangeAnnouncement(pi.ID, "mdns")
	}()
}

func (n *Node) announcement() Announcement {
	return Announcement{
		PeerID:    n.cfg.SelfID,
		Libp2pID:  n.host.ID().String(),
		Name:      n.cfg.Name,
		Addrs:     addrStrings(n.host.Addrs()),
		Timestamp: time.Now().UTC(),
	}
}

// record stores a remote announcement once it is known to come from libp2pID.
func (n *Node) record(a Announcement, from peer.ID, source string) {
	if a.PeerID == n.cfg.SelfID || !identity.ValidCode(a.PeerID) {
		return
	}
	info, err := a.addrInfo()
	if err != nil || info.ID != from {
		n.log.Debug("ignoring announcement", zap.String("peer", a.PeerID), zap.String("source", source))
		return
	}
	if len(info.Addrs) == 0 {
		info.Addrs = n.host.Peerstore().Addrs(from)
	}
	n.dir.Put(a.PeerID, a.Name, info, source)
}

// exchangeAnnouncement sends our announcement to a connected host and records its reply.
func (n *Node) exchangeAnnouncement(id peer.ID, source string) {
	s, err := n.host.NewStream(n.ctx, id, DiscoveryProtocol)
	if err != nil {
		n.log.Debug("failed to open discovery stream", zap.String("libp2p_id", id.String()), zap.Error(err))
		return
	}
	defer func() {
		if err := s.Close(); err != nil {
			n.log.Debug("error closing stream", zap.Error(err))
		}
	}()
	s.SetDeadline(time.Now().Add(helloTimeout))

	if err := json.NewEncoder(s).Encode(n.announcement()); err != nil {
		n.log.Debug("failed to send announcement", zap.String("libp2p_id", id.String()), zap.Error(err))
		return
	}
	var reply Announcement
	if err := json.NewDecoder(s).Decode(&reply); err != nil {
		return
	}
	n.record(reply, id, source)
}

// handleDiscoveryStream answers an announcement with our own.
func (n *Node) handleDiscoveryStream(s network.Stream) {
	defer func() {
		if err := s.Close(); err != nil {
			n.log.Debug("error closing stream", zap.Error(err))
		}
	}()
	s.SetDeadline(time.Now().Add(helloTimeout))

	var msg Announcement
	if err := json.NewDecoder(s).Decode(&msg); err != nil {
		return
	}
	n.record(msg, s.Conn().RemotePeer(), "mdns")

	if err := json.NewEncoder(s).Encode(n.announcement()); err != nil {
		n.log.Debug("failed to answer announcement", zap.Error(err))
	}
}

// joinLobby subscribes to the lobby topic and starts announcing on it.
func (n *Node) joinLobby() error {
	topic, err := n.pubsub.Join(LobbyTopic)
	if err != nil {
		return fmt.Errorf("failed to join pubsub topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to pubsub topic: %w", err)
	}
	n.lobby = topic
	n.sub = sub

	go n.readLobby(sub)
	go n.announceLobby()
	return nil
}

// readLobby records announcements published by other nodes.
func (n *Node) readLobby(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() == nil {
				n.log.Warn("lobby subscription ended", zap.Error(err))
			}
			return
		}
		if msg.GetFrom() == n.host.ID() {
			continue
		}
		var a Announcement
		if err := json.Unmarshal(msg.GetData(), &a); err != nil {
			continue
		}
		n.record(a, msg.GetFrom(), "lobby")
	}
}

// announceLobby publishes our announcement now and then periodically.
func (n *Node) announceLobby() {
	ticker := time.NewTicker(announceEvery)
	defer ticker.Stop()
	for {
		data, err := json.Marshal(n.announcement())
		if err == nil {
			if err := n.lobby.Publish(n.ctx, data); err != nil && n.ctx.Err() == nil {
				n.log.Debug("failed to publish announcement", zap.Error(err))
			}
		}
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// advertise keeps our short id's rendezvous key in the DHT.
func (n *Node) advertise() {
	util.Advertise(n.ctx, n.disc, rendezvous(n.cfg.SelfID))
}

// resolve finds the address of shortID, polling the directory and the DHT
// rendezvous until one answers or ctx ends.
func (n *Node) resolve(ctx context.Context, shortID string) (peer.AddrInfo, error) {
	ticker := time.NewTicker(resolveInterval)
	defer ticker.Stop()
	for {
		if info, ok := n.dir.Lookup(shortID); ok {
			return info, nil
		}
		if info, ok := n.findProvider(ctx, shortID); ok {
			n.dir.Put(shortID, "", info, "dht")
			return info, nil
		}
		select {
		case <-ctx.Done():
			return peer.AddrInfo{}, ctx.Err()
		case <-n.ctx.Done():
			return peer.AddrInfo{}, transport.ErrTransportClosed
		case <-ticker.C:
		}
	}
}

func (n *Node) findProvider(ctx context.Context, shortID string) (peer.AddrInfo, bool) {
	findCtx, cancel := context.WithTimeout(ctx, resolveInterval)
	defer cancel()

	peerChan, err := n.disc.FindPeers(findCtx, rendezvous(shortID))
	if err != nil {
		return peer.AddrInfo{}, false
	}
	for p := range peerChan {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		return p, true
	}
	return peer.AddrInfo{}, false
}
