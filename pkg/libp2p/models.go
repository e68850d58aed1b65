package libp2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// hello is the first frame each side writes on a signal stream.
type hello struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name,omitempty"`
}

// Announcement binds a short id to a libp2p host. It is exchanged on
// discovery streams and published to the lobby topic.
type Announcement struct {
	PeerID    string    `json:"peerId"`
	Libp2pID  string    `json:"libp2pId"`
	Name      string    `json:"name,omitempty"`
	Addrs     []string  `json:"addrs"`
	Timestamp time.Time `json:"timestamp"`
}

// addrInfo converts the announcement into dialable form. Unparseable
// addresses are skipped.
func (a Announcement) addrInfo() (peer.AddrInfo, error) {
	id, err := peer.Decode(a.Libp2pID)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range a.Addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, addr)
	}
	return info, nil
}
