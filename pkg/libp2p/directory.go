package libp2p

import (
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// PeerInfo stores what we know about the libp2p host behind a short id.
type PeerInfo struct {
	ShortID  string
	AddrInfo peer.AddrInfo
	Name     string
	Source   string // "invite", "mdns", "lobby", "dht", "inbound"
	LastSeen time.Time
}

// Directory resolves short ids to libp2p addresses.
type Directory struct {
	peers map[string]*PeerInfo
	lock  sync.RWMutex
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*PeerInfo)}
}

// Put records or refreshes an entry. Addresses are merged when the libp2p id
// is unchanged and replaced when the short id moved to another host.
func (d *Directory) Put(shortID, name string, info peer.AddrInfo, source string) {
	if shortID == "" || info.ID == "" {
		return
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	existing, ok := d.peers[shortID]
	if ok && existing.AddrInfo.ID == info.ID {
		existing.AddrInfo.Addrs = mergeAddrs(existing.AddrInfo.Addrs, info)
		existing.LastSeen = time.Now()
		existing.Source = source
		if name != "" {
			existing.Name = name
		}
		return
	}
	d.peers[shortID] = &PeerInfo{
		ShortID:  shortID,
		AddrInfo: info,
		Name:     name,
		Source:   source,
		LastSeen: time.Now(),
	}
}

func mergeAddrs(known []multiaddr.Multiaddr, info peer.AddrInfo) []multiaddr.Multiaddr {
	out := known
	for _, addr := range info.Addrs {
		dup := false
		for _, k := range known {
			if k.Equal(addr) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, addr)
		}
	}
	return out
}

// Lookup returns the address info for shortID.
func (d *Directory) Lookup(shortID string) (peer.AddrInfo, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	p, ok := d.peers[shortID]
	if !ok {
		return peer.AddrInfo{}, false
	}
	return p.AddrInfo, true
}

// ShortID finds the short id announced by a libp2p host.
func (d *Directory) ShortID(id peer.ID) (string, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	for short, p := range d.peers {
		if p.AddrInfo.ID == id {
			return short, true
		}
	}
	return "", false
}

// Prune removes entries not seen since before and not currently connected.
func (d *Directory) Prune(before time.Time, connected func(peer.ID) bool) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	removed := 0
	for id, p := range d.peers {
		if p.LastSeen.Before(before) && !connected(p.AddrInfo.ID) {
			delete(d.peers, id)
			removed++
		}
	}
	return removed
}

// List returns a copy of every entry, sorted by short id.
func (d *Directory) List() []PeerInfo {
	d.lock.RLock()
	defer d.lock.RUnlock()
	out := make([]PeerInfo, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortID < out[j].ShortID })
	return out
}
