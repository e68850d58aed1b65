// Package libp2p carries room signals between peers over libp2p streams and
// resolves short peer ids through invites, mDNS, a gossipsub lobby and the DHT.
package libp2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const acceptBuffer = 16

// Config describes how a Node listens and finds peers.
type Config struct {
	// SelfID is the short id other peers dial.
	SelfID string
	Name   string
	// Port is used for both TCP and QUIC; 0 picks a random port.
	Port int
	// ListenAddrs overrides the addresses derived from Port.
	ListenAddrs []string
	// DataDir holds the libp2p identity key.
	DataDir string
	// RelayAddr is an optional circuit relay used instead of the public bootstrap nodes.
	RelayAddr      string
	BootstrapPeers []string
	EnableNAT      bool
	EnableMDNS     bool
	Logger         *zap.Logger
}

// Node is a libp2p host that implements transport.Transport.
type Node struct {
	cfg    Config
	host   host.Host
	ctx    context.Context
	cancel context.CancelFunc
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	disc   *drouting.RoutingDiscovery
	mdns   mdns.Service
	lobby  *pubsub.Topic
	sub    *pubsub.Subscription
	log    *zap.Logger

	dir    *Directory
	accept chan transport.Link

	// bootstrap peers we reached, passed on in discovery exchanges
	bootstrapPeers []peer.AddrInfo
	bootstrapMux   sync.RWMutex

	closeOnce sync.Once
}

var _ transport.Transport = (*Node)(nil)

// NewNode creates the libp2p host and registers the stream handlers. Call
// Start to begin discovery.
func NewNode(cfg Config) (*Node, error) {
	if cfg.SelfID == "" {
		return nil, errors.New("node requires a short id")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("node requires a data directory")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	privKey, err := LoadIdentity(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load or generate identity: %w", err)
	}

	cm, err := connmgr.NewConnManager(50, 200, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		cancel()
		return nil, err
	}

	listen := cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.Port),
		}
	}

	var idht *dht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listen...),
		libp2p.Identity(privKey),
		libp2p.ConnectionManager(cm),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(ctx, h, dht.Mode(dht.ModeServer))
			return idht, err
		}),
	}
	if cfg.EnableNAT {
		relays, err := staticRelays(cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		opts = append(opts,
			libp2p.EnableAutoRelayWithStaticRelays(relays),
			libp2p.EnableHolePunching(),
			libp2p.NATPortMap(),
		)
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	log := cfg.Logger.With(zap.String("self", cfg.SelfID))
	node := &Node{
		cfg:    cfg,
		host:   h,
		ctx:    ctx,
		cancel: cancel,
		dht:    idht,
		pubsub: ps,
		disc:   drouting.NewRoutingDiscovery(idht),
		log:    log,
		dir:    NewDirectory(),
		accept: make(chan transport.Link, acceptBuffer),
	}

	h.SetStreamHandler(SignalProtocol, node.handleSignalStream)
	h.SetStreamHandler(DiscoveryProtocol, node.handleDiscoveryStream)

	log.Info("libp2p host started", zap.String("libp2p_id", h.ID().String()), zap.Strings("addrs", addrStrings(node.Addrs())))
	return node, nil
}

// staticRelays prefers the configured relay and falls back to the DHT bootstrap nodes.
func staticRelays(cfg Config) ([]peer.AddrInfo, error) {
	if cfg.RelayAddr != "" {
		pi, err := addrInfoFromString(cfg.RelayAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid relay address: %w", err)
		}
		return []peer.AddrInfo{*pi}, nil
	}
	var relays []peer.AddrInfo
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		relays = append(relays, *pi)
	}
	return relays, nil
}

func addrInfoFromString(s string) (*peer.AddrInfo, error) {
	addr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(addr)
}

// Start bootstraps the DHT and starts every discovery mechanism.
func (n *Node) Start() error {
	connected := 0
	seeds := n.cfg.BootstrapPeers
	if n.cfg.RelayAddr != "" {
		seeds = append([]string{n.cfg.RelayAddr}, seeds...)
	}
	for _, addr := range seeds {
		if err := n.connectToPeer(addr); err != nil {
			n.log.Debug("bootstrap peer unreachable", zap.String("addr", addr), zap.Error(err))
			continue
		}
		connected++
	}
	if err := n.dht.Bootstrap(n.ctx); err != nil {
		n.log.Warn("DHT bootstrap failed", zap.Error(err))
	}
	if len(seeds) > 0 && connected == 0 {
		n.log.Warn("no bootstrap peer reachable, relying on local discovery")
	}

	if n.cfg.EnableMDNS {
		n.mdns = mdns.NewMdnsService(n.host, LobbyTopic, &discoveryNotifee{node: n})
		if err := n.mdns.Start(); err != nil {
			return fmt.Errorf("failed to start mDNS discovery: %w", err)
		}
	}
	if err := n.joinLobby(); err != nil {
		return err
	}

	go n.advertise()
	go n.maintainNetwork()
	return nil
}

func (n *Node) SelfID() string { return n.cfg.SelfID }

func (n *Node) Accept() <-chan transport.Link { return n.accept }

// Directory exposes the short id table.
func (n *Node) Directory() *Directory { return n.dir }

// Addrs returns the host's full /p2p addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// Dial resolves shortID and opens a signal stream to it.
func (n *Node) Dial(ctx context.Context, shortID string) (transport.Link, error) {
	if n.ctx.Err() != nil {
		return nil, transport.ErrTransportClosed
	}
	if shortID == n.cfg.SelfID {
		return nil, transport.ErrSelfConnect
	}

	info, err := n.resolve(ctx, shortID)
	if err != nil {
		return nil, err
	}
	if err := n.host.Connect(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s, err := n.host.NewStream(ctx, info.ID, SignalProtocol)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream to peer %s: %w", shortID, err)
	}

	link := newStreamLink(s)
	if err := link.handshake(n.hello(), shortID); err != nil {
		link.reset()
		return nil, err
	}
	n.log.Debug("outbound link", zap.String("peer", shortID), zap.String("libp2p_id", info.ID.String()))
	return link, nil
}

// handleSignalStream completes the handshake of an inbound stream and hands
// the link to the registry.
func (n *Node) handleSignalStream(s network.Stream) {
	link := newStreamLink(s)
	if err := link.handshake(n.hello(), ""); err != nil {
		n.log.Debug("inbound handshake failed", zap.String("libp2p_id", s.Conn().RemotePeer().String()), zap.Error(err))
		link.reset()
		return
	}
	remote := peer.AddrInfo{ID: s.Conn().RemotePeer(), Addrs: []multiaddr.Multiaddr{s.Conn().RemoteMultiaddr()}}
	n.dir.Put(link.RemoteID(), "", remote, "inbound")

	select {
	case n.accept <- link:
	case <-n.ctx.Done():
		link.reset()
	}
}

func (n *Node) hello() hello {
	return hello{PeerID: n.cfg.SelfID, Name: n.cfg.Name}
}

// Close shuts down the node.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.cancel()
		if n.mdns != nil {
			if cerr := n.mdns.Close(); cerr != nil {
				n.log.Debug("closing mDNS", zap.Error(cerr))
			}
		}
		if n.sub != nil {
			n.sub.Cancel()
		}
		if n.lobby != nil {
			if cerr := n.lobby.Close(); cerr != nil {
				n.log.Debug("closing lobby topic", zap.Error(cerr))
			}
		}
		if cerr := n.dht.Close(); cerr != nil {
			n.log.Debug("closing DHT", zap.Error(cerr))
		}
		err = n.host.Close()
	})
	return err
}

func addrStrings(addrs []multiaddr.Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
