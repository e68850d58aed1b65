package libp2p

import "time"

const (
	// Protocol IDs for different services
	SignalProtocol    = "/hushroom/signal/1.0.0"
	DiscoveryProtocol = "/hushroom/discovery/1.0.0"

	// LobbyTopic is the gossipsub topic where nodes announce their short ids.
	LobbyTopic = "hushroom-lobby"
	// PeerNamespace prefixes the DHT rendezvous key of each short id.
	PeerNamespace = "hushroom-peer"

	helloTimeout    = 10 * time.Second
	resolveInterval = 2 * time.Second
	announceEvery   = 30 * time.Second
	maintainEvery   = time.Minute
	staleAfter      = 60 * time.Minute
)

// DefaultBootstrapPeers are the public DHT nodes used to join the wider network.
var DefaultBootstrapPeers = []string{
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb",
	"/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt",
	"/ip4/104.131.131.82/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ",
}

func rendezvous(shortID string) string {
	return PeerNamespace + "-" + shortID
}
