package libp2p

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

var ErrInvalidInvite = errors.New("invalid invite format")

// GenerateInvite generates a base64 encoded invite carrying a room code and
// the host's /p2p addresses, so the code can be dialed without discovery.
func GenerateInvite(shortID string, addrs []multiaddr.Multiaddr) string {
	invite := fmt.Sprintf("%s:%s", shortID, strings.Join(addrStrings(addrs), ","))
	return base64.URLEncoding.EncodeToString([]byte(invite))
}

// ParseInvite decodes an invite into its room code and address info.
func ParseInvite(invite string) (string, peer.AddrInfo, error) {
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimSpace(invite))
	if err != nil {
		return "", peer.AddrInfo{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	code, rest, ok := strings.Cut(string(decoded), ":")
	code = identity.NormalizeCode(code)
	if !ok || !identity.ValidCode(code) || rest == "" {
		return "", peer.AddrInfo{}, ErrInvalidInvite
	}

	var addrs []multiaddr.Multiaddr
	for _, s := range strings.Split(rest, ",") {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return "", peer.AddrInfo{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
		}
		addrs = append(addrs, addr)
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		return "", peer.AddrInfo{}, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	if len(infos) != 1 {
		return "", peer.AddrInfo{}, fmt.Errorf("%w: addresses name %d hosts", ErrInvalidInvite, len(infos))
	}
	return code, infos[0], nil
}

// Invite returns an invite for this node's room code.
func (n *Node) Invite() string {
	return GenerateInvite(n.cfg.SelfID, n.Addrs())
}

// AddInvite makes the invite's code dialable and returns it.
func (n *Node) AddInvite(invite string) (string, error) {
	code, info, err := ParseInvite(invite)
	if err != nil {
		return "", err
	}
	if code == n.cfg.SelfID {
		return "", fmt.Errorf("%w: that is your own invite", ErrInvalidInvite)
	}
	n.dir.Put(code, "", info, "invite")
	return code, nil
}
