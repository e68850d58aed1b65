package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/baderanaas/hushroom/pkg/protocol"
)

const (
	memLinkBuffer   = 1024
	memAcceptBuffer = 16
)

// MemoryNetwork connects MemoryTransports inside one process. Envelopes are
// serialised on the way through so peers never share memory.
type MemoryNetwork struct {
	nodes map[string]*MemoryTransport
	lock  sync.Mutex
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[string]*MemoryTransport)}
}

// Listen attaches a transport for id to the network.
func (n *MemoryNetwork) Listen(id string) (*MemoryTransport, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, exists := n.nodes[id]; exists {
		return nil, fmt.Errorf("peer id %s already attached", id)
	}
	t := &MemoryTransport{
		id:     id,
		net:    n,
		accept: make(chan Link, memAcceptBuffer),
		done:   make(chan struct{}),
	}
	n.nodes[id] = t
	return t, nil
}

func (n *MemoryNetwork) lookup(id string) (*MemoryTransport, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	t, ok := n.nodes[id]
	return t, ok
}

func (n *MemoryNetwork) detach(t *MemoryTransport) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.nodes[t.id] == t {
		delete(n.nodes, t.id)
	}
}

// MemoryTransport is one node's attachment to a MemoryNetwork.
type MemoryTransport struct {
	id     string
	net    *MemoryNetwork
	accept chan Link
	done   chan struct{}
	once   sync.Once

	links []*memLink
	lock  sync.Mutex
}

func (t *MemoryTransport) SelfID() string { return t.id }

func (t *MemoryTransport) Accept() <-chan Link { return t.accept }

// Dial connects to peerID. Like a real network lookup, dialing an id that is
// not attached waits until ctx gives up.
func (t *MemoryTransport) Dial(ctx context.Context, peerID string) (Link, error) {
	select {
	case <-t.done:
		return nil, ErrTransportClosed
	default:
	}

	target, ok := t.net.lookup(peerID)
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	local, remote := newMemPipe(t.id, peerID)
	select {
	case target.accept <- remote:
	case <-target.done:
		return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, peerID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.track(local)
	target.track(remote)
	return local, nil
}

func (t *MemoryTransport) track(l *memLink) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.links = append(t.links, l)
}

// Close detaches the transport and severs every link it holds.
func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.net.detach(t)

		t.lock.Lock()
		links := t.links
		t.links = nil
		t.lock.Unlock()
		for _, l := range links {
			l.Close()
		}
	})
	return nil
}

type memLink struct {
	remoteID string
	in       <-chan []byte
	out      chan<- []byte
	done     chan struct{}
	once     *sync.Once
}

// newMemPipe returns the two ends of a link; closing either end closes both.
func newMemPipe(a, b string) (*memLink, *memLink) {
	ab := make(chan []byte, memLinkBuffer)
	ba := make(chan []byte, memLinkBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	return &memLink{remoteID: b, in: ba, out: ab, done: done, once: once},
		&memLink{remoteID: a, in: ab, out: ba, done: done, once: once}
}

func (l *memLink) RemoteID() string { return l.remoteID }

func (l *memLink) Send(env protocol.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.out <- raw:
		return nil
	case <-l.done:
		return ErrLinkClosed
	}
}

func (l *memLink) Recv() (protocol.Envelope, error) {
	var raw []byte
	select {
	case raw = <-l.in:
	case <-l.done:
		// Deliver whatever was already in flight before reporting the close.
		select {
		case raw = <-l.in:
		default:
			return protocol.Envelope{}, io.EOF
		}
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

func (l *memLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
