// Package transport tracks the direct links between this node and its peers.
package transport

import (
	"context"
	"errors"

	"github.com/baderanaas/hushroom/pkg/protocol"
)

var (
	ErrConnectionTimeout = errors.New("connection timed out")
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrUnknownPeer       = errors.New("no link to peer")
	ErrSelfConnect       = errors.New("cannot connect to self")
	ErrLinkClosed        = errors.New("link closed")
	ErrTransportClosed   = errors.New("transport closed")
)

// Link is an ordered, bidirectional channel to one remote peer.
type Link interface {
	RemoteID() string
	Send(env protocol.Envelope) error
	// Recv blocks until the next envelope arrives or the link fails.
	Recv() (protocol.Envelope, error)
	Close() error
}

// Transport opens links to peers addressed by short id and accepts inbound ones.
type Transport interface {
	SelfID() string
	Dial(ctx context.Context, peerID string) (Link, error)
	Accept() <-chan Link
	Close() error
}

type EventKind int

const (
	EventOpen EventKind = iota
	EventData
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event reports link activity to the registry's consumer.
type Event struct {
	Kind     EventKind
	PeerID   string
	Envelope protocol.Envelope // EventData only
	Err      error             // EventClose only, nil on orderly shutdown
}
