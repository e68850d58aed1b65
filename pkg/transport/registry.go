package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"go.uber.org/zap"
)

const eventBuffer = 256

// Registry owns the set of open links, at most one per remote peer id, and
// funnels everything they receive into a single ordered event stream.
type Registry struct {
	tr      Transport
	log     *zap.Logger
	metrics *metrics.Metrics

	links map[string]Link
	lock  sync.Mutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(tr Transport, log *zap.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tr:      tr,
		log:     log.With(zap.String("self", tr.SelfID())),
		metrics: m,
		links:   make(map[string]Link),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// SelfID returns the local peer id.
func (r *Registry) SelfID() string {
	return r.tr.SelfID()
}

// Events delivers link activity in arrival order.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Start accepts inbound links until ctx is done or the registry is closed.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		accept := r.tr.Accept()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case link, ok := <-accept:
				if !ok {
					return
				}
				r.log.Debug("inbound link", zap.String("peer", link.RemoteID()))
				r.add(link)
			}
		}
	}()
}

// ConnectTo dials peerID and registers the resulting link. The dial is
// bounded by ctx; a deadline expiry is reported as ErrConnectionTimeout.
func (r *Registry) ConnectTo(ctx context.Context, peerID string) error {
	if peerID == r.tr.SelfID() {
		return ErrSelfConnect
	}

	link, err := r.tr.Dial(ctx, peerID)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("%w: %s", ErrConnectionTimeout, peerID)
		case errors.Is(err, ErrPeerNotFound):
			return fmt.Errorf("failed to connect to %s: %w", peerID, err)
		default:
			return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, peerID, err)
		}
	}

	select {
	case <-r.done:
		link.Close()
		return ErrTransportClosed
	default:
	}
	r.add(link)
	return nil
}

func (r *Registry) add(link Link) {
	id := link.RemoteID()

	r.lock.Lock()
	old := r.links[id]
	r.links[id] = link
	count := len(r.links)
	r.lock.Unlock()

	if old != nil {
		r.log.Info("replacing link", zap.String("peer", id))
		if err := old.Close(); err != nil {
			r.log.Debug("closing replaced link", zap.String("peer", id), zap.Error(err))
		}
	}
	r.metrics.SetPeers(count)

	r.emit(Event{Kind: EventOpen, PeerID: id})
	go r.readLoop(link)
}

func (r *Registry) readLoop(link Link) {
	for {
		env, err := link.Recv()
		if err != nil {
			if r.remove(link, err) {
				r.emit(Event{Kind: EventClose, PeerID: link.RemoteID(), Err: err})
			}
			return
		}
		r.emit(Event{Kind: EventData, PeerID: link.RemoteID(), Envelope: env})
	}
}

// remove forgets link if it is still the current one for its peer. Only the
// current link produces a Close event, so replaced and mass-closed links stay silent.
func (r *Registry) remove(link Link, cause error) bool {
	id := link.RemoteID()

	r.lock.Lock()
	current := r.links[id] == link
	if current {
		delete(r.links, id)
	}
	count := len(r.links)
	r.lock.Unlock()

	link.Close()
	if !current {
		return false
	}
	r.metrics.SetPeers(count)
	r.log.Info("link closed", zap.String("peer", id), zap.Error(cause))
	return true
}

// drop is remove for callers that may be the event consumer itself; the
// Close event is delivered without blocking the caller.
func (r *Registry) drop(link Link, cause error) {
	if r.remove(link, cause) {
		go r.emit(Event{Kind: EventClose, PeerID: link.RemoteID(), Err: cause})
	}
}

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Broadcast sends env to every open link except exclude and returns the
// number of successful deliveries. Links that fail to send are dropped.
func (r *Registry) Broadcast(env protocol.Envelope, exclude string) int {
	r.lock.Lock()
	targets := make([]Link, 0, len(r.links))
	for id, link := range r.links {
		if id != exclude {
			targets = append(targets, link)
		}
	}
	r.lock.Unlock()

	sent := 0
	for _, link := range targets {
		if err := link.Send(env); err != nil {
			r.log.Warn("broadcast send failed", zap.String("peer", link.RemoteID()), zap.String("kind", string(env.Kind)), zap.Error(err))
			r.drop(link, err)
			continue
		}
		sent++
	}
	return sent
}

// SendTo delivers env to a single peer.
func (r *Registry) SendTo(peerID string, env protocol.Envelope) error {
	r.lock.Lock()
	link, ok := r.links[peerID]
	r.lock.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	if err := link.Send(env); err != nil {
		r.drop(link, err)
		return fmt.Errorf("failed to send %s to %s: %w", env.Kind, peerID, err)
	}
	return nil
}

// Disconnect closes the link to peerID, if any, emitting a Close event.
func (r *Registry) Disconnect(peerID string) {
	r.lock.Lock()
	link, ok := r.links[peerID]
	r.lock.Unlock()
	if ok {
		r.drop(link, nil)
	}
}

// CloseAll closes every link without emitting events.
func (r *Registry) CloseAll() {
	r.lock.Lock()
	links := r.links
	r.links = make(map[string]Link)
	r.lock.Unlock()

	for id, link := range links {
		if err := link.Close(); err != nil {
			r.log.Debug("closing link", zap.String("peer", id), zap.Error(err))
		}
	}
	r.metrics.SetPeers(0)
}

// Peers returns the ids of all open links, sorted.
func (r *Registry) Peers() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	ids := make([]string, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connected reports whether a link to peerID is open.
func (r *Registry) Connected(peerID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.links[peerID]
	return ok
}

// Close tears down every link and stops event delivery. The transport is closed too.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.CloseAll()
		close(r.done)
		err = r.tr.Close()
	})
	return err
}
