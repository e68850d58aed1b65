package libp2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/transport"
	"github.com/libp2p/go-libp2p/core/network"
)

// streamLink carries newline-delimited JSON envelopes over one libp2p stream.
type streamLink struct {
	s        network.Stream
	remoteID string
	enc      *json.Encoder
	dec      *json.Decoder

	sendMu sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newStreamLink(s network.Stream) *streamLink {
	return &streamLink{
		s:      s,
		enc:    json.NewEncoder(s),
		dec:    json.NewDecoder(s),
		closed: make(chan struct{}),
	}
}

// handshake swaps hello frames and binds the stream to the remote short id.
// When expect is set, a different id fails the handshake.
func (l *streamLink) handshake(local hello, expect string) error {
	if err := l.s.SetDeadline(time.Now().Add(helloTimeout)); err != nil {
		return fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	if err := l.enc.Encode(local); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}
	var remote hello
	if err := l.dec.Decode(&remote); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if remote.PeerID == "" {
		return errors.New("hello without peer id")
	}
	if expect != "" && remote.PeerID != expect {
		return fmt.Errorf("%w: dialed %s, reached %s", transport.ErrPeerNotFound, expect, remote.PeerID)
	}
	l.remoteID = remote.PeerID
	return l.s.SetDeadline(time.Time{})
}

func (l *streamLink) RemoteID() string { return l.remoteID }

func (l *streamLink) Send(env protocol.Envelope) error {
	select {
	case <-l.closed:
		return transport.ErrLinkClosed
	default:
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.enc.Encode(env); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

func (l *streamLink) Recv() (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := l.dec.Decode(&env); err != nil {
		select {
		case <-l.closed:
			return protocol.Envelope{}, io.EOF
		default:
		}
		if errors.Is(err, io.EOF) {
			return protocol.Envelope{}, io.EOF
		}
		return protocol.Envelope{}, fmt.Errorf("failed to read envelope: %w", err)
	}
	return env, nil
}

func (l *streamLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.s.Close()
	})
	return err
}

// reset aborts a stream whose handshake failed.
func (l *streamLink) reset() {
	l.once.Do(func() {
		close(l.closed)
		l.s.Reset()
	})
}
