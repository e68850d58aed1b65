// Package relay implements the host's star-topology forwarding.
package relay

import (
	"github.com/baderanaas/hushroom/pkg/metrics"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"go.uber.org/zap"
)

// Broadcaster fans an envelope out to every open link except one.
type Broadcaster interface {
	Broadcast(env protocol.Envelope, exclude string) int
}

// Engine forwards signals received by the host to every other guest.
// Only the room's host should own an Engine; guests never forward.
type Engine struct {
	out     Broadcaster
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewEngine(out Broadcaster, log *zap.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{out: out, log: log, metrics: m}
}

// Forward re-sends env verbatim to every peer except from, which is the link
// it arrived on. Join handshake signals are point-to-point and never
// forwarded. It returns the number of deliveries.
func (e *Engine) Forward(env protocol.Envelope, from string) int {
	if !protocol.Relayable(env.Kind) {
		return 0
	}
	n := e.out.Broadcast(env, from)
	e.metrics.SignalRelayed(string(env.Kind), n)
	e.log.Debug("relayed signal",
		zap.String("kind", string(env.Kind)),
		zap.String("peer", from),
		zap.Int("deliveries", n))
	return n
}
