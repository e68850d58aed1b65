package offline

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Probe reports whether the host currently has network connectivity.
type Probe func() bool

// InterfaceProbe is online when any non-loopback interface is up and has an address.
func InterfaceProbe() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// Monitor polls a Probe and reports transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      *zap.Logger
	online   atomic.Bool
}

func NewMonitor(probe Probe, interval time.Duration, log *zap.Logger) *Monitor {
	if probe == nil {
		probe = InterfaceProbe
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{probe: probe, interval: interval, log: log}
	m.online.Store(probe())
	return m
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Run reports the initial state, then every change, until ctx is done.
func (m *Monitor) Run(ctx context.Context, onChange func(online bool)) {
	onChange(m.online.Load())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.probe()
			if m.online.Swap(now) != now {
				m.log.Info("connectivity changed", zap.Bool("online", now))
				onChange(now)
			}
		}
	}
}
