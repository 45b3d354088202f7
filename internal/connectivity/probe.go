package connectivity

import (
	"context"
	"net"
	"time"
)

// Prober reports the current network status. Implementations must honor ctx.
type Prober interface {
	Probe(ctx context.Context) Status
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) Status

func (f ProberFunc) Probe(ctx context.Context) Status { return f(ctx) }

// NetProber checks for a usable interface, then dials Address over TCP.
type NetProber struct {
	Address string
	Timeout time.Duration

	dialer     *net.Dialer
	interfaces func() ([]net.Interface, error)
}

const defaultProbeTimeout = 3 * time.Second

func NewNetProber(address string, timeout time.Duration) *NetProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &NetProber{
		Address:    address,
		Timeout:    timeout,
		dialer:     &net.Dialer{Timeout: timeout},
		interfaces: net.Interfaces,
	}
}

func (p *NetProber) Probe(ctx context.Context) Status {
	if !p.hasUsableInterface() {
		return StatusDisconnected
	}
	if p.Address == "" {
		return StatusConnected
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return StatusRequiresConnection
	}
	_ = conn.Close()
	return StatusConnected
}

func (p *NetProber) hasUsableInterface() bool {
	ifaces, err := p.interfaces()
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
