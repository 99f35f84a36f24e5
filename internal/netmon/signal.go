package netmon

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v3/net"
)

// Signal is the platform's view of internet reachability.
type Signal interface {
	Online(ctx context.Context) (bool, error)
}

// SignalFunc adapts a plain function to Signal.
type SignalFunc func(ctx context.Context) (bool, error)

func (f SignalFunc) Online(ctx context.Context) (bool, error) {
	return f(ctx)
}

var ErrNoTargets = errors.New("no probe targets configured")

// ProbeSignal reports online when a non-loopback interface is up with an
// address and at least one probe target accepts a TCP connection.
type ProbeSignal struct {
	Targets []string
	Timeout time.Duration

	// interfaces and dial are swapped in tests.
	interfaces func(ctx context.Context) (gnet.InterfaceStatList, error)
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewProbeSignal(targets []string, timeout time.Duration) *ProbeSignal {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	return &ProbeSignal{
		Targets:    targets,
		Timeout:    timeout,
		interfaces: gnet.InterfacesWithContext,
		dial:       d.DialContext,
	}
}

func (p *ProbeSignal) Online(ctx context.Context) (bool, error) {
	if len(p.Targets) == 0 {
		return false, ErrNoTargets
	}
	ifaces, err := p.interfaces(ctx)
	if err != nil {
		return false, err
	}
	if !hasUsableInterface(ifaces) {
		return false, nil
	}
	for _, target := range p.Targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, p.Timeout)
		conn, err := p.dial(dctx, "tcp", target)
		cancel()
		if err != nil {
			continue
		}
		_ = conn.Close()
		return true, nil
	}
	return false, nil
}

func hasUsableInterface(ifaces gnet.InterfaceStatList) bool {
	for _, iface := range ifaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback && len(iface.Addrs) > 0 {
			return true
		}
	}
	return false
}
