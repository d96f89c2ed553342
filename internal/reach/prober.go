package reach

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// SSHPort is the port probed for EC2 instances.
const SSHPort = 22

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 3 * time.Second

// Prober opens TCP connections to decide whether a port is reachable.
//
// The zero value is not usable; create one with NewProber.
type Prober struct {
	dialer *net.Dialer
}

// NewProber creates a Prober with a default dialer.
func NewProber() *Prober {
	return &Prober{dialer: &net.Dialer{}}
}

// Probe reports whether host:port accepts a TCP connection within timeout.
// The connection is closed immediately; nothing is sent.
//
// An empty host or a port outside 1-65535 is reported as unreachable
// without dialing. A non-positive timeout uses DefaultTimeout.
func (p *Prober) Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if host == "" || port < 1 || port > 65535 {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		slog.Debug("probe failed", slog.String("addr", addr), slog.String("error", err.Error()))
		return false
	}
	_ = conn.Close()
	return true
}

// Probe is a convenience wrapper around NewProber().Probe.
func Probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return NewProber().Probe(ctx, host, port, timeout)
}
