package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/loykin/previewd/internal/metrics"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = 400 * time.Millisecond

// LoopbackHosts are tried in order when checking a local port.
var LoopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// Prober answers whether something accepts TCP connections on host:port.
// It must be safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context, host string, port int) bool
}

// TCPProber dials the target and closes the connection immediately.
type TCPProber struct {
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context, host string, port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	metrics.ObserveProbe(time.Since(start).Seconds(), err == nil)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Reachable reports whether any loopback host accepts connections on port.
func Reachable(ctx context.Context, p Prober, port int) bool {
	if p == nil || port <= 0 {
		return false
	}
	for _, h := range LoopbackHosts {
		if p.Probe(ctx, h, port) {
			return true
		}
	}
	return false
}

// CandidateURLs lists the http and https URLs a browser could use for port.
func CandidateURLs(port int) []string {
	if port <= 0 {
		return nil
	}
	ps := strconv.Itoa(port)
	out := make([]string, 0, 2*len(LoopbackHosts))
	for _, scheme := range []string{"http", "https"} {
		for _, h := range LoopbackHosts {
			out = append(out, scheme+"://"+net.JoinHostPort(h, ps))
		}
	}
	return out
}
