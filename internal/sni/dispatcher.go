// Package sni implements the :443 stream proxy (spec §4.2): accept a
// TCP connection, determine the SNI hostname without terminating TLS,
// and splice the raw stream to an upstream inside the hostname's
// target namespace.
package sni

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/metrics"
)

// Dialer opens a connection to addr from inside namespace.
type Dialer interface {
	DialUpstream(namespace, addr string) (net.Conn, error)
}

// idleTimeout bounds an established session with no traffic in either
// direction (spec §4.2: "overall session idle timeout 60s").
const idleTimeout = 60 * time.Second

// Stats is a point-in-time snapshot of dispatcher activity, served at
// GET /status.
type Stats struct {
	Active   int64
	Accepted int64
	Rejected int64
}

// Dispatcher runs the :443 accept loop. One instance owns one
// round-robin cursor per hostname so upstream selection cycles evenly
// regardless of how many goroutines are dispatching concurrently.
type Dispatcher struct {
	routes RoutingSource
	dialer Dialer
	log    *logging.Logger

	active   int64
	accepted int64
	rejected int64

	mu      sync.Mutex
	cursors map[string]int

	metricsCollector *metrics.Metrics
}

// SetMetrics attaches a metrics collector; connection counts are
// recorded from then on.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metricsCollector = m }

// New builds a Dispatcher that resolves hostnames via routes and dials
// upstreams via dialer.
func New(routes RoutingSource, dialer Dialer, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		routes:  routes,
		dialer:  dialer,
		log:     log.WithComponent("dispatcher"),
		cursors: make(map[string]int),
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed during shutdown).
func (d *Dispatcher) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.handle(conn)
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Active:   atomic.LoadInt64(&d.active),
		Accepted: atomic.LoadInt64(&d.accepted),
		Rejected: atomic.LoadInt64(&d.rejected),
	}
}

func (d *Dispatcher) handle(conn net.Conn) {
	defer conn.Close()
	atomic.AddInt64(&d.accepted, 1)
	if d.metricsCollector != nil {
		d.metricsCollector.DispatcherAccepted.Inc()
	}

	reject := func() {
		atomic.AddInt64(&d.rejected, 1)
		if d.metricsCollector != nil {
			d.metricsCollector.DispatcherRejected.Inc()
		}
	}

	hostname, prefix, err := PeekClientHello(conn)
	if err != nil {
		reject()
		d.log.Debug("client hello parse failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	target, ok := d.routes.Route(hostname)
	if !ok {
		reject()
		d.log.Debug("no route for hostname", "hostname", hostname)
		return
	}

	upstream, err := d.dialUpstream(hostname, target)
	if err != nil {
		reject()
		d.log.Warn("all upstreams failed", "hostname", hostname, "error", err)
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write(prefix); err != nil {
		d.log.Debug("replay client hello to upstream", "hostname", hostname, "error", err)
		return
	}

	atomic.AddInt64(&d.active, 1)
	if d.metricsCollector != nil {
		d.metricsCollector.DispatcherActive.Inc()
	}
	defer func() {
		atomic.AddInt64(&d.active, -1)
		if d.metricsCollector != nil {
			d.metricsCollector.DispatcherActive.Dec()
		}
	}()

	splice(conn, upstream)
}

// dialUpstream tries target's upstreams in round-robin order starting
// from this hostname's cursor, advancing it by one regardless of
// outcome so the next connection starts from the next candidate.
func (d *Dispatcher) dialUpstream(hostname string, target RouteTarget) (net.Conn, error) {
	if len(target.Upstreams) == 0 {
		return nil, errors.New("route has no upstreams")
	}

	start := d.nextCursor(hostname, len(target.Upstreams))

	var lastErr error
	for i := 0; i < len(target.Upstreams); i++ {
		addr := target.Upstreams[(start+i)%len(target.Upstreams)]
		conn, err := d.dialer.DialUpstream(target.Namespace, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Dispatcher) nextCursor(key string, n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cursors[key]
	d.cursors[key] = (c + 1) % n
	return c
}

// splice copies bytes in both directions until both directions are
// done, signalling half-close on the peer as soon as either direction
// sees EOF or an error, and enforcing the idle timeout on every read.
func splice(client, upstream net.Conn) {
	done := make(chan struct{}, 2)

	copyHalf := func(dst, src net.Conn) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			src.SetReadDeadline(time.Now().Add(idleTimeout))
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				closeWrite(dst)
				return
			}
		}
	}

	go copyHalf(upstream, client)
	go copyHalf(client, upstream)

	<-done
	<-done
}

// closeWrite half-closes dst's write side if it supports it, so the
// peer observes EOF without the whole connection being torn down
// immediately.
func closeWrite(conn net.Conn) {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
		return
	}
	conn.Close()
}
