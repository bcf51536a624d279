package sni

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/logging"
)

type staticRoutes map[string]RouteTarget

func (s staticRoutes) Route(hostname string) (RouteTarget, bool) {
	t, ok := s[hostname]
	return t, ok
}

type pipeDialer struct {
	conns map[string]net.Conn
}

func (d *pipeDialer) DialUpstream(namespace, addr string) (net.Conn, error) {
	c, ok := d.conns[namespace+"|"+addr]
	if !ok {
		return nil, io.ErrClosedPipe
	}
	delete(d.conns, namespace+"|"+addr)
	return c, nil
}

func TestDispatcherRoutesHostnameToUpstream(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	upstreamSide, dialedSide := net.Pipe()
	defer clientSide.Close()

	routes := staticRoutes{
		"a.example": {Namespace: "ns-2000", Upstreams: []string{"10.0.0.2:443"}},
	}
	dialer := &pipeDialer{conns: map[string]net.Conn{"ns-2000|10.0.0.2:443": dialedSide}}
	d := New(routes, dialer, logging.New(logging.DefaultConfig()))

	record := buildClientHelloRecord("a.example")
	extra := []byte("hello upstream")

	done := make(chan struct{})
	go func() {
		d.handle(serverSide)
		close(done)
	}()

	go func() {
		clientSide.Write(record)
		clientSide.Write(extra)
	}()

	buf := make([]byte, len(record)+len(extra))
	_, err := io.ReadFull(upstreamSide, buf)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, record...), extra...), buf)

	upstreamSide.Close()
	<-done
}

func TestDispatcherClosesConnectionForUnknownSNI(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	routes := staticRoutes{}
	dialer := &pipeDialer{conns: map[string]net.Conn{}}
	d := New(routes, dialer, logging.New(logging.DefaultConfig()))

	done := make(chan struct{})
	go func() {
		d.handle(serverSide)
		close(done)
	}()

	clientSide.Write(buildClientHelloRecord("unknown.example"))

	buf := make([]byte, 1)
	_, err := clientSide.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	<-done
	require.EqualValues(t, 1, d.Stats().Rejected)
}

func TestDispatcherRoundRobinsAcrossUpstreams(t *testing.T) {
	routes := staticRoutes{
		"a.example": {Namespace: "ns-2000", Upstreams: []string{"10.0.0.2:443", "10.0.0.3:443"}},
	}
	d := New(routes, &pipeDialer{conns: map[string]net.Conn{}}, logging.New(logging.DefaultConfig()))

	first := d.nextCursor("ns-2000", 2)
	second := d.nextCursor("ns-2000", 2)
	third := d.nextCursor("ns-2000", 2)
	require.Equal(t, 0, first)
	require.Equal(t, 1, second)
	require.Equal(t, 0, third)
}
