//go:build !linux

package sni

import (
	"fmt"
	"net"
)

// StubDialer reports an error on every dial; only Linux hosts network
// namespaces.
type StubDialer struct{}

// NewDialer builds the platform Dialer.
func NewDialer() Dialer { return StubDialer{} }

func (StubDialer) DialUpstream(namespace, addr string) (net.Conn, error) {
	return nil, fmt.Errorf("sni: namespace-scoped dialing unsupported on this platform")
}
