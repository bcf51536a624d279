//go:build linux

package sni

import (
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/vishvananda/netns"
)

// connectTimeout bounds a single upstream connection attempt (spec
// §4.2: "Connection timeout 1s").
const connectTimeout = 1 * time.Second

// LinuxDialer dials upstreams from inside a target network namespace,
// entering it with setns the same way kernel.LinuxAdapter does.
type LinuxDialer struct{}

// NewDialer builds the platform Dialer.
func NewDialer() Dialer { return LinuxDialer{} }

// DialUpstream connects to addr from inside namespace. The calling
// goroutine's OS thread is switched into the namespace for the
// duration of the dial and restored afterward; the returned conn keeps
// running fine once the thread is back in the host namespace since
// namespace membership only affects the syscalls used to establish it.
func (LinuxDialer) DialUpstream(namespace, addr string) (net.Conn, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("get origin netns: %w", err)
	}
	defer origin.Close()

	target, err := netns.GetFromName(namespace)
	if err != nil {
		return nil, fmt.Errorf("open netns %s: %w", namespace, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return nil, fmt.Errorf("enter netns %s: %w", namespace, err)
	}
	defer netns.Set(origin)

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s in %s: %w", addr, namespace, err)
	}
	return conn, nil
}
