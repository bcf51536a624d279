//go:build !linux

package kernel

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/logging"
)

// LinuxAdapter is unavailable off Linux; every method returns an error
// so a misconfigured binary fails loudly rather than silently no-oping.
type LinuxAdapter struct{}

func NewLinuxAdapter(log *logging.Logger) (*LinuxAdapter, error) {
	return nil, fmt.Errorf("kernel: real adapter requires linux")
}

func (a *LinuxAdapter) ListNamespaces() ([]string, error) { return nil, errUnsupported }
func (a *LinuxAdapter) CreateNamespace(name string) error { return errUnsupported }
func (a *LinuxAdapter) DeleteNamespace(name string) error { return errUnsupported }
func (a *LinuxAdapter) CreateWireGuardInterface(namespace string) error { return errUnsupported }
func (a *LinuxAdapter) ConfigureWireGuard(namespace string, cfg WireGuardConfig) error {
	return errUnsupported
}
func (a *LinuxAdapter) CurrentWireGuardState(namespace string) (WireGuardState, bool, error) {
	return WireGuardState{}, false, errUnsupported
}
func (a *LinuxAdapter) UpdatePeers(namespace string, add, update []PeerConfig, remove []wgtypes.Key) error {
	return errUnsupported
}
func (a *LinuxAdapter) CreateVethPair(hostSide, nsSide, namespace string) error { return errUnsupported }
func (a *LinuxAdapter) AssignLinkLocal(namespace, hostSide, nsSide string) error {
	return errUnsupported
}
func (a *LinuxAdapter) EnsureForwarding(port int, namespace string, subnets []string) error {
	return errUnsupported
}
func (a *LinuxAdapter) TeardownForwarding(port int, namespace string) error { return errUnsupported }
func (a *LinuxAdapter) SamplePeerCounters(namespace string) (map[wgtypes.Key]Counters, error) {
	return nil, errUnsupported
}

var errUnsupported = fmt.Errorf("kernel: operation requires linux")
