//go:build !linux

package firewall

import (
	"fmt"

	"github.com/overlaygate/gatewayd/internal/logging"
)

// Manager is unavailable off Linux; NewManager fails loudly so a
// misconfigured binary doesn't silently skip forwarding setup.
type Manager struct{}

func NewManager(log *logging.Logger) (*Manager, error) {
	return nil, fmt.Errorf("firewall: nftables manager requires linux")
}

func (m *Manager) EnsureForwarding(port int, namespace string, subnets []string) error {
	return fmt.Errorf("firewall: operation requires linux")
}

func (m *Manager) TeardownForwarding(port int) error {
	return fmt.Errorf("firewall: operation requires linux")
}
