// Package kernel abstracts the Linux kernel operations the reconciler
// needs (namespaces, WireGuard interfaces, veth pairs, addressing,
// forwarding/NAT) behind a single interface, following the same
// ambient-authority-to-handle pattern spec §9 calls for: every
// privileged operation goes through one Adapter so tests can substitute
// a simulator instead of touching the real kernel.
package kernel

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// NamespacePrefix names every namespace this daemon manages, so
// enumeration can distinguish "ours" from anything else on the host.
const NamespacePrefix = "ns"

// NamespaceName returns the namespace name for a listen port, e.g.
// "ns-2001".
func NamespaceName(port int) string {
	return fmt.Sprintf("%s-%d", NamespacePrefix, port)
}

// ParsePort extracts the listen port from a namespace name produced by
// NamespaceName, reporting ok=false for anything not matching that
// shape (so enumeration can ignore namespaces this daemon doesn't own).
func ParsePort(namespace string) (port int, ok bool) {
	var p int
	n, err := fmt.Sscanf(namespace, NamespacePrefix+"-%d", &p)
	if err != nil || n != 1 {
		return 0, false
	}
	return p, true
}

// PeerConfig is the adapter-level view of a WireGuard peer, independent
// of the JSON wire format in package config.
type PeerConfig struct {
	PublicKey           wgtypes.Key
	PresharedKey        *wgtypes.Key
	Endpoint            string
	AllowedIPs          []string
	PersistentKeepalive *int
}

// WireGuardConfig is the adapter-level configuration for one WireGuard
// interface: private key, listen port and peer set.
type WireGuardConfig struct {
	PrivateKey wgtypes.Key
	ListenPort int
	Address    []string
	Peers      []PeerConfig
}

// WireGuardState is what CurrentWireGuardState observes about a live
// interface: enough to compute invariant 2 (identity = port + derived
// public key) and invariant 5's per-peer counter baselines.
type WireGuardState struct {
	PublicKey wgtypes.Key
	Address   []string
	Peers     []PeerState
}

// PeerState is one observed peer, including its live counters.
type PeerState struct {
	PublicKey  wgtypes.Key
	AllowedIPs []string
	Counters   Counters
}

// Counters are the raw, monotone-but-resettable byte counters wg(8)
// reports for one peer.
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Adapter is the full set of privileged operations the reconciler
// issues. Implementations: linux.go (real kernel, Linux-only build tag)
// and sim.go (in-memory, any platform, used by tests and by gatewayd's
// --sim flag). Off Linux, stub.go's LinuxAdapter fails every call.
type Adapter interface {
	// Namespace lifecycle.
	ListNamespaces() ([]string, error)
	CreateNamespace(name string) error
	DeleteNamespace(name string) error

	// WireGuard interface lifecycle. The interface is always named "wg0"
	// inside its namespace, per spec §8 scenario 1.
	CreateWireGuardInterface(namespace string) error
	ConfigureWireGuard(namespace string, cfg WireGuardConfig) error
	CurrentWireGuardState(namespace string) (WireGuardState, bool, error)
	UpdatePeers(namespace string, add, update []PeerConfig, remove []wgtypes.Key) error

	// veth wiring between the host and a tenant namespace.
	CreateVethPair(hostSide, nsSide, namespace string) error
	AssignLinkLocal(namespace, hostSide, nsSide string) error

	// Forwarding/NAT: outbound from the namespace's wg subnet through
	// the host, with SNAT for return traffic (spec §4.1 step 4).
	EnsureForwarding(port int, namespace string, subnets []string) error
	TeardownForwarding(port int, namespace string) error

	// SamplePeerCounters is used by the traffic accountant (spec §4.4);
	// it must succeed even if the interface has just been recreated.
	SamplePeerCounters(namespace string) (map[wgtypes.Key]Counters, error)
}
