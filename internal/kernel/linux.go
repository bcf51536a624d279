//go:build linux

package kernel

import (
	"fmt"
	"net"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/firewall"
	"github.com/overlaygate/gatewayd/internal/logging"
)

const wireGuardIfName = "wg0"

// LinuxAdapter is the real Adapter, backed by netlink, the netns
// package and wgctrl. One instance is shared by the whole daemon; the
// reconciler serialises access with its own mutex (spec §5).
type LinuxAdapter struct {
	log *logging.Logger
	fw  *firewall.Manager
}

// NewLinuxAdapter builds an Adapter that manipulates the real kernel.
func NewLinuxAdapter(log *logging.Logger) (*LinuxAdapter, error) {
	fw, err := firewall.NewManager(log.WithComponent("firewall"))
	if err != nil {
		return nil, fmt.Errorf("firewall manager: %w", err)
	}
	return &LinuxAdapter{log: log.WithComponent("kernel"), fw: fw}, nil
}

// withNamespace runs fn with the calling goroutine's network namespace
// switched to name, restoring the original namespace afterward. The OS
// thread is locked for the duration since namespace membership is a
// per-thread kernel property.
func withNamespace(name string, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get origin netns: %w", err)
	}
	defer origin.Close()

	target, err := netns.GetFromName(name)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", name, err)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("enter netns %s: %w", name, err)
	}
	defer netns.Set(origin)

	return fn()
}

func (a *LinuxAdapter) ListNamespaces() ([]string, error) {
	entries, err := netns.ListNamed()
	if err != nil {
		// No fallback enumeration: the error is returned to the caller.
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return entries, nil
}

func (a *LinuxAdapter) CreateNamespace(name string) error {
	handle, err := netns.NewNamed(name)
	if err != nil {
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	return handle.Close()
}

func (a *LinuxAdapter) DeleteNamespace(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("delete namespace %s: %w", name, err)
	}
	return nil
}

func (a *LinuxAdapter) CreateWireGuardInterface(namespace string) error {
	link := &netlink.Wireguard{LinkAttrs: netlink.LinkAttrs{Name: wireGuardIfName}}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("create wireguard link: %w", err)
	}

	target, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", namespace, err)
	}
	defer target.Close()

	created, err := netlink.LinkByName(wireGuardIfName)
	if err != nil {
		return fmt.Errorf("lookup created wireguard link: %w", err)
	}
	if err := netlink.LinkSetNsFd(created, int(target)); err != nil {
		return fmt.Errorf("move wireguard link into %s: %w", namespace, err)
	}
	return nil
}

func (a *LinuxAdapter) ConfigureWireGuard(namespace string, cfg WireGuardConfig) error {
	return withNamespace(namespace, func() error {
		client, err := wgctrl.New()
		if err != nil {
			return fmt.Errorf("open wgctrl client: %w", err)
		}
		defer client.Close()

		link, err := netlink.LinkByName(wireGuardIfName)
		if err != nil {
			return fmt.Errorf("lookup %s in %s: %w", wireGuardIfName, namespace, err)
		}
		for _, cidr := range cfg.Address {
			addr, err := netlink.ParseAddr(cidr)
			if err != nil {
				return fmt.Errorf("parse address %s: %w", cidr, err)
			}
			if err := netlink.AddrAdd(link, addr); err != nil && !isExists(err) {
				return fmt.Errorf("add address %s: %w", cidr, err)
			}
		}

		peers := make([]wgtypes.PeerConfig, 0, len(cfg.Peers))
		for _, p := range cfg.Peers {
			peers = append(peers, toWgtypesPeer(p))
		}

		port := cfg.ListenPort
		wgCfg := wgtypes.Config{
			PrivateKey:   &cfg.PrivateKey,
			ListenPort:   &port,
			ReplacePeers: true,
			Peers:        peers,
		}
		if err := client.ConfigureDevice(wireGuardIfName, wgCfg); err != nil {
			return fmt.Errorf("configure wireguard device: %w", err)
		}

		return netlink.LinkSetUp(link)
	})
}

func toWgtypesPeer(p PeerConfig) wgtypes.PeerConfig {
	out := wgtypes.PeerConfig{
		PublicKey:         p.PublicKey,
		PresharedKey:      p.PresharedKey,
		ReplaceAllowedIPs: true,
	}
	if p.Endpoint != "" {
		if addr, err := net.ResolveUDPAddr("udp", p.Endpoint); err == nil {
			out.Endpoint = addr
		}
	}
	if p.PersistentKeepalive != nil {
		d := secondsToDuration(*p.PersistentKeepalive)
		out.PersistentKeepaliveInterval = &d
	}
	for _, cidr := range p.AllowedIPs {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			out.AllowedIPs = append(out.AllowedIPs, *ipnet)
		}
	}
	return out
}

func (a *LinuxAdapter) CurrentWireGuardState(namespace string) (WireGuardState, bool, error) {
	var state WireGuardState
	var found bool
	err := withNamespace(namespace, func() error {
		client, err := wgctrl.New()
		if err != nil {
			return fmt.Errorf("open wgctrl client: %w", err)
		}
		defer client.Close()

		dev, err := client.Device(wireGuardIfName)
		if err != nil {
			return nil // interface absent: found stays false, no error
		}
		found = true
		state.PublicKey = dev.PublicKey

		link, err := netlink.LinkByName(wireGuardIfName)
		if err == nil {
			addrs, _ := netlink.AddrList(link, netlink.FAMILY_ALL)
			for _, addr := range addrs {
				state.Address = append(state.Address, addr.IPNet.String())
			}
		}

		for _, p := range dev.Peers {
			ps := PeerState{
				PublicKey: p.PublicKey,
				Counters: Counters{
					RxBytes: uint64(p.ReceiveBytes),
					TxBytes: uint64(p.TransmitBytes),
				},
			}
			for _, ip := range p.AllowedIPs {
				ps.AllowedIPs = append(ps.AllowedIPs, ip.String())
			}
			state.Peers = append(state.Peers, ps)
		}
		return nil
	})
	return state, found, err
}

func (a *LinuxAdapter) UpdatePeers(namespace string, add, update []PeerConfig, remove []wgtypes.Key) error {
	return withNamespace(namespace, func() error {
		client, err := wgctrl.New()
		if err != nil {
			return fmt.Errorf("open wgctrl client: %w", err)
		}
		defer client.Close()

		var peers []wgtypes.PeerConfig
		for _, p := range add {
			peers = append(peers, toWgtypesPeer(p))
		}
		for _, p := range update {
			peers = append(peers, toWgtypesPeer(p))
		}
		for _, key := range remove {
			peers = append(peers, wgtypes.PeerConfig{PublicKey: key, Remove: true})
		}
		if len(peers) == 0 {
			return nil
		}
		return client.ConfigureDevice(wireGuardIfName, wgtypes.Config{Peers: peers})
	})
}

func (a *LinuxAdapter) CreateVethPair(hostSide, nsSide, namespace string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostSide},
		PeerName:  nsSide,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", hostSide, nsSide, err)
	}
	peer, err := netlink.LinkByName(nsSide)
	if err != nil {
		return fmt.Errorf("lookup veth peer %s: %w", nsSide, err)
	}
	target, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("open netns %s: %w", namespace, err)
	}
	defer target.Close()
	return netlink.LinkSetNsFd(peer, int(target))
}

func (a *LinuxAdapter) AssignLinkLocal(namespace, hostSide, nsSide string) error {
	hostLink, err := netlink.LinkByName(hostSide)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", hostSide, err)
	}
	hostAddr, err := netlink.ParseAddr(linkLocalHost(namespace))
	if err != nil {
		return err
	}
	if err := netlink.AddrAdd(hostLink, hostAddr); err != nil && !isExists(err) {
		return fmt.Errorf("assign host-side link-local: %w", err)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return fmt.Errorf("bring up %s: %w", hostSide, err)
	}

	return withNamespace(namespace, func() error {
		nsLink, err := netlink.LinkByName(nsSide)
		if err != nil {
			return fmt.Errorf("lookup %s in %s: %w", nsSide, namespace, err)
		}
		nsAddr, err := netlink.ParseAddr(linkLocalNS(namespace))
		if err != nil {
			return err
		}
		if err := netlink.AddrAdd(nsLink, nsAddr); err != nil && !isExists(err) {
			return fmt.Errorf("assign ns-side link-local: %w", err)
		}
		return netlink.LinkSetUp(nsLink)
	})
}

// linkLocalHost and linkLocalNS derive a stable /30 for the host<->ns
// veth link from the namespace's port, avoiding collisions between
// tenants without needing a shared address allocator.
func linkLocalHost(namespace string) string {
	return fmt.Sprintf("169.254.%d.1/30", portOctet(namespace))
}

func linkLocalNS(namespace string) string {
	return fmt.Sprintf("169.254.%d.2/30", portOctet(namespace))
}

func portOctet(namespace string) int {
	port, _ := ParsePort(namespace)
	return port % 256
}

func (a *LinuxAdapter) EnsureForwarding(port int, namespace string, subnets []string) error {
	return a.fw.EnsureForwarding(port, namespace, subnets)
}

func (a *LinuxAdapter) TeardownForwarding(port int, namespace string) error {
	return a.fw.TeardownForwarding(port)
}

func (a *LinuxAdapter) SamplePeerCounters(namespace string) (map[wgtypes.Key]Counters, error) {
	state, found, err := a.CurrentWireGuardState(namespace)
	if err != nil || !found {
		return nil, err
	}
	out := make(map[wgtypes.Key]Counters, len(state.Peers))
	for _, p := range state.Peers {
		out[p.PublicKey] = p.Counters
	}
	return out, nil
}

func isExists(err error) bool {
	return err != nil && netlinkIsExists(err)
}
