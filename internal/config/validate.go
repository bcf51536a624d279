package config

import (
	"fmt"
	"net"
	"sort"

	"github.com/overlaygate/gatewayd/internal/xerrors"
)

// Validate checks a DesiredState against spec §3's structural
// invariants and §8's boundary behaviours. It never mutates the
// receiver. A non-nil error is always a *xerrors.Error of
// KindValidation.
func (d DesiredState) Validate() error {
	for port, spec := range d {
		if port < 1 || port > 65535 {
			return xerrors.Errorf(xerrors.KindValidation, "port %d out of range [1,65535]", port)
		}
		if err := spec.validate(port); err != nil {
			return err
		}
	}
	return nil
}

func (n NetworkSpec) validate(port int) error {
	if n.PrivateKey.IsZero() {
		return xerrors.Errorf(xerrors.KindValidation, "port %d: private_key is required", port)
	}
	for _, cidr := range n.Address {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return xerrors.Wrapf(err, xerrors.KindValidation, "port %d: invalid address %q", port, cidr)
		}
	}
	seenPeer := make(map[string]bool, len(n.Peers))
	for i, p := range n.Peers {
		if p.PublicKey.IsZero() {
			return xerrors.Errorf(xerrors.KindValidation, "port %d: peer %d: public_key is required", port, i)
		}
		key := p.PublicKey.String()
		if seenPeer[key] {
			return xerrors.Errorf(xerrors.KindValidation, "port %d: duplicate peer public_key %s", port, key)
		}
		seenPeer[key] = true
		for _, cidr := range p.AllowedIPs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return xerrors.Wrapf(err, xerrors.KindValidation, "port %d: peer %d: invalid allowed_ips %q", port, i, cidr)
			}
		}
		if p.Endpoint != nil {
			_, portStr, err := net.SplitHostPort(*p.Endpoint)
			if err == nil {
				var port int
				if port, err = net.LookupPort("udp", portStr); err == nil && port < 1 {
					err = fmt.Errorf("port %d out of range [1,65535]", port)
				}
			}
			if err != nil {
				return xerrors.Wrapf(err, xerrors.KindValidation, "port %d: peer %d: invalid endpoint %q", port, i, *p.Endpoint)
			}
		}
		if p.PersistentKeepalive != nil && *p.PersistentKeepalive < 0 {
			return xerrors.Errorf(xerrors.KindValidation, "port %d: peer %d: persistent_keepalive must be >= 0", port, i)
		}
	}
	for host, upstreams := range n.Proxy {
		if host == "" {
			return xerrors.Errorf(xerrors.KindValidation, "port %d: empty proxy hostname", port)
		}
		if len(upstreams) == 0 {
			return xerrors.Errorf(xerrors.KindValidation, "port %d: proxy hostname %q has no upstreams", port, host)
		}
		for _, u := range upstreams {
			if _, _, err := net.SplitHostPort(u); err != nil {
				return xerrors.Wrapf(err, xerrors.KindValidation, "port %d: proxy hostname %q: invalid upstream %q", port, host, u)
			}
		}
	}
	return nil
}

// ProxyConflict describes two networks racing for the same hostname.
type ProxyConflict struct {
	Hostname     string
	LosingPort   int
	WinningPort  int
}

// ResolveProxyRoutes applies invariant 4 (proxy disjointness per
// listener): across all networks, each hostname routes to exactly one
// network, with the later-declared network (by ascending port order)
// winning deterministically. It returns the winning route table plus
// the list of conflicts that were overridden, for status reporting.
func (d DesiredState) ResolveProxyRoutes() (map[string]RouteTarget, []ProxyConflict) {
	ports := make([]int, 0, len(d))
	for port := range d {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	routes := make(map[string]RouteTarget)
	owner := make(map[string]int)
	var conflicts []ProxyConflict

	for _, port := range ports {
		spec := d[port]
		for host, upstreams := range spec.Proxy {
			if prevPort, ok := owner[host]; ok {
				conflicts = append(conflicts, ProxyConflict{
					Hostname:    host,
					LosingPort:  prevPort,
					WinningPort: port,
				})
			}
			owner[host] = port
			routes[host] = RouteTarget{Port: port, Upstreams: append([]string(nil), upstreams...)}
		}
	}
	return routes, conflicts
}

// RouteTarget is the resolved destination for one proxy hostname.
type RouteTarget struct {
	Port      int
	Upstreams []string
}

func (c ProxyConflict) String() string {
	return fmt.Sprintf("hostname %q: port %d overrides port %d", c.Hostname, c.WinningPort, c.LosingPort)
}
