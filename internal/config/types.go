// Package config defines the gateway's desired-state data model (spec §3):
// a mapping from listen port to WireGuard network specification, plus the
// per-peer and per-hostname sub-entities it owns.
package config

import (
	"github.com/overlaygate/gatewayd/internal/wgkey"
)

// Port is a validated UDP/TCP listen port in [1, 65535].
type Port = int

// DesiredState is the entire declarative configuration: one NetworkSpec
// per listen port. It is replaced atomically by POST /config and is
// never partially mutated (invariant 1: port uniqueness is the shape of
// the model, since a Go map cannot carry duplicate keys).
type DesiredState map[Port]NetworkSpec

// NetworkSpec is the configuration of one tenant WireGuard overlay.
type NetworkSpec struct {
	PrivateKey wgkey.Key             `json:"private_key"`
	Address    []string              `json:"address"`
	Peers      []PeerSpec            `json:"peers"`
	Proxy      map[string][]string   `json:"proxy"`
}

// PublicKey derives this network's identity key from its private key
// (invariant 2: a network's kernel identity is its listen port and its
// derived public key).
func (n NetworkSpec) PublicKey() wgkey.Key {
	return n.PrivateKey.Public()
}

// PeerSpec is one WireGuard peer of a NetworkSpec.
type PeerSpec struct {
	PublicKey           wgkey.Key  `json:"public_key"`
	PresharedKey        *wgkey.Key `json:"preshared_key,omitempty"`
	Endpoint            *string    `json:"endpoint,omitempty"`
	AllowedIPs          []string   `json:"allowed_ips"`
	PersistentKeepalive *int       `json:"persistent_keepalive,omitempty"`
}

// Clone deep-copies a DesiredState so callers holding a read snapshot
// never observe a mutation performed after they took it.
func (d DesiredState) Clone() DesiredState {
	out := make(DesiredState, len(d))
	for port, spec := range d {
		out[port] = spec.clone()
	}
	return out
}

func (n NetworkSpec) clone() NetworkSpec {
	addr := append([]string(nil), n.Address...)
	peers := make([]PeerSpec, len(n.Peers))
	for i, p := range n.Peers {
		peers[i] = p.clone()
	}
	proxy := make(map[string][]string, len(n.Proxy))
	for host, ups := range n.Proxy {
		proxy[host] = append([]string(nil), ups...)
	}
	return NetworkSpec{
		PrivateKey: n.PrivateKey,
		Address:    addr,
		Peers:      peers,
		Proxy:      proxy,
	}
}

func (p PeerSpec) clone() PeerSpec {
	out := p
	out.AllowedIPs = append([]string(nil), p.AllowedIPs...)
	if p.PresharedKey != nil {
		k := *p.PresharedKey
		out.PresharedKey = &k
	}
	if p.Endpoint != nil {
		e := *p.Endpoint
		out.Endpoint = &e
	}
	if p.PersistentKeepalive != nil {
		v := *p.PersistentKeepalive
		out.PersistentKeepalive = &v
	}
	return out
}
