package reconciler

import (
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/config"
	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/wgkey"
)

// wireGuardConfig converts the JSON-facing NetworkSpec into the
// adapter-level WireGuardConfig, translating wgkey.Key (this daemon's
// wire format) into wgtypes.Key (wgctrl's).
func wireGuardConfig(port int, spec config.NetworkSpec) kernel.WireGuardConfig {
	peers := make([]kernel.PeerConfig, 0, len(spec.Peers))
	for _, p := range spec.Peers {
		peers = append(peers, peerConfig(p))
	}
	return kernel.WireGuardConfig{
		PrivateKey: toWgtypesKey(spec.PrivateKey),
		ListenPort: port,
		Address:    append([]string(nil), spec.Address...),
		Peers:      peers,
	}
}

func peerConfig(p config.PeerSpec) kernel.PeerConfig {
	out := kernel.PeerConfig{
		PublicKey:           toWgtypesKey(p.PublicKey),
		AllowedIPs:          append([]string(nil), p.AllowedIPs...),
		PersistentKeepalive: p.PersistentKeepalive,
	}
	if p.PresharedKey != nil {
		k := toWgtypesKey(*p.PresharedKey)
		out.PresharedKey = &k
	}
	if p.Endpoint != nil {
		out.Endpoint = *p.Endpoint
	}
	return out
}

func toWgtypesKey(k wgkey.Key) wgtypes.Key { return wgtypes.Key(k) }
