package reconciler

import (
	"sort"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/config"
	"github.com/overlaygate/gatewayd/internal/kernel"
)

// portSets splits the ports in desired and observed into the three
// sets the algorithm in spec §4.1 step 2 names.
func portSets(desired config.DesiredState, observedPorts map[int]bool) (toCreate, toDelete, toUpdate []int) {
	for port := range desired {
		if observedPorts[port] {
			toUpdate = append(toUpdate, port)
		} else {
			toCreate = append(toCreate, port)
		}
	}
	for port := range observedPorts {
		if _, ok := desired[port]; !ok {
			toDelete = append(toDelete, port)
		}
	}
	sort.Ints(toCreate)
	sort.Ints(toDelete)
	sort.Ints(toUpdate)
	return
}

// networkDiff classifies how much work an existing network needs to
// converge on spec: a full rebuild (public key or address set
// changed), an incremental peer update, or nothing at all.
type networkDiff struct {
	rebuild     bool
	addPeers    []kernel.PeerConfig
	updatePeers []kernel.PeerConfig
	removePeers []wgtypes.Key
	changed     bool
}

func diffNetwork(desired config.NetworkSpec, observed kernel.WireGuardState) networkDiff {
	if toWgtypesKey(desired.PublicKey()) != observed.PublicKey {
		return networkDiff{rebuild: true, changed: true}
	}
	if !sameStringSet(desired.Address, observed.Address) {
		return networkDiff{rebuild: true, changed: true}
	}

	add, update, remove, changed := diffPeers(desired.Peers, observed.Peers)
	return networkDiff{addPeers: add, updatePeers: update, removePeers: remove, changed: changed}
}

func diffPeers(desired []config.PeerSpec, observed []kernel.PeerState) (add, update []kernel.PeerConfig, remove []wgtypes.Key, changed bool) {
	byKey := make(map[wgtypes.Key]kernel.PeerState, len(observed))
	for _, p := range observed {
		byKey[p.PublicKey] = p
	}

	seen := make(map[wgtypes.Key]bool, len(desired))
	for _, d := range desired {
		key := toWgtypesKey(d.PublicKey)
		seen[key] = true
		obs, ok := byKey[key]
		switch {
		case !ok:
			add = append(add, peerConfig(d))
			changed = true
		case !sameStringSet(d.AllowedIPs, obs.AllowedIPs):
			update = append(update, peerConfig(d))
			changed = true
		}
	}
	for key := range byKey {
		if !seen[key] {
			remove = append(remove, key)
			changed = true
		}
	}
	return
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := sortedCopy(a), sortedCopy(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
