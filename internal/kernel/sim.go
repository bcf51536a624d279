package kernel

import (
	"fmt"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// SimAdapter is an in-memory Adapter used by tests (and available on
// any platform) so the reconciler's convergence logic can be exercised
// without root or a real kernel.
type SimAdapter struct {
	mu sync.Mutex

	namespaces map[string]*simNamespace
	forwarding map[int]bool

	// Mutations records every namespace-affecting call this adapter has
	// serviced, in order, so idempotence tests can assert "no kernel
	// mutations happened on this apply".
	Mutations []string
}

type simNamespace struct {
	wireGuardCreated bool
	config           WireGuardConfig
	configured       bool
	counters         map[wgtypes.Key]Counters
}

// NewSimAdapter returns an empty simulated kernel.
func NewSimAdapter() *SimAdapter {
	return &SimAdapter{
		namespaces: make(map[string]*simNamespace),
		forwarding: make(map[int]bool),
	}
}

func (s *SimAdapter) record(format string, args ...any) {
	s.Mutations = append(s.Mutations, fmt.Sprintf(format, args...))
}

func (s *SimAdapter) ListNamespaces() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		out = append(out, name)
	}
	return out, nil
}

func (s *SimAdapter) CreateNamespace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; ok {
		return nil
	}
	s.namespaces[name] = &simNamespace{counters: make(map[wgtypes.Key]Counters)}
	s.record("create-namespace %s", name)
	return nil
}

func (s *SimAdapter) DeleteNamespace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; !ok {
		return fmt.Errorf("namespace %s does not exist", name)
	}
	delete(s.namespaces, name)
	s.record("delete-namespace %s", name)
	return nil
}

func (s *SimAdapter) CreateWireGuardInterface(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s does not exist", namespace)
	}
	if ns.wireGuardCreated {
		return nil
	}
	ns.wireGuardCreated = true
	s.record("create-wg %s", namespace)
	return nil
}

func (s *SimAdapter) ConfigureWireGuard(namespace string, cfg WireGuardConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s does not exist", namespace)
	}
	ns.config = cfg
	ns.configured = true
	s.record("configure-wg %s peers=%d", namespace, len(cfg.Peers))
	return nil
}

func (s *SimAdapter) CurrentWireGuardState(namespace string) (WireGuardState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok || !ns.configured {
		return WireGuardState{}, false, nil
	}
	state := WireGuardState{
		PublicKey: ns.config.PrivateKey.PublicKey(),
		Address:   append([]string(nil), ns.config.Address...),
	}
	for _, p := range ns.config.Peers {
		state.Peers = append(state.Peers, PeerState{
			PublicKey:  p.PublicKey,
			AllowedIPs: append([]string(nil), p.AllowedIPs...),
			Counters:   ns.counters[p.PublicKey],
		})
	}
	return state, true, nil
}

func (s *SimAdapter) UpdatePeers(namespace string, add, update []PeerConfig, remove []wgtypes.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s does not exist", namespace)
	}

	byKey := make(map[wgtypes.Key]PeerConfig, len(ns.config.Peers))
	order := make([]wgtypes.Key, 0, len(ns.config.Peers))
	for _, p := range ns.config.Peers {
		byKey[p.PublicKey] = p
		order = append(order, p.PublicKey)
	}
	for _, p := range add {
		if _, exists := byKey[p.PublicKey]; !exists {
			order = append(order, p.PublicKey)
		}
		byKey[p.PublicKey] = p
	}
	for _, p := range update {
		byKey[p.PublicKey] = p
	}
	for _, key := range remove {
		delete(byKey, key)
	}

	var newPeers []PeerConfig
	for _, key := range order {
		if p, ok := byKey[key]; ok {
			newPeers = append(newPeers, p)
		}
	}
	ns.config.Peers = newPeers
	if len(add) > 0 || len(update) > 0 || len(remove) > 0 {
		s.record("update-peers %s add=%d update=%d remove=%d", namespace, len(add), len(update), len(remove))
	}
	return nil
}

func (s *SimAdapter) CreateVethPair(hostSide, nsSide, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespace]; !ok {
		return fmt.Errorf("namespace %s does not exist", namespace)
	}
	s.record("create-veth %s %s->%s", namespace, hostSide, nsSide)
	return nil
}

func (s *SimAdapter) AssignLinkLocal(namespace, hostSide, nsSide string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("assign-link-local %s", namespace)
	return nil
}

func (s *SimAdapter) EnsureForwarding(port int, namespace string, subnets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.forwarding[port] {
		s.record("ensure-forwarding %d", port)
	}
	s.forwarding[port] = true
	return nil
}

func (s *SimAdapter) TeardownForwarding(port int, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwarding[port] {
		s.record("teardown-forwarding %d", port)
	}
	delete(s.forwarding, port)
	return nil
}

func (s *SimAdapter) SamplePeerCounters(namespace string) (map[wgtypes.Key]Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	out := make(map[wgtypes.Key]Counters, len(ns.counters))
	for k, v := range ns.counters {
		out[k] = v
	}
	return out, nil
}

// SetCounters lets tests inject raw counter readings for a peer,
// simulating the kernel's own bookkeeping (spec §8 scenario 4).
func (s *SimAdapter) SetCounters(namespace string, peer wgtypes.Key, c Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return
	}
	ns.counters[peer] = c
}

// ResetMutations clears the recorded mutation log, letting a test mark
// "everything before this point doesn't count" (e.g. after the initial
// apply, before asserting a second apply is a no-op).
func (s *SimAdapter) ResetMutations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mutations = nil
}
