// Package reconciler implements the declarative state engine (spec
// §4.1): it compares a desired configuration against the kernel's
// observed state and emits the minimum set of kernel.Adapter calls to
// converge, tracking per-port health along the way.
package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overlaygate/gatewayd/internal/config"
	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/metrics"
	"github.com/overlaygate/gatewayd/internal/sni"
	"github.com/overlaygate/gatewayd/internal/traffic"
	"github.com/overlaygate/gatewayd/internal/wgkey"
)

// hostVethPrefix and nsVethPrefix name the two ends of the veth pair
// created for each network (spec §4.1 step 4).
const (
	hostVethPrefix = "gwh"
	nsVethPrefix   = "gwn"
)

// transientRetryDelay is the back-off before the single retry of a
// failed network-creation step.
const transientRetryDelay = 200 * time.Millisecond

// activeNetwork is what the reconciler remembers about a converged
// port between applies, enough to serve the traffic accountant and
// the SNI dispatcher without either needing a kernel.Adapter of its
// own.
type activeNetwork struct {
	Namespace string
	PublicKey wgkey.Key
}

// Reconciler owns the process-wide reconcile mutex (spec §5) and the
// derived views (status, routing table, active networks) other
// subsystems read.
type Reconciler struct {
	adapter kernel.Adapter
	log     *logging.Logger

	applyMu sync.Mutex // serialises Apply calls end to end

	mu        sync.RWMutex
	desired   config.DesiredState
	statuses  map[int]Status
	active    map[int]activeNetwork
	routes    map[string]sni.RouteTarget
	conflicts []config.ProxyConflict

	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics collector; reconcile duration and
// per-step failures are recorded from then on. Safe to call once
// before the first Apply.
func (r *Reconciler) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// New builds a Reconciler around adapter. adapter is the only
// component that touches the kernel; everything else in this package
// is pure bookkeeping.
func New(adapter kernel.Adapter, log *logging.Logger) *Reconciler {
	return &Reconciler{
		adapter:  adapter,
		log:      log.WithComponent("reconciler"),
		desired:  config.DesiredState{},
		statuses: make(map[int]Status),
		active:   make(map[int]activeNetwork),
		routes:   make(map[string]sni.RouteTarget),
	}
}

// Apply converges the kernel (and the derived routing table) to
// desired. Per-port kernel failures do not make it return an error -
// those are recorded per port in Status(). It returns an error only
// when the observed state cannot be read at all (the adapter fails to
// list namespaces); desired state is then left unchanged.
func (r *Reconciler) Apply(desired config.DesiredState) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		}
	}()

	applyID := uuid.New()
	observedPorts, observedByPort, err := r.snapshotObserved()
	if err != nil {
		return fmt.Errorf("snapshot observed state: %w", err)
	}

	toCreate, toDelete, toUpdate := portSets(desired, observedPorts)

	for _, port := range toDelete {
		r.deletePort(port)
	}
	for _, port := range toCreate {
		r.createPort(port, desired[port], applyID)
	}
	for _, port := range toUpdate {
		r.updatePort(port, desired[port], observedByPort[port], applyID)
	}

	r.mu.Lock()
	r.desired = desired.Clone()
	r.mu.Unlock()

	routes, conflicts := desired.ResolveProxyRoutes()
	r.swapRoutes(routes, conflicts)

	return nil
}

func (r *Reconciler) snapshotObserved() (map[int]bool, map[int]kernel.WireGuardState, error) {
	namespaces, err := r.adapter.ListNamespaces()
	if err != nil {
		return nil, nil, err
	}

	ports := make(map[int]bool)
	states := make(map[int]kernel.WireGuardState)
	for _, ns := range namespaces {
		port, ok := kernel.ParsePort(ns)
		if !ok {
			continue
		}
		state, found, err := r.adapter.CurrentWireGuardState(ns)
		if err != nil {
			r.log.Warn("read wireguard state", "namespace", ns, "error", err)
			continue
		}
		if !found {
			continue
		}
		ports[port] = true
		states[port] = state
	}
	return ports, states, nil
}

func (r *Reconciler) deletePort(port int) {
	ns := kernel.NamespaceName(port)
	if err := r.adapter.TeardownForwarding(port, ns); err != nil {
		r.log.Warn("teardown forwarding", "port", port, "error", err)
	}
	if err := r.adapter.DeleteNamespace(ns); err != nil {
		r.log.Warn("delete namespace", "port", port, "error", err)
	}

	r.mu.Lock()
	delete(r.statuses, port)
	delete(r.active, port)
	r.mu.Unlock()
}

func (r *Reconciler) createPort(port int, spec config.NetworkSpec, applyID uuid.UUID) {
	ns := kernel.NamespaceName(port)
	hostVeth := fmt.Sprintf("%s%d", hostVethPrefix, port)
	nsVeth := fmt.Sprintf("%s%d", nsVethPrefix, port)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create namespace", func() error { return r.adapter.CreateNamespace(ns) }},
		{"create wireguard interface", func() error { return r.adapter.CreateWireGuardInterface(ns) }},
		{"configure wireguard", func() error { return r.adapter.ConfigureWireGuard(ns, wireGuardConfig(port, spec)) }},
		{"create veth pair", func() error { return r.adapter.CreateVethPair(hostVeth, nsVeth, ns) }},
		{"assign link-local", func() error { return r.adapter.AssignLinkLocal(ns, hostVeth, nsVeth) }},
		{"ensure forwarding", func() error { return r.adapter.EnsureForwarding(port, ns, spec.Address) }},
	}

	for _, step := range steps {
		err := step.fn()
		if err != nil {
			// A first failure is treated as transient: retry once after
			// a short back-off before marking the port failed.
			time.Sleep(transientRetryDelay)
			err = step.fn()
		}
		if err != nil {
			r.setStatus(port, StateFailed, fmt.Sprintf("%s: %v", step.name, err), applyID)
			r.log.Warn("create network failed", "port", port, "step", step.name, "error", err)
			if r.metrics != nil {
				r.metrics.ReconcileErrors.WithLabelValues(step.name).Inc()
			}
			return
		}
	}

	r.mu.Lock()
	r.active[port] = activeNetwork{Namespace: ns, PublicKey: spec.PublicKey()}
	r.mu.Unlock()
	r.setStatus(port, StateOK, "", applyID)
}

func (r *Reconciler) updatePort(port int, spec config.NetworkSpec, observed kernel.WireGuardState, applyID uuid.UUID) {
	diff := diffNetwork(spec, observed)
	ns := kernel.NamespaceName(port)

	if diff.rebuild {
		r.deletePort(port)
		r.createPort(port, spec, applyID)
		return
	}

	if diff.changed {
		if err := r.adapter.UpdatePeers(ns, diff.addPeers, diff.updatePeers, diff.removePeers); err != nil {
			r.setStatus(port, StateDegraded, fmt.Sprintf("update peers: %v", err), applyID)
			r.log.Warn("update peers failed", "port", port, "error", err)
			return
		}
	}

	r.mu.Lock()
	r.active[port] = activeNetwork{Namespace: ns, PublicKey: spec.PublicKey()}
	r.mu.Unlock()
	r.setStatus(port, StateOK, "", applyID)
}

func (r *Reconciler) setStatus(port int, state State, reason string, applyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[port] = Status{State: state, Reason: reason, LastApplyID: applyID}
}

func (r *Reconciler) swapRoutes(routes map[string]config.RouteTarget, conflicts []config.ProxyConflict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]sni.RouteTarget, len(routes))
	for host, target := range routes {
		out[host] = sni.RouteTarget{Namespace: kernel.NamespaceName(target.Port), Upstreams: target.Upstreams}
	}
	r.routes = out
	r.conflicts = conflicts
}

// Desired returns the last accepted desired state, for GET /config
// (spec §4.5: "the last accepted DesiredState, not the observed one").
func (r *Reconciler) Desired() config.DesiredState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.desired.Clone()
}

// Status returns a snapshot of every port's health, for GET /status.
func (r *Reconciler) Status() map[int]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]Status, len(r.statuses))
	for k, v := range r.statuses {
		out[k] = v
	}
	return out
}

// Conflicts returns the proxy hostname conflicts detected by the most
// recent apply.
func (r *Reconciler) Conflicts() []config.ProxyConflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]config.ProxyConflict(nil), r.conflicts...)
}

// Route resolves hostname to its current target, for the SNI
// dispatcher.
func (r *Reconciler) Route(hostname string) (sni.RouteTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.routes[hostname]
	return t, ok
}

// Routes returns every hostname's target, for atomically rebuilding a
// dispatcher's routing table or an HTTP proxy fragment.
func (r *Reconciler) Routes() map[string]sni.RouteTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]sni.RouteTarget, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// ActiveNetworks implements traffic.NetworkSource: every port the
// reconciler currently believes is up, with its derived public key as
// the traffic accountant's network identity.
func (r *Reconciler) ActiveNetworks() []traffic.ActiveNetwork {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]traffic.ActiveNetwork, 0, len(r.active))
	for port, a := range r.active {
		out = append(out, traffic.ActiveNetwork{Port: port, Namespace: a.Namespace, PublicKey: a.PublicKey.String()})
	}
	return out
}
