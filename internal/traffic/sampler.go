package traffic

import (
	"context"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/metrics"
)

// DefaultInterval is T_sample from spec §4.4.
const DefaultInterval = 30 * time.Second

// ActiveNetwork is one currently-reconciled WireGuard interface the
// sampler should read counters from.
type ActiveNetwork struct {
	Port      int
	Namespace string
	PublicKey string // base64 wg public key, used as network_pubkey
}

// NetworkSource reports which networks are currently up, so the
// sampler doesn't need to know anything about desired vs. observed
// state itself.
type NetworkSource interface {
	ActiveNetworks() []ActiveNetwork
}

type baselineKey struct {
	network string
	peer    string
}

// Sampler ticks every interval, reads per-peer counters for each
// active network through a kernel.Adapter, computes deltas against
// the previous raw reading (handling counter resets per spec §4.4),
// and appends the result to a Store.
type Sampler struct {
	adapter  kernel.Adapter
	networks NetworkSource
	store    *Store
	interval time.Duration
	log      *logging.Logger

	mu        sync.Mutex
	baselines map[baselineKey]Sample

	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics collector; every tick and read failure
// is recorded from then on.
func (s *Sampler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// NewSampler builds a Sampler. interval defaults to DefaultInterval
// when zero.
func NewSampler(adapter kernel.Adapter, networks NetworkSource, store *Store, interval time.Duration, log *logging.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		adapter:   adapter,
		networks:  networks,
		store:     store,
		interval:  interval,
		log:       log.WithComponent("sampler"),
		baselines: make(map[baselineKey]Sample),
	}
}

// Run ticks until ctx is cancelled, sampling every interval.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick performs one sampling pass over every active network. It is
// exported so tests can drive it deterministically instead of waiting
// on a real ticker.
func (s *Sampler) Tick(now time.Time) {
	if s.metrics != nil {
		s.metrics.SamplerTicks.Inc()
	}
	for _, net := range s.networks.ActiveNetworks() {
		counters, err := s.adapter.SamplePeerCounters(net.Namespace)
		if err != nil {
			s.log.Warn("sample peer counters", "namespace", net.Namespace, "error", err)
			if s.metrics != nil {
				s.metrics.SamplerErrors.Inc()
			}
			continue
		}
		for peer, c := range counters {
			s.recordOne(net.PublicKey, peer, c, now)
		}
	}
}

func (s *Sampler) recordOne(network string, peer wgtypes.Key, c kernel.Counters, now time.Time) {
	key := baselineKey{network: network, peer: peer.String()}

	s.mu.Lock()
	prev, hadPrev := s.baselines[key]
	s.mu.Unlock()

	sample := Sample{
		NetworkPubkey: network,
		PeerPubkey:    peer.String(),
		Time:          now,
		RxRaw:         c.RxBytes,
		TxRaw:         c.TxBytes,
	}

	switch {
	case !hadPrev:
		// First sample for this peer: record the baseline, no delta yet.
	case c.RxBytes >= prev.RxRaw && c.TxBytes >= prev.TxRaw:
		sample.RxDelta = c.RxBytes - prev.RxRaw
		sample.TxDelta = c.TxBytes - prev.TxRaw
	default:
		// Counter went backwards: the interface was recreated and its
		// counters reset. Treat this reading as a new epoch baseline
		// rather than reporting a negative or wrapped delta.
		s.log.Debug("counter epoch reset", "network", network, "peer", peer.String())
	}

	s.mu.Lock()
	s.baselines[key] = sample
	s.mu.Unlock()

	if err := s.store.Insert(sample); err != nil {
		s.log.Warn("insert counter sample", "network", network, "peer", peer.String(), "error", err)
		if s.metrics != nil {
			s.metrics.SamplerErrors.Inc()
		}
	}
}
