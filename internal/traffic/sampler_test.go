package traffic

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
)

type staticSource struct {
	networks []ActiveNetwork
}

func (s staticSource) ActiveNetworks() []ActiveNetwork { return s.networks }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traffic.db")
	store, err := Open(path, logging.New(logging.DefaultConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSamplerFirstTickRecordsZeroDelta(t *testing.T) {
	store := openTestStore(t)
	sim := kernel.NewSimAdapter()
	require.NoError(t, sim.CreateNamespace("ns-51820"))

	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	pub := peer.PublicKey()
	sim.SetCounters("ns-51820", pub, kernel.Counters{RxBytes: 1000, TxBytes: 500})

	networks := staticSource{networks: []ActiveNetwork{{Port: 51820, Namespace: "ns-51820", PublicKey: "network-a"}}}
	sampler := NewSampler(sim, networks, store, time.Second, logging.New(logging.DefaultConfig()))

	now := time.Unix(1_700_000_000, 0)
	sampler.Tick(now)

	series, err := store.Query(now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	require.Equal(t, uint64(0), series[0].Points[0].RxDelta)
	require.Equal(t, uint64(0), series[0].Points[0].TxDelta)
}

func TestSamplerComputesDeltaOnSecondTick(t *testing.T) {
	store := openTestStore(t)
	sim := kernel.NewSimAdapter()
	require.NoError(t, sim.CreateNamespace("ns-51820"))

	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	pub := peer.PublicKey()

	networks := staticSource{networks: []ActiveNetwork{{Port: 51820, Namespace: "ns-51820", PublicKey: "network-a"}}}
	sampler := NewSampler(sim, networks, store, time.Second, logging.New(logging.DefaultConfig()))

	t0 := time.Unix(1_700_000_000, 0)
	sim.SetCounters("ns-51820", pub, kernel.Counters{RxBytes: 1000, TxBytes: 500})
	sampler.Tick(t0)

	t1 := t0.Add(30 * time.Second)
	sim.SetCounters("ns-51820", pub, kernel.Counters{RxBytes: 1500, TxBytes: 800})
	sampler.Tick(t1)

	series, err := store.Query(t0.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, series[0].Points, 2)
	require.Equal(t, uint64(500), series[0].Points[1].RxDelta)
	require.Equal(t, uint64(300), series[0].Points[1].TxDelta)
}

func TestSamplerHandlesCounterEpochReset(t *testing.T) {
	store := openTestStore(t)
	sim := kernel.NewSimAdapter()
	require.NoError(t, sim.CreateNamespace("ns-51820"))

	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	pub := peer.PublicKey()

	networks := staticSource{networks: []ActiveNetwork{{Port: 51820, Namespace: "ns-51820", PublicKey: "network-a"}}}
	sampler := NewSampler(sim, networks, store, time.Second, logging.New(logging.DefaultConfig()))

	t0 := time.Unix(1_700_000_000, 0)
	sim.SetCounters("ns-51820", pub, kernel.Counters{RxBytes: 5000, TxBytes: 5000})
	sampler.Tick(t0)

	// Interface recreated: counters reset to a small value.
	t1 := t0.Add(30 * time.Second)
	sim.SetCounters("ns-51820", pub, kernel.Counters{RxBytes: 100, TxBytes: 50})
	sampler.Tick(t1)

	series, err := store.Query(t0.Add(-time.Second))
	require.NoError(t, err)
	require.Len(t, series[0].Points, 2)
	require.Equal(t, uint64(0), series[0].Points[1].RxDelta)
	require.Equal(t, uint64(0), series[0].Points[1].TxDelta)
}

func TestStorePrunesOldSamples(t *testing.T) {
	store := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Insert(Sample{NetworkPubkey: "n", PeerPubkey: "p", Time: now.Add(-25 * time.Hour)}))
	require.NoError(t, store.Insert(Sample{NetworkPubkey: "n", PeerPubkey: "p", Time: now}))

	pruned, err := store.Prune(now.Add(-Retention))
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	series, err := store.Query(now.Add(-48 * time.Hour))
	require.NoError(t, err)
	require.Len(t, series[0].Points, 1)
}
