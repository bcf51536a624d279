package reconciler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/config"
	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/wgkey"
)

func mustKey(t *testing.T, seed byte) wgkey.Key {
	t.Helper()
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	return wgkey.Key(raw)
}

func TestApplyEmptyToSingleNetwork(t *testing.T) {
	sim := kernel.NewSimAdapter()
	r := New(sim, logging.New(logging.DefaultConfig()))

	desired := config.DesiredState{
		2001: {
			PrivateKey: mustKey(t, 1),
			Address:    []string{"10.0.0.1/16"},
			Peers: []config.PeerSpec{
				{PublicKey: mustKey(t, 2), AllowedIPs: []string{"10.0.0.2/32"}},
			},
		},
	}

	require.NoError(t, r.Apply(desired))

	statuses := r.Status()
	require.Equal(t, StateOK, statuses[2001].State)

	namespaces, err := sim.ListNamespaces()
	require.NoError(t, err)
	require.Contains(t, namespaces, "ns-2001")
}

func TestApplyTwiceIsANoopOnTheSecondCall(t *testing.T) {
	sim := kernel.NewSimAdapter()
	r := New(sim, logging.New(logging.DefaultConfig()))

	desired := config.DesiredState{
		2001: {
			PrivateKey: mustKey(t, 1),
			Address:    []string{"10.0.0.1/16"},
			Peers: []config.PeerSpec{
				{PublicKey: mustKey(t, 2), AllowedIPs: []string{"10.0.0.2/32"}},
			},
		},
	}

	require.NoError(t, r.Apply(desired))
	sim.ResetMutations()

	require.NoError(t, r.Apply(desired))
	require.Empty(t, sim.Mutations, "re-applying the same desired state must not mutate the kernel")
}

func TestApplyRenamePortRebuildsNamespace(t *testing.T) {
	sim := kernel.NewSimAdapter()
	r := New(sim, logging.New(logging.DefaultConfig()))

	peers := []config.PeerSpec{{PublicKey: mustKey(t, 2), AllowedIPs: []string{"10.0.0.2/32"}}}
	spec := config.NetworkSpec{PrivateKey: mustKey(t, 1), Address: []string{"10.0.0.1/16"}, Peers: peers}

	require.NoError(t, r.Apply(config.DesiredState{2000: spec}))

	renamed := config.DesiredState{3000: spec}
	require.NoError(t, r.Apply(renamed))

	namespaces, err := sim.ListNamespaces()
	require.NoError(t, err)
	require.NotContains(t, namespaces, "ns-2000")
	require.Contains(t, namespaces, "ns-3000")

	state, found, err := sim.CurrentWireGuardState("ns-3000")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, state.Peers, 1)
	require.Equal(t, toWgtypesKey(mustKey(t, 2)), state.Peers[0].PublicKey)
}

func TestApplyIncrementalPeerUpdateDoesNotRebuild(t *testing.T) {
	sim := kernel.NewSimAdapter()
	r := New(sim, logging.New(logging.DefaultConfig()))

	spec := config.NetworkSpec{
		PrivateKey: mustKey(t, 1),
		Address:    []string{"10.0.0.1/16"},
		Peers: []config.PeerSpec{
			{PublicKey: mustKey(t, 2), AllowedIPs: []string{"10.0.0.2/32"}},
		},
	}
	require.NoError(t, r.Apply(config.DesiredState{2001: spec}))
	sim.ResetMutations()

	spec.Peers = append(spec.Peers, config.PeerSpec{PublicKey: mustKey(t, 3), AllowedIPs: []string{"10.0.0.3/32"}})
	require.NoError(t, r.Apply(config.DesiredState{2001: spec}))

	for _, m := range sim.Mutations {
		require.NotContains(t, m, "create-namespace", "peer-only diff must not rebuild the namespace")
	}

	state, _, err := sim.CurrentWireGuardState("ns-2001")
	require.NoError(t, err)
	require.Len(t, state.Peers, 2)
}

func TestProxyConflictLaterPortWins(t *testing.T) {
	sim := kernel.NewSimAdapter()
	r := New(sim, logging.New(logging.DefaultConfig()))

	desired := config.DesiredState{
		2000: {
			PrivateKey: mustKey(t, 1),
			Address:    []string{"10.0.0.1/16"},
			Proxy:      map[string][]string{"a.example": {"10.0.0.2:443"}},
		},
		3000: {
			PrivateKey: mustKey(t, 4),
			Address:    []string{"10.0.1.1/16"},
			Proxy:      map[string][]string{"a.example": {"10.0.1.2:443"}},
		},
	}

	require.NoError(t, r.Apply(desired))

	route, ok := r.Route("a.example")
	require.True(t, ok)
	require.Equal(t, "ns-3000", route.Namespace)
	require.Len(t, r.Conflicts(), 1)
}
