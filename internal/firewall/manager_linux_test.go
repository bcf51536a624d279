//go:build linux

package firewall

import (
	"testing"

	"github.com/google/nftables"
	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/logging"
)

// fakeConn stands in for a netlink socket during tests: it accepts the
// same calls as *nftables.Conn but just records them.
type fakeConn struct {
	tables  []*nftables.Table
	chains  []*nftables.Chain
	rules   []*nftables.Rule
	deleted int
	flushes int
}

func (f *fakeConn) AddTable(t *nftables.Table) *nftables.Table {
	f.tables = append(f.tables, t)
	return t
}

func (f *fakeConn) AddChain(c *nftables.Chain) *nftables.Chain {
	f.chains = append(f.chains, c)
	return c
}

func (f *fakeConn) AddRule(r *nftables.Rule) *nftables.Rule {
	f.rules = append(f.rules, r)
	return r
}

func (f *fakeConn) DelRule(r *nftables.Rule) error {
	f.deleted++
	return nil
}

func (f *fakeConn) Flush() error {
	f.flushes++
	return nil
}

func newTestManager(f *fakeConn) *Manager {
	return NewManagerWithConn(f, logging.New(logging.DefaultConfig()))
}

func TestEnsureForwardingCreatesTableAndRules(t *testing.T) {
	f := &fakeConn{}
	m := newTestManager(f)

	err := m.EnsureForwarding(51820, "ns-51820", []string{"10.10.0.0/24"})
	require.NoError(t, err)

	require.Len(t, f.tables, 1)
	require.Len(t, f.chains, 2)
	require.Len(t, f.rules, 2) // one forward-accept, one masquerade
	require.Equal(t, 1, f.flushes)
}

func TestEnsureForwardingIsIdempotent(t *testing.T) {
	f := &fakeConn{}
	m := newTestManager(f)

	subnets := []string{"10.10.0.0/24"}
	require.NoError(t, m.EnsureForwarding(51820, "ns-51820", subnets))
	f.flushes = 0
	f.deleted = 0

	require.NoError(t, m.EnsureForwarding(51820, "ns-51820", subnets))
	require.Equal(t, 0, f.flushes)
	require.Equal(t, 0, f.deleted)
}

func TestEnsureForwardingReplacesChangedSubnets(t *testing.T) {
	f := &fakeConn{}
	m := newTestManager(f)

	require.NoError(t, m.EnsureForwarding(51820, "ns-51820", []string{"10.10.0.0/24"}))
	require.NoError(t, m.EnsureForwarding(51820, "ns-51820", []string{"10.10.1.0/24"}))

	require.Equal(t, 2, f.deleted)
	require.Len(t, m.rules[51820], 2)
}

func TestTeardownForwardingRemovesRules(t *testing.T) {
	f := &fakeConn{}
	m := newTestManager(f)

	require.NoError(t, m.EnsureForwarding(51820, "ns-51820", []string{"10.10.0.0/24"}))
	require.NoError(t, m.TeardownForwarding(51820))

	require.Equal(t, 2, f.deleted)
	require.Empty(t, m.rules[51820])
	require.Empty(t, m.subnets[51820])
}

func TestTeardownForwardingOnUnknownPortIsNoop(t *testing.T) {
	f := &fakeConn{}
	m := newTestManager(f)

	require.NoError(t, m.TeardownForwarding(9999))
	require.Equal(t, 0, f.flushes)
}
