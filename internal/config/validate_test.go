package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/wgkey"
	"github.com/overlaygate/gatewayd/internal/xerrors"
)

func mustKey(t *testing.T, seed byte) wgkey.Key {
	t.Helper()
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	return wgkey.Key(raw)
}

func validState(t *testing.T) DesiredState {
	t.Helper()
	return DesiredState{
		2001: {
			PrivateKey: mustKey(t, 1),
			Address:    []string{"10.0.0.1/24"},
			Peers: []PeerSpec{
				{PublicKey: mustKey(t, 2), AllowedIPs: []string{"10.0.0.2/32"}},
			},
		},
	}
}

func TestValidateAcceptsAWellFormedState(t *testing.T) {
	require.NoError(t, validState(t).Validate())
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	d := DesiredState{70000: validState(t)[2001]}
	err := d.Validate()
	require.Error(t, err)
	require.Equal(t, xerrors.KindValidation, xerrors.GetKind(err))
}

func TestValidateRejectsMissingPrivateKey(t *testing.T) {
	d := validState(t)
	spec := d[2001]
	spec.PrivateKey = wgkey.Key{}
	d[2001] = spec

	err := d.Validate()
	require.Error(t, err)
	require.Equal(t, xerrors.KindValidation, xerrors.GetKind(err))
}

func TestValidateRejectsMalformedCIDR(t *testing.T) {
	d := validState(t)
	spec := d[2001]
	spec.Address = []string{"not-a-cidr"}
	d[2001] = spec

	require.Error(t, d.Validate())
}

func TestValidateRejectsDuplicatePeerPublicKey(t *testing.T) {
	d := validState(t)
	spec := d[2001]
	spec.Peers = append(spec.Peers, spec.Peers[0])
	d[2001] = spec

	err := d.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate peer public_key")
}

func TestValidateRejectsHostnameWithNoUpstreams(t *testing.T) {
	d := validState(t)
	spec := d[2001]
	spec.Proxy = map[string][]string{"a.example": {}}
	d[2001] = spec

	require.Error(t, d.Validate())
}

func TestValidateRejectsMalformedUpstreamAddress(t *testing.T) {
	d := validState(t)
	spec := d[2001]
	spec.Proxy = map[string][]string{"a.example": {"not-an-address"}}
	d[2001] = spec

	require.Error(t, d.Validate())
}

func TestResolveProxyRoutesLaterPortWins(t *testing.T) {
	d := DesiredState{
		2001: {Proxy: map[string][]string{"a.example": {"10.0.0.1:80"}}},
		2002: {Proxy: map[string][]string{"a.example": {"10.0.0.2:80"}}},
	}

	routes, conflicts := d.ResolveProxyRoutes()

	require.Equal(t, RouteTarget{Port: 2002, Upstreams: []string{"10.0.0.2:80"}}, routes["a.example"])
	require.Len(t, conflicts, 1)
	require.Equal(t, ProxyConflict{Hostname: "a.example", LosingPort: 2001, WinningPort: 2002}, conflicts[0])
}

func TestResolveProxyRoutesDisjointHostnamesHaveNoConflicts(t *testing.T) {
	d := DesiredState{
		2001: {Proxy: map[string][]string{"a.example": {"10.0.0.1:80"}}},
		2002: {Proxy: map[string][]string{"b.example": {"10.0.0.2:80"}}},
	}

	routes, conflicts := d.ResolveProxyRoutes()

	require.Len(t, routes, 2)
	require.Empty(t, conflicts)
}
