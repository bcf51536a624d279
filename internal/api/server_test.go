package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/reconciler"
	"github.com/overlaygate/gatewayd/internal/traffic"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	sim := kernel.NewSimAdapter()
	rec := reconciler.New(sim, logging.New(logging.DefaultConfig()))
	store, err := traffic.Open(t.TempDir()+"/traffic.db", logging.New(logging.DefaultConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	const token = "s3cr3t"
	return New(rec, store, nil, token, logging.New(logging.DefaultConfig())), token
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOffByOneTokenIsRejected(t *testing.T) {
	s, token := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wrong := token[:len(token)-1] + "x"
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/config", nil)
	req.Header.Set("Token", wrong)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	s, token := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var seed [32]byte
	seed[0] = 1
	body := []byte(`{"2001":{"private_key":"` + b64(seed) + `","address":["10.0.0.1/16"],"peers":[]}}`)

	postReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/config", bytes.NewReader(body))
	postReq.Header.Set("Token", token)
	postResp, err := http.DefaultClient.Do(postReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, postResp.StatusCode)

	getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/config", nil)
	getReq.Header.Set("Token", token)
	getResp, err := http.DefaultClient.Do(getReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var got map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	require.Contains(t, got, "2001")
}

func TestStatusReportsDispatcherAndPortHealth(t *testing.T) {
	s, token := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	req.Header.Set("Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Empty(t, got.Ports)
	require.Zero(t, got.Dispatcher.Active)
}

func TestTrafficFarFutureSinceReturnsEmptyArray(t *testing.T) {
	s, token := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/traffic?since=99999999999", nil)
	req.Header.Set("Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []trafficSeries
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Empty(t, got)
}

func b64(raw [32]byte) string {
	return base64.StdEncoding.EncodeToString(raw[:])
}
