package httpproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaygate/gatewayd/internal/logging"
)

func TestRenderWritesUpstreamAndServerBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragment.conf")
	r, err := NewRenderer(path, nil, logging.New(logging.DefaultConfig()))
	require.NoError(t, err)

	err = r.Render(map[string][]string{
		"a.example": {"10.0.0.2:443"},
		"b.example": {"10.0.0.2:443"}, // shares the upstream set with a.example
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "server_name a.example;")
	require.Contains(t, string(content), "server_name b.example;")
	require.Contains(t, string(content), "server 10.0.0.2:443;")

	data := buildFragmentData(map[string][]string{
		"a.example": {"10.0.0.2:443"},
		"b.example": {"10.0.0.2:443"},
	})
	require.Len(t, data.Upstreams, 1, "identical upstream sets should be deduplicated")
	require.Len(t, data.Servers, 2)
}

func TestRenderRunsReloadCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragment.conf")
	marker := filepath.Join(t.TempDir(), "reloaded")
	r, err := NewRenderer(path, []string{"touch", marker}, logging.New(logging.DefaultConfig()))
	require.NoError(t, err)

	require.NoError(t, r.Render(map[string][]string{"a.example": {"10.0.0.2:80"}}))

	_, err = os.Stat(marker)
	require.NoError(t, err, "reload command should have run")
}
