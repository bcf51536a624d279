// Package httpproxy renders the config fragment consumed by the
// out-of-process HTTP reverse-proxy helper that covers plaintext
// ingress on :80 (spec §4.3): one upstream block per distinct
// upstream set and one server block per hostname, Host-header
// preserved and X-Real-IP set.
package httpproxy

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"text/template"

	"github.com/overlaygate/gatewayd/internal/logging"
)

const fragmentTemplate = `# generated by gatewayd, do not edit
{{range .Upstreams}}
upstream {{.Name}} {
{{- range .Targets}}
	server {{.}};
{{- end}}
}
{{end}}
{{range .Servers}}
server {
	listen 80;
	server_name {{.Hostname}};
	location / {
		proxy_pass http://{{.UpstreamName}};
		proxy_set_header Host $host;
		proxy_set_header X-Real-IP $remote_addr;
	}
}
{{end}}
`

type upstreamBlock struct {
	Name    string
	Targets []string
}

type serverBlock struct {
	Hostname     string
	UpstreamName string
}

type fragmentData struct {
	Upstreams []upstreamBlock
	Servers   []serverBlock
}

// Renderer writes the reverse-proxy config fragment to a file and
// signals an external helper process to reload it.
type Renderer struct {
	path      string
	reloadCmd []string
	tmpl      *template.Template
	log       *logging.Logger
}

// NewRenderer builds a Renderer that writes to path and, after a
// successful write, runs reloadCmd (e.g. ["nginx", "-s", "reload"]) if
// non-empty.
func NewRenderer(path string, reloadCmd []string, log *logging.Logger) (*Renderer, error) {
	tmpl, err := template.New("fragment").Parse(fragmentTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse http proxy template: %w", err)
	}
	return &Renderer{path: path, reloadCmd: reloadCmd, tmpl: tmpl, log: log.WithComponent("httpproxy")}, nil
}

// Render writes the fragment for hosts (hostname -> upstream ip:port
// list) and reloads the helper. An upstream set's name is derived from
// a hash of its sorted contents so identical upstream lists across
// hostnames share one upstream block.
func (r *Renderer) Render(hosts map[string][]string) error {
	data := buildFragmentData(hosts)

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render http proxy fragment: %w", err)
	}

	if err := os.WriteFile(r.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write http proxy fragment %s: %w", r.path, err)
	}

	return r.reload()
}

func (r *Renderer) reload() error {
	if len(r.reloadCmd) == 0 {
		return nil
	}
	cmd := exec.Command(r.reloadCmd[0], r.reloadCmd[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.log.Warn("reload http proxy helper", "error", err, "output", string(out))
		return fmt.Errorf("reload http proxy helper: %w", err)
	}
	return nil
}

func buildFragmentData(hosts map[string][]string) fragmentData {
	upstreamNames := make(map[string]string) // joined targets -> name
	var upstreams []upstreamBlock
	var servers []serverBlock

	hostnames := make([]string, 0, len(hosts))
	for h := range hosts {
		hostnames = append(hostnames, h)
	}
	sort.Strings(hostnames)

	for _, host := range hostnames {
		targets := sortedCopy(hosts[host])
		key := fmt.Sprintf("%v", targets)
		name, ok := upstreamNames[key]
		if !ok {
			name = upstreamSetName(targets)
			upstreamNames[key] = name
			upstreams = append(upstreams, upstreamBlock{Name: name, Targets: targets})
		}
		servers = append(servers, serverBlock{Hostname: host, UpstreamName: name})
	}

	return fragmentData{Upstreams: upstreams, Servers: servers}
}

func upstreamSetName(targets []string) string {
	h := sha1.New()
	for _, t := range targets {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return "up_" + hex.EncodeToString(h.Sum(nil))[:12]
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
