// Command gatewayd runs the tenant overlay gateway daemon: it accepts
// desired WireGuard network configuration over its HTTP API, converges
// the kernel to match, and proxies TLS/plaintext ingress traffic to the
// resulting tenant namespaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/overlaygate/gatewayd/internal/api"
	"github.com/overlaygate/gatewayd/internal/httpproxy"
	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/metrics"
	"github.com/overlaygate/gatewayd/internal/reconciler"
	"github.com/overlaygate/gatewayd/internal/sni"
	"github.com/overlaygate/gatewayd/internal/supervisor"
	"github.com/overlaygate/gatewayd/internal/traffic"
)

const (
	defaultAPIListen = ":8080"
	defaultSNIListen = ":443"
	httpRenderPeriod = 2 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		token        = flag.String("token", "", "bearer token required on every API request except /openapi.yaml")
		database     = flag.String("database", "", "path to the traffic SQLite database (absent: in-memory)")
		listen       = flag.String("listen", "", "ip:port for the HTTP API")
		sniListen    = flag.String("sni-listen", defaultSNIListen, "ip:port for the TLS SNI dispatcher")
		metricsAddr  = flag.String("metrics-listen", "", "ip:port to serve Prometheus metrics on (empty disables)")
		httpFragment = flag.String("http-fragment", "", "path to write the plaintext reverse-proxy config fragment (empty disables)")
		httpReload   = flag.String("http-reload-cmd", "", "command run after each http-fragment write, e.g. \"nginx -s reload\"")
		sim          = flag.Bool("sim", false, "use the in-memory kernel simulator instead of the real Linux adapter")
		openapi      = flag.Bool("openapi", false, "print the OpenAPI document for the API surface and exit")
		logLevel     = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	if *openapi {
		os.Stdout.Write(api.OpenAPIDoc())
		return 0
	}

	log := logging.New(logging.Config{Level: parseLevel(*logLevel), TimeStamp: true})

	*token = firstNonEmpty(*token, os.Getenv("GATEWAY_TOKEN"))
	if *token == "" {
		log.Error("startup failed", "error", "--token (or GATEWAY_TOKEN) is required")
		return 1
	}
	*database = firstNonEmpty(*database, os.Getenv("GATEWAY_DATABASE"))
	apiListen := resolveListen(*listen)

	adapter, err := selectAdapter(*sim, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}

	dbPath := *database
	if dbPath == "" {
		dbPath = ":memory:"
	}
	store, err := traffic.Open(dbPath, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	defer store.Close()

	reg, metricsSet := metrics.NewRegistry()

	rec := reconciler.New(adapter, log)
	rec.SetMetrics(metricsSet)

	sampler := traffic.NewSampler(adapter, rec, store, traffic.DefaultInterval, log)
	sampler.SetMetrics(metricsSet)

	dialer := sni.NewDialer()
	dispatcher := sni.New(rec, dialer, log)
	dispatcher.SetMetrics(metricsSet)

	sniLn, err := net.Listen("tcp", *sniListen)
	if err != nil {
		log.Error("startup failed", "error", fmt.Errorf("listen %s: %w", *sniListen, err))
		return 1
	}

	apiServer := &http.Server{
		Addr:    apiListen,
		Handler: api.New(rec, store, dispatcher, *token, log).Handler(),
	}

	var renderer *httpproxy.Renderer
	if *httpFragment != "" {
		var reloadCmd []string
		if *httpReload != "" {
			reloadCmd = strings.Fields(*httpReload)
		}
		renderer, err = httpproxy.NewRenderer(*httpFragment, reloadCmd, log)
		if err != nil {
			log.Error("startup failed", "error", err)
			return 1
		}
	}

	background := []func(context.Context){sampler.Run}
	if renderer != nil {
		background = append(background, renderHTTPFragment(renderer, rec, log))
	}
	if *metricsAddr != "" {
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(reg)}
		background = append(background, func(ctx context.Context) {
			go func() {
				<-ctx.Done()
				metricsServer.Shutdown(context.Background())
			}()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server exited", "error", err)
			}
		})
	}

	sup := supervisor.New(supervisor.DefaultConfig(), apiServer, dispatcher, sniLn, adapter, log)

	log.Info("gatewayd starting", "api", apiListen, "sni", *sniListen, "database", dbPath)
	if err := sup.Run(context.Background(), background...); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

func selectAdapter(sim bool, log *logging.Logger) (kernel.Adapter, error) {
	if sim {
		return kernel.NewSimAdapter(), nil
	}
	adapter, err := kernel.NewLinuxAdapter(log)
	if err != nil {
		return nil, fmt.Errorf("kernel adapter: %w", err)
	}
	return adapter, nil
}

// renderHTTPFragment polls the reconciler's routing table and rewrites
// the plaintext reverse-proxy fragment whenever it changes, since
// config changes arrive through POST /config rather than through this
// background task's own control flow.
func renderHTTPFragment(renderer *httpproxy.Renderer, rec *reconciler.Reconciler, log *logging.Logger) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(httpRenderPeriod)
		defer ticker.Stop()

		var last map[string][]string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hosts := hostsFromRoutes(rec.Routes())
				if reflect.DeepEqual(hosts, last) {
					continue
				}
				if err := renderer.Render(hosts); err != nil {
					log.Warn("render http proxy fragment", "error", err)
					continue
				}
				last = hosts
			}
		}
	}
}

func hostsFromRoutes(routes map[string]sni.RouteTarget) map[string][]string {
	out := make(map[string][]string, len(routes))
	for host, target := range routes {
		out[host] = target.Upstreams
	}
	return out
}

func resolveListen(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	addr := os.Getenv("GATEWAY_ADDRESS")
	port := os.Getenv("GATEWAY_PORT")
	if addr == "" && port == "" {
		return defaultAPIListen
	}
	if port == "" {
		port = "8080"
	}
	return addr + ":" + port
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
