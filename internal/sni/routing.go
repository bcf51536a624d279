package sni

// RouteTarget is what the dispatcher needs to reach a hostname: the
// namespace to dial from and the upstreams to round-robin across.
type RouteTarget struct {
	Namespace string
	Upstreams []string
}

// RoutingSource resolves a hostname to its current target. The
// reconciler implements this over an atomically-swapped table (spec
// §5: "an in-flight connection uses the routing table captured at
// accept time").
type RoutingSource interface {
	Route(hostname string) (RouteTarget, bool)
}
