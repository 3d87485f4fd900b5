// Package server hosts the Fiber HTTP service and its middleware chain:
// recovery, request IDs and the global request limiter. Media requests are
// delegated to an injected ProxyHandler, so the package stays free of cache
// and download concerns. Diagnostics live under /-/ and are registered by the
// routes subpackage.
package server
