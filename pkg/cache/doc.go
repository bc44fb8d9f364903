// Package cache implements the short-lived discovery cache that keeps
// repeat tile operations fast despite BLE scanning overhead.
//
// Two entry kinds with independent TTLs are kept: resolved physical
// addresses (1 hour) and raw scan result sets (60 seconds). Expiry is
// always decided by timestamp comparison, never inferred from connection
// success or failure. Misses surface as CACHE_MISS, an internal signal
// telling the orchestrator to request a fresh scan from the host.
package cache
