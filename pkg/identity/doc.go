/*
Package identity resolves human-readable identity names to signing
keys, encryption keys, and network endpoints, caching the result with
a TTL and a shorter negative TTL for not-found lookups.

	resolver := identity.NewResolver(registryClient, identity.Config{})
	ri, err := resolver.Resolve(ctx, "@@node.alice/main")

Concurrent misses for the same name collapse into one upstream fetch
via singleflight. A stale cache entry (expired but within the
stale-while-revalidate window) is still returned to the caller while a
refresh runs in the background. Resolve never writes to the registry;
this component is read-only.
*/
package identity
