// Package resolver turns an item identifier into a ResolvedItem.
//
// Resolution walks the item through Start, FetchingMetadata, Validating and
// FetchingAssets before ending in Ready or Failed. Both the metadata and the
// asset manifest requests carry the session credentials and an X-Version
// signature derived by Sign. Manifests served from another origin are fetched
// through a separate client so callers can route them differently.
package resolver
