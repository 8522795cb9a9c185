// Package cache provides deterministic namespaced caches with TTL expiry,
// LRU eviction, hit/miss counters and optional JSON persistence.
//
// Keys are normalized before lookup: strings are lowercased and every other
// key is encoded as canonical JSON. Values are stored as JSON, so every hit
// decodes a fresh copy.
//
//	reg := cache.NewRegistry(cache.RegistryOptions{Dir: dir, Persist: []string{"search"}})
//	search := reg.MustGet(cache.NamespaceSearch)
//	_ = search.Set(key, results, 0) // namespace default TTL
//	var cached []types.SearchResult
//	if search.Get(key, &cached) { ... }
//
// The Registry also gates results on the index version: SyncIndexVersion
// clears the search, context and embeddings namespaces whenever the index
// version changes.
package cache
