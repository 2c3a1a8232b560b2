// Package cache stores results of non-paginated queries in Redis.
//
// The partition enumeration query is expensive on the remote service and
// its answer changes rarely, so repeated runs within the TTL reuse the
// cached bindings instead of querying again. Paged harvest queries are never
// cached: their output lives in the checkpoint files.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{Endpoint: endpoint, Query: q}
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - run the query, then
//		_ = manager.Set(ctx, key, cache.NewEntry(data, 24*time.Hour))
//	}
//
// # Metrics
//
//   - harvester_cache_hits_total - Cache hits
//   - harvester_cache_misses_total - Cache misses
//   - harvester_cache_bytes_total{direction} - Bytes read and written
//   - harvester_cache_errors_total{operation} - Cache operation errors
package cache
