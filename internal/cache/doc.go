// Package cache provides a bounded map that releases what it evicts.
//
// Cache keeps at most a soft limit of entries. When an insertion exceeds
// the limit, the least recently used quarter is evicted and handed to the
// eviction callback, which owns releasing the values:
//
//	pipelines := cache.New[key, *pipeline](64, func(k key, p *pipeline) {
//		retired = append(retired, p)
//	})
//	pipelines.Set(k, p)
//	p, ok := pipelines.Get(k)
//
// Cache is safe for concurrent use. The eviction callback runs with the
// cache locked and must not call back into it.
package cache
