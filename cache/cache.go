// Package cache provides section caching for tagpack readers.
//
// This package is an optional enhancement to the core reader, keeping
// recently read sections in memory so repeated reads against slow sources
// (for example HTTP range requests) are served locally.
//
// Keys combine the source identifier with the section tag, so one cache
// can be shared by readers over different containers.
package cache

// Cache stores section contents by key.
//
// Implementations should handle their own size limits and eviction policies
// and must be safe for concurrent use. Returned slices are shared and must
// be treated as immutable.
type Cache interface {
	// Get retrieves content by key.
	// Returns nil, false if the content is not cached.
	Get(key string) ([]byte, bool)

	// Put stores content under key. Implementations may decline to store it.
	Put(key string, content []byte)
}

// Key builds the cache key for a section of the source identified by sourceID.
func Key(sourceID, tag string) string {
	return sourceID + "\x00" + tag
}
