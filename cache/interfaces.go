// Package cache provides the bounded in-memory record cache that sits in
// front of the upstream APOD API.
package cache

import "github.com/briangreenhill/apodrating/internal/apod"

// Reader defines the interface for reading cache entries
type Reader interface {
	// Get returns the record for key and true on a hit.
	// Expired entries are reported as misses.
	Get(key string) (apod.Record, bool)

	// Contains reports whether an unexpired entry exists for key
	// without touching its recency.
	Contains(key string) bool
}

// Writer defines the interface for writing cache entries
type Writer interface {
	// Put admits rec under key unless an unexpired entry is already
	// resident. It returns true if the record was inserted.
	Put(key string, rec apod.Record) bool

	// Clear drops every entry.
	Clear()
}

// Cache is the main interface that combines all cache operations
type Cache interface {
	Reader
	Writer

	// Len counts unexpired entries, agreeing with Contains.
	Len() int
}
