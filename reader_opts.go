package tagpack

import (
	"log/slog"

	"github.com/meigma/tagpack/cache"
)

// defaultReadConcurrency is used when no WithReadConcurrency option is set.
const defaultReadConcurrency = 4

// Option configures a Reader.
type Option func(*Reader)

// WithMaxIndexSize limits the size of the encoded index the reader will load.
// Set limit to 0 to disable the limit.
func WithMaxIndexSize(limit uint64) Option {
	return func(r *Reader) {
		r.maxIndexSize = limit
	}
}

// WithCache enables section caching for ReadSection and ReadSections.
//
// Concurrent misses for the same section are deduplicated.
func WithCache(c cache.Cache) Option {
	return func(r *Reader) {
		r.cache = c
	}
}

// WithReadConcurrency sets the number of sections ReadSections fetches in parallel.
// Values <= 0 use the default (4).
func WithReadConcurrency(n int) Option {
	return func(r *Reader) {
		if n <= 0 {
			n = defaultReadConcurrency
		}
		r.readConcurrency = n
	}
}

// WithLogger sets the logger used by the reader.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}
