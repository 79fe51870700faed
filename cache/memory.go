package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries is the default number of sections kept by Memory.
const DefaultMaxEntries = 256

// DefaultMaxEntrySize is the default largest section Memory will store (4MB).
const DefaultMaxEntrySize = 4 << 20

// Memory is an in-memory LRU section cache.
type Memory struct {
	lru          *lru.Cache[string, []byte]
	maxEntrySize int
}

var _ Cache = (*Memory)(nil)

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxEntries   int
	maxEntrySize int
}

// WithMaxEntries sets how many sections are kept before the least recently
// used one is evicted.
func WithMaxEntries(n int) MemoryOption {
	return func(c *memoryConfig) {
		c.maxEntries = n
	}
}

// WithMaxEntrySize sets the largest section that will be cached.
// Set to 0 to disable the limit.
func WithMaxEntrySize(n int) MemoryOption {
	return func(c *memoryConfig) {
		c.maxEntrySize = n
	}
}

// NewMemory creates an in-memory LRU cache.
func NewMemory(opts ...MemoryOption) (*Memory, error) {
	cfg := memoryConfig{
		maxEntries:   DefaultMaxEntries,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l, err := lru.New[string, []byte](cfg.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Memory{lru: l, maxEntrySize: cfg.maxEntrySize}, nil
}

// Get implements Cache.
func (m *Memory) Get(key string) ([]byte, bool) {
	return m.lru.Get(key)
}

// Put implements Cache. Sections larger than the entry size limit are skipped.
func (m *Memory) Put(key string, content []byte) {
	if m.maxEntrySize > 0 && len(content) > m.maxEntrySize {
		return
	}
	m.lru.Add(key, content)
}

// Len returns the number of cached sections.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Purge drops every cached section.
func (m *Memory) Purge() {
	m.lru.Purge()
}
