// Package disk provides a disk-backed section cache.
//
// Entries survive process restarts, which suits the CLI reading the same
// remote container repeatedly.
package disk

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/tagpack/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

var _ cache.Cache = (*Cache)(nil)

// Cache implements cache.Cache using the local filesystem.
//
// Each entry is a file named after the sha256 of its key.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	logger         *slog.Logger
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithLogger sets the logger that reports failed writes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Get returns the content stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key)) //nolint:gosec // path is derived from a hash, not user input
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores content under key. Failures are logged and otherwise ignored;
// the next Get simply misses.
func (c *Cache) Put(key string, content []byte) {
	if err := c.put(key, content); err != nil {
		c.log().Warn("disk cache write failed", "dir", c.dir, "error", err)
	}
}

func (c *Cache) put(key string, content []byte) error {
	path := c.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		// A concurrent Put for the same key may have won.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

func (c *Cache) path(key string) string {
	name := digest.FromString(key).Encoded()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, name)
	}
	prefixLen := min(c.shardPrefixLen, len(name))
	return filepath.Join(c.dir, name[:prefixLen], name)
}
