package tagpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/tagpack/cache"
	"github.com/meigma/tagpack/internal/sectionio"
	"github.com/meigma/tagpack/internal/sizing"
)

// Reader serves sections of a finished container by tag.
//
// The index is loaded once by New and never modified afterwards, so a
// Reader and the section readers it returns are safe for concurrent use
// as long as the ByteSource supports concurrent ReadAt calls.
type Reader struct {
	src             ByteSource
	idx             *Index
	indexOffset     uint64
	closer          io.Closer
	maxIndexSize    uint64
	readConcurrency int
	cache           cache.Cache        // nil = no caching
	fetchGroup      singleflight.Group // zero value is valid
	logger          *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Reader) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// New loads the container stored in src.
//
// It reads the fixed header, decodes the index it points at, and checks
// that the index is sorted by tag with non-overlapping sections inside the
// data region. Failures are reported as *OpenError; index problems also
// match ErrCorruptIndex, and containers that were never finished match
// ErrUnfinished.
func New(src ByteSource, opts ...Option) (*Reader, error) {
	r := &Reader{
		src:             src,
		maxIndexSize:    DefaultMaxIndexSize,
		readConcurrency: defaultReadConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}

	idx, indexOffset, err := loadIndex(src, r.maxIndexSize)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	r.idx = idx
	r.indexOffset = indexOffset

	r.log().Debug("container opened",
		"source", src.SourceID(),
		"sections", idx.Len(),
		"index_offset", indexOffset)
	return r, nil
}

// OpenFile opens the container at path for reading.
//
// The returned Reader owns the file; call Close to release it.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	src, err := NewFileSource(f)
	if err != nil {
		f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	r, err := New(src, opts...)
	if err != nil {
		f.Close()
		var openErr *OpenError
		if errors.As(err, &openErr) {
			openErr.Path = path
		}
		return nil, err
	}
	r.closer = f
	return r, nil
}

// loadIndex reads the header and the validated, tag-ordered index from src.
func loadIndex(src ByteSource, maxIndexSize uint64) (*Index, uint64, error) {
	indexOffset, err := ReadHeader(src)
	if err != nil {
		return nil, 0, err
	}
	idx, err := DecodeIndex(src, indexOffset, maxIndexSize)
	if err != nil {
		return nil, 0, err
	}
	if err := idx.Validate(indexOffset); err != nil {
		return nil, 0, err
	}
	return idx, indexOffset, nil
}

// Close releases the file opened by OpenFile. It is a no-op for readers
// created with New.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Len returns the number of sections.
func (r *Reader) Len() int {
	return r.idx.Len()
}

// IndexOffset returns the file offset where the index begins, which is also
// the end of the section data.
func (r *Reader) IndexOffset() uint64 {
	return r.indexOffset
}

// All returns an iterator over all entries in tag order.
func (r *Reader) All() iter.Seq[Entry] {
	return r.idx.All()
}

// Entries returns a copy of all entries in tag order.
func (r *Reader) Entries() []Entry {
	return r.idx.Entries()
}

// Entry returns the index entry for tag.
func (r *Reader) Entry(tag string) (Entry, bool) {
	return r.idx.FindByTag(tag)
}

// HasSection reports whether the container holds a section named tag.
func (r *Reader) HasSection(tag string) bool {
	_, ok := r.idx.FindByTag(tag)
	return ok
}

// Section returns a reader restricted to the bytes of the section named tag.
//
// The returned reader shares the underlying source, is independently
// seekable, and must not outlive the Reader.
func (r *Reader) Section(tag string) (*io.SectionReader, error) {
	e, ok := r.idx.FindByTag(tag)
	if !ok {
		return nil, &SectionError{Op: "read", Tag: tag, Err: ErrSectionNotFound}
	}
	return r.sectionReader(e)
}

func (r *Reader) sectionReader(e Entry) (*io.SectionReader, error) {
	off, err := sizing.ToInt64(e.Offset, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "read", Tag: e.Tag, Err: err}
	}
	n, err := sizing.ToInt64(e.Size, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "read", Tag: e.Tag, Err: err}
	}
	return io.NewSectionReader(r.src, off, n), nil
}

// ReadSection returns the full content of the section named tag.
//
// When a cache is configured, content is served from it when present and
// stored after a successful read. Concurrent misses for the same section
// share a single read. The returned slice may be shared with the cache and
// must not be modified.
func (r *Reader) ReadSection(tag string) ([]byte, error) {
	e, ok := r.idx.FindByTag(tag)
	if !ok {
		return nil, &SectionError{Op: "read", Tag: tag, Err: ErrSectionNotFound}
	}
	if r.cache == nil {
		return r.readEntry(e)
	}

	key := cache.Key(r.src.SourceID(), tag)
	if content, ok := r.cache.Get(key); ok {
		r.log().Debug("section cache hit", "tag", tag)
		return content, nil
	}

	result, err, _ := r.fetchGroup.Do(key, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		if content, ok := r.cache.Get(key); ok {
			return content, nil
		}
		r.log().Debug("section cache miss", "tag", tag)
		content, err := r.readEntry(e)
		if err != nil {
			return nil, err
		}
		r.cache.Put(key, content)
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	content, _ := result.([]byte) //nolint:errcheck // type assertion always succeeds when err is nil
	return content, nil
}

// readEntry reads the bytes of e from the source.
func (r *Reader) readEntry(e Entry) ([]byte, error) {
	n, err := sizing.ToInt(e.Size, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "read", Tag: e.Tag, Err: err}
	}
	off, err := sizing.ToInt64(e.Offset, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "read", Tag: e.Tag, Err: err}
	}
	buf := make([]byte, n)
	if _, err := sectionio.FullReadAt(r.src, buf, off); err != nil {
		return nil, &SectionError{Op: "read", Tag: e.Tag, Err: err}
	}
	return buf, nil
}

// ReadSections reads several sections in parallel.
//
// All tags must exist; the first failure cancels the remaining reads.
func (r *Reader) ReadSections(ctx context.Context, tags ...string) (map[string][]byte, error) {
	for _, tag := range tags {
		if !r.HasSection(tag) {
			return nil, &SectionError{Op: "read", Tag: tag, Err: ErrSectionNotFound}
		}
	}

	contents := make([][]byte, len(tags))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.readConcurrency)
	for i, tag := range tags {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := r.ReadSection(tag)
			if err != nil {
				return err
			}
			contents[i] = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(tags))
	for i, tag := range tags {
		out[tag] = contents[i]
	}
	return out, nil
}

// Digest returns the SHA-256 digest of the section named tag.
func (r *Reader) Digest(tag string) (digest.Digest, error) {
	sr, err := r.Section(tag)
	if err != nil {
		return "", err
	}
	d, err := digest.SHA256.FromReader(sr)
	if err != nil {
		return "", fmt.Errorf("digest %q: %w", tag, err)
	}
	return d, nil
}
