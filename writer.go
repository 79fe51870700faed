package tagpack

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/meigma/tagpack/internal/sizing"
)

// copyBufferSize is the chunk size used by AppendFrom.
const copyBufferSize = 4 << 10

// Mode selects how OpenWriter treats the target file.
type Mode uint8

const (
	// ModeCreate creates the file, truncating any existing content.
	ModeCreate Mode = iota

	// ModeWriteExisting opens a finished container to overwrite sections in
	// place. New sections may still be added after the existing ones.
	ModeWriteExisting

	// ModeAppend opens a finished container to add sections after the
	// existing ones.
	ModeAppend
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeWriteExisting:
		return "write-existing"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Writer builds a container file one section at a time.
//
// Sections are written back to back after the header. The size of a section
// is not known while it is being written; it is measured from the file
// length when the next section is opened or when the container is finished.
// Finish writes the index and the header that points at it. A Writer must be
// finished exactly once: Close finishes it if Finish was not called, so
// callers should always defer Close.
//
// A Writer is not safe for concurrent use, and only one Writer may be open
// against a file at a time.
type Writer struct {
	path   string
	f      *os.File
	mode   Mode
	idx    *Index
	tags   map[string]struct{}
	sync   bool
	perm   os.FileMode
	logger *slog.Logger

	// pendingSizeFix is set in ModeAppend: the first new section starts
	// right after the last recorded section, over the old index.
	pendingSizeFix bool

	// staleIndexAt is the offset of an index loaded from an existing file.
	// Those trailing bytes are dropped before the file length is measured.
	staleIndexAt uint64

	finished bool
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

// Create creates a new container at path, truncating any existing file.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	return OpenWriter(path, ModeCreate, opts...)
}

// OpenWriter opens the container at path in the given mode.
//
// ModeWriteExisting and ModeAppend require a finished container; its index
// is loaded and kept in offset order while writing. An existing container
// without sections is started over as if created. Failures are reported
// as *OpenError.
func OpenWriter(path string, mode Mode, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		path: path,
		mode: mode,
		idx:  NewIndex(),
		tags: make(map[string]struct{}),
		perm: defaultFileMode,
	}
	for _, opt := range opts {
		opt(w)
	}

	var err error
	switch mode {
	case ModeCreate:
		w.f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, w.perm)
	case ModeWriteExisting, ModeAppend:
		w.f, err = os.OpenFile(path, os.O_RDWR, 0)
	default:
		return nil, &OpenError{Path: path, Err: fmt.Errorf("unknown writer mode %d", mode)}
	}
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	switch mode {
	case ModeWriteExisting:
		err = w.loadExisting()
	case ModeAppend:
		err = w.loadExisting()
		w.pendingSizeFix = w.idx.Len() > 0
	}
	if err == nil && w.idx.Len() == 0 {
		err = w.start()
	}
	if err != nil {
		w.f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	w.log().Info("container opened for writing",
		"path", path,
		"mode", mode.String(),
		"sections", w.idx.Len())
	return w, nil
}

// loadExisting reads the index of the finished container in w.f and puts
// it in offset order.
func (w *Writer) loadExisting() error {
	src, err := NewFileSource(w.f)
	if err != nil {
		return err
	}
	idx, indexOffset, err := loadIndex(src, 0)
	if err != nil {
		return err
	}
	idx.SortByOffset()
	for e := range idx.All() {
		w.tags[e.Tag] = struct{}{}
	}
	w.idx = idx
	w.staleIndexAt = indexOffset
	return nil
}

// start resets the file to an empty, unfinished container.
func (w *Writer) start() error {
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	var hdr [HeaderSize]byte
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.pendingSizeFix = false
	w.staleIndexAt = 0
	return nil
}

// checkOpen panics when the writer has been finished.
func (w *Writer) checkOpen() {
	if w.finished {
		panic("tagpack: use of finished writer")
	}
}

// Mode returns the mode the writer was opened with.
func (w *Writer) Mode() Mode {
	return w.mode
}

// Entries returns a snapshot of the index. Sizes of the section being
// written are not yet final.
func (w *Writer) Entries() []Entry {
	return w.idx.Entries()
}

// NewSection registers a section named tag and returns a writer for its
// content.
//
// The new section starts where the previous one ends; opening it fixes the
// size of the previous section. A tag that is already present fails with
// ErrSectionExists.
func (w *Writer) NewSection(tag string) (*SectionWriter, error) {
	w.checkOpen()
	if _, ok := w.tags[tag]; ok {
		return nil, &SectionError{Op: "create", Tag: tag, Err: ErrSectionExists}
	}

	var start uint64
	if w.pendingSizeFix {
		end, err := w.applyPendingSizeFix()
		if err != nil {
			return nil, &SectionError{Op: "create", Tag: tag, Err: err}
		}
		start = end
	} else {
		end, err := w.SaveCurrentSize()
		if err != nil {
			return nil, &SectionError{Op: "create", Tag: tag, Err: err}
		}
		start = end
	}

	off, err := sizing.ToInt64(start, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "create", Tag: tag, Err: err}
	}
	w.idx.Push(tag, start)
	w.tags[tag] = struct{}{}

	w.log().Debug("section opened", "tag", tag, "offset", start)
	return newSectionWriter(w.f, tag, off), nil
}

// applyPendingSizeFix trusts the recorded size of the last section loaded
// in ModeAppend and cuts the old index off right after it.
func (w *Writer) applyPendingSizeFix() (uint64, error) {
	w.pendingSizeFix = false
	last := w.idx.Last()
	if last == nil {
		panic("tagpack: pending size fix on empty index")
	}
	end := last.End()
	if err := w.truncate(end); err != nil {
		return 0, err
	}
	w.staleIndexAt = 0
	return end, nil
}

// SaveCurrentSize measures the file and records the size of the last
// section as the distance from its offset to the end of the file.
// It returns the file length.
func (w *Writer) SaveCurrentSize() (uint64, error) {
	w.checkOpen()
	if w.pendingSizeFix {
		return w.applyPendingSizeFix()
	}
	if w.staleIndexAt > 0 {
		if err := w.truncate(w.staleIndexAt); err != nil {
			return 0, err
		}
		w.staleIndexAt = 0
	}

	info, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	curr, err := sizing.FromInt64(info.Size(), ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	if last := w.idx.Last(); last != nil {
		if curr < last.Offset {
			return 0, fmt.Errorf("file length %d is below section %q offset %d", curr, last.Tag, last.Offset)
		}
		last.Size = curr - last.Offset
	}
	return curr, nil
}

func (w *Writer) truncate(size uint64) error {
	n, err := sizing.ToInt64(size, ErrSizeOverflow)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(n); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// ExistingSection returns a writer positioned at the start of the section
// named tag, for overwriting it in place.
//
// Writes are not bounded: callers must not write more than the section's
// recorded size (see SectionWriter.Limit). A missing tag fails with
// ErrSectionNotFound.
func (w *Writer) ExistingSection(tag string) (*SectionWriter, error) {
	w.checkOpen()
	i, ok := w.idx.lookup(tag)
	if !ok {
		return nil, &SectionError{Op: "overwrite", Tag: tag, Err: ErrSectionNotFound}
	}
	e := w.idx.entries[i]
	off, err := sizing.ToInt64(e.Offset, ErrSizeOverflow)
	if err != nil {
		return nil, &SectionError{Op: "overwrite", Tag: tag, Err: err}
	}
	sw := newSectionWriter(w.f, tag, off)
	sw.limit, sw.hasLimit = e.Size, true
	return sw, nil
}

// AppendFrom adds a section named tag holding the src.Size() bytes of src.
//
// Content is copied in fixed-size chunks. If the copy fails the section
// stays registered and its size reflects whatever was written.
func (w *Writer) AppendFrom(tag string, src SizedReaderAt) error {
	w.checkOpen()
	size := src.Size()
	if size < 0 {
		return &SectionError{Op: "append", Tag: tag, Err: fmt.Errorf("negative source size %d", size)}
	}
	sw, err := w.NewSection(tag)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(sw, io.NewSectionReader(src, 0, size), buf)
	if err != nil {
		return &SectionError{Op: "append", Tag: tag, Err: err}
	}
	if n != size {
		return &SectionError{Op: "append", Tag: tag, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

// AppendFile adds a section named tag holding the content of the file at path.
func (w *Writer) AppendFile(tag, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &SectionError{Op: "append", Tag: tag, Err: err}
	}
	defer f.Close()

	src, err := NewFileSource(f)
	if err != nil {
		return &SectionError{Op: "append", Tag: tag, Err: err}
	}
	return w.AppendFrom(tag, src)
}

// AppendBytes adds a section named tag holding data.
//
// An empty data slice still registers the tag as a zero-length section.
func (w *Writer) AppendBytes(tag string, data []byte) error {
	sw, err := w.NewSection(tag)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := sw.Write(data); err != nil {
		return &SectionError{Op: "append", Tag: tag, Err: err}
	}
	return nil
}

// Finish fixes the size of the last section, writes the index sorted by
// tag, points the header at it, and closes the file.
//
// Finish must be called exactly once; a second call panics. The writer is
// finished even when Finish fails, leaving an unreadable container.
func (w *Writer) Finish() error {
	if w.finished {
		panic("tagpack: Finish called twice")
	}
	err := w.finish()
	w.finished = true
	if closeErr := w.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	w.f = nil
	return err
}

func (w *Writer) finish() error {
	end, err := w.SaveCurrentSize()
	if err != nil {
		return fmt.Errorf("tagpack: finish: %w", err)
	}
	off, err := sizing.ToInt64(end, ErrSizeOverflow)
	if err != nil {
		return fmt.Errorf("tagpack: finish: %w", err)
	}

	var hdr [HeaderSize]byte
	PutHeader(hdr[:], end)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("tagpack: finish: write header: %w", err)
	}

	w.idx.SortByTag()
	index := EncodeIndex(w.idx)
	if _, err := w.f.WriteAt(index, off); err != nil {
		return fmt.Errorf("tagpack: finish: write index: %w", err)
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("tagpack: finish: sync: %w", err)
		}
	}

	w.log().Info("container finished",
		"path", w.path,
		"sections", w.idx.Len(),
		"index_offset", end,
		"index_size", len(index))
	return nil
}

// Close finishes the container if Finish has not been called, then
// releases the file. Close after Finish is a no-op.
func (w *Writer) Close() error {
	if w.finished {
		return nil
	}
	return w.Finish()
}

// Update opens the container at path in mode, passes the writer to fn, and
// finishes the container when fn returns. The container is finished on
// every exit path, including when fn fails or panics. Errors from fn and
// from finishing are joined.
func Update(path string, mode Mode, fn func(*Writer) error, opts ...WriterOption) (err error) {
	w, err := OpenWriter(path, mode, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()
	return fn(w)
}
