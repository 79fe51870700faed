package tagpack

import (
	"fmt"
	"io"
	"os"
)

// SizedReaderAt is random-access content of known length.
//
// *io.SectionReader, *bytes.Reader and every ByteSource satisfy it.
type SizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// ByteSource provides random access to a container.
//
// Implementations exist for local files (FileSource) and HTTP range
// requests (package http). ReadAt must be safe for concurrent use for the
// Reader's sections to be shared between goroutines. SourceID must return a
// stable identifier for the underlying content; it keys cached sections.
type ByteSource interface {
	SizedReaderAt
	SourceID() string
}

// FileSource is a ByteSource backed by an open file.
type FileSource struct {
	f    *os.File
	size int64
	id   string
}

var _ ByteSource = (*FileSource)(nil)

// NewFileSource wraps f, capturing its current size.
//
// The caller keeps ownership of f and must not change its length while the
// source is in use.
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &FileSource{
		f:    f,
		size: info.Size(),
		id:   fmt.Sprintf("file:%s|size:%d|mod:%d", f.Name(), info.Size(), info.ModTime().UnixNano()),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file size captured when the source was created.
func (s *FileSource) Size() int64 {
	return s.size
}

// SourceID returns an identifier derived from the path, size and modification time.
func (s *FileSource) SourceID() string {
	return s.id
}
