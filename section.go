package tagpack

import (
	"io"

	"github.com/meigma/tagpack/internal/sectionio"
)

var _ io.Writer = (*SectionWriter)(nil)

// SectionWriter writes the bytes of one section.
//
// A SectionWriter borrows the Writer's file. It must not be used after the
// Writer opens another section or is finished.
type SectionWriter struct {
	tag      string
	w        *sectionio.OffsetWriter
	limit    uint64
	hasLimit bool
}

func newSectionWriter(w io.WriterAt, tag string, offset int64) *SectionWriter {
	return &SectionWriter{tag: tag, w: sectionio.NewOffsetWriter(w, offset)}
}

// Write implements io.Writer.
func (s *SectionWriter) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Tag returns the section tag.
func (s *SectionWriter) Tag() string {
	return s.tag
}

// Offset returns the absolute file offset of the section start.
func (s *SectionWriter) Offset() uint64 {
	return uint64(s.w.Base()) //nolint:gosec // base is never negative
}

// Written returns the number of bytes written through this writer.
func (s *SectionWriter) Written() uint64 {
	return uint64(s.w.Written()) //nolint:gosec // never negative
}

// Limit returns the recorded size of a section opened with
// Writer.ExistingSection. Writes are not checked against it.
func (s *SectionWriter) Limit() (uint64, bool) {
	return s.limit, s.hasLimit
}
