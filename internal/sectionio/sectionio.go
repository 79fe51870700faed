// Package sectionio provides positioned readers and writers over a
// shared file handle.
//
// Everything here addresses the underlying storage through ReadAt and
// WriteAt, so independent views never contend on a shared cursor.
package sectionio

import (
	"errors"
	"io"
)

// FullReadAt reads exactly len(b) bytes from r at off.
//
// It returns io.ErrUnexpectedEOF when r ends before b is filled.
func FullReadAt(r io.ReaderAt, b []byte, off int64) (int64, error) {
	var sum int64
	for int64(len(b)) > sum {
		n, err := r.ReadAt(b[sum:], off+sum)
		sum += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if sum < int64(len(b)) {
					return sum, io.ErrUnexpectedEOF
				}
				return sum, nil
			}
			return sum, err
		}
	}
	return sum, nil
}

var _ io.Writer = (*OffsetWriter)(nil)

// OffsetWriter writes sequentially into an io.WriterAt starting at a base offset.
type OffsetWriter struct {
	w    io.WriterAt
	base int64
	off  int64
}

// NewOffsetWriter returns a writer whose first byte lands at base in w.
func NewOffsetWriter(w io.WriterAt, base int64) *OffsetWriter {
	return &OffsetWriter{w: w, base: base, off: base}
}

// Write implements io.Writer.
func (ow *OffsetWriter) Write(p []byte) (int, error) {
	n, err := ow.w.WriteAt(p, ow.off)
	ow.off += int64(n)
	return n, err
}

// Base returns the offset of the first byte written.
func (ow *OffsetWriter) Base() int64 {
	return ow.base
}

// Written returns the number of bytes written so far.
func (ow *OffsetWriter) Written() int64 {
	return ow.off - ow.base
}
