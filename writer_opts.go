package tagpack

import (
	"io/fs"
	"log/slog"
)

// defaultFileMode is used for containers created without WithFileMode.
const defaultFileMode fs.FileMode = 0o644

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSync controls whether Finish flushes the file to stable storage
// before closing it (default: false).
func WithSync(enabled bool) WriterOption {
	return func(w *Writer) {
		w.sync = enabled
	}
}

// WithFileMode sets the permission bits for containers created by ModeCreate.
func WithFileMode(perm fs.FileMode) WriterOption {
	return func(w *Writer) {
		w.perm = perm
	}
}

// WithWriterLogger sets the logger used by the writer.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}
