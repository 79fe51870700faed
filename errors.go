package tagpack

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrCorruptIndex is returned when the index bytes are malformed,
	// truncated, or internally inconsistent.
	ErrCorruptIndex = errors.New("tagpack: corrupt index")

	// ErrUnfinished is returned when a container was never finished and
	// carries no index. It matches ErrCorruptIndex.
	ErrUnfinished = fmt.Errorf("%w: container not finished", ErrCorruptIndex)

	// ErrIndexTooLarge is returned when the index region exceeds the
	// configured limit. It matches ErrCorruptIndex.
	ErrIndexTooLarge = fmt.Errorf("%w: index too large", ErrCorruptIndex)

	// ErrSectionNotFound is returned when a tag is absent from the index.
	ErrSectionNotFound = errors.New("tagpack: section not found")

	// ErrSectionExists is returned when a new section reuses a tag.
	ErrSectionExists = errors.New("tagpack: section already exists")

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = errors.New("tagpack: size overflow")
)

// OpenError records a failure to open, create, or load a container.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	if e.Path == "" {
		return "tagpack: open: " + e.Err.Error()
	}
	return "tagpack: open " + e.Path + ": " + e.Err.Error()
}

func (e *OpenError) Unwrap() error { return e.Err }

// SectionError records a failed operation on a tagged section.
type SectionError struct {
	Op  string
	Tag string
	Err error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("tagpack: %s %q: %v", e.Op, e.Tag, e.Err)
}

func (e *SectionError) Unwrap() error { return e.Err }

// corruptf builds an error matching ErrCorruptIndex.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorruptIndex}, args...)...)
}
