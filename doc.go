// Package tagpack stores named byte sections in a single file.
//
// A container starts with an 8-byte little-endian header holding the
// offset of the index, followed by the section bytes and finally the index
// itself. The index lists every section as a tag, an offset and a size,
// each encoded as an unsigned varint, sorted by tag so readers can look
// sections up with a binary search.
//
//	+----------------+-----------+-----------+-----+-------+
//	| index offset   | section 1 | section 2 | ... | index |
//	| (u64 LE)       |           |           |     |       |
//	+----------------+-----------+-----------+-----+-------+
//
// A zero header marks a container that was never finished; readers refuse
// it with ErrUnfinished.
//
// # Writing
//
// Create starts a new container and OpenWriter reopens an existing one,
// either to overwrite sections in place (ModeWriteExisting) or to append
// new ones (ModeAppend). Sections are written one at a time:
//
//	w, err := tagpack.Create("bundle.tp")
//	if err != nil {
//	    return err
//	}
//	if err := w.AppendBytes("config", cfg); err != nil {
//	    return err
//	}
//	sw, err := w.NewSection("payload")
//	if err != nil {
//	    return err
//	}
//	if _, err := io.Copy(sw, payload); err != nil {
//	    return err
//	}
//	return w.Finish()
//
// The size of a section is known only once the next section starts or the
// container is finished, so a Writer must always be finished. Update wraps
// a function so that happens on every return path.
//
// # Reading
//
// OpenFile opens a local container; New accepts any ByteSource, including
// the HTTP range source in package http:
//
//	r, err := tagpack.OpenFile("bundle.tp")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	sr, err := r.Section("payload")
//
// A Reader is immutable after New returns and may be shared between
// goroutines. WithCache adds an in-memory section cache (see package cache)
// for sources where reads are expensive.
package tagpack
