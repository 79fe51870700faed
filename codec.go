package tagpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/meigma/tagpack/internal/sectionio"
	"github.com/meigma/tagpack/internal/sizing"
)

// HeaderSize is the length of the fixed header holding the index offset.
const HeaderSize = 8

// DefaultMaxIndexSize is the default upper bound on the encoded index (64MB).
const DefaultMaxIndexSize = 64 << 20

// minEntrySize is the smallest possible encoded entry: three one-byte varints.
const minEntrySize = 3

// PutHeader stores indexOffset into the first HeaderSize bytes of b.
func PutHeader(b []byte, indexOffset uint64) {
	binary.LittleEndian.PutUint64(b[:HeaderSize], indexOffset)
}

// ReadHeader reads the index offset from the start of src.
func ReadHeader(src io.ReaderAt) (uint64, error) {
	var hdr [HeaderSize]byte
	if _, err := sectionio.FullReadAt(src, hdr[:], 0); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, corruptf("short header")
		}
		return 0, fmt.Errorf("read header: %w", err)
	}
	return binary.LittleEndian.Uint64(hdr[:]), nil
}

// EncodeIndex returns the on-disk encoding of idx in its current order.
func EncodeIndex(idx *Index) []byte {
	return AppendIndex(nil, idx)
}

// AppendIndex appends the on-disk encoding of idx to dst.
//
// Entries are written in the index's current order; finished containers
// must be sorted by tag first.
func AppendIndex(dst []byte, idx *Index) []byte {
	size := varint.UvarintSize(uint64(idx.Len()))
	for _, e := range idx.entries {
		size += varint.UvarintSize(uint64(len(e.Tag))) + len(e.Tag)
		size += varint.UvarintSize(e.Offset) + varint.UvarintSize(e.Size)
	}
	dst = growSlice(dst, size)

	dst = appendUvarint(dst, uint64(idx.Len()))
	for _, e := range idx.entries {
		dst = appendUvarint(dst, uint64(len(e.Tag)))
		dst = append(dst, e.Tag...)
		dst = appendUvarint(dst, e.Offset)
		dst = appendUvarint(dst, e.Size)
	}
	return dst
}

// DecodeIndex reads the index stored at indexOffset through the end of src.
//
// The returned index keeps the stored entry order and is not yet marked as
// sorted; call Validate before looking entries up. A region larger than
// maxSize is rejected with ErrIndexTooLarge; zero disables the limit.
func DecodeIndex(src ByteSource, indexOffset, maxSize uint64) (*Index, error) {
	total, err := sizing.FromInt64(src.Size(), ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if indexOffset == 0 {
		return nil, ErrUnfinished
	}
	if indexOffset < HeaderSize || indexOffset > total {
		return nil, corruptf("index offset %d outside file of %d bytes", indexOffset, total)
	}
	regionSize := total - indexOffset
	if maxSize > 0 && regionSize > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrIndexTooLarge, regionSize, maxSize)
	}
	n, err := sizing.ToInt(regionSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	off, err := sizing.ToInt64(indexOffset, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := sectionio.FullReadAt(src, buf, off); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return parseIndex(buf)
}

// parseIndex decodes a complete index region.
func parseIndex(buf []byte) (*Index, error) {
	d := decoder{buf: buf}
	count, err := d.uvarint("entry count")
	if err != nil {
		return nil, err
	}
	if count > uint64(d.remaining()/minEntrySize) {
		return nil, corruptf("entry count %d exceeds index size %d", count, len(buf))
	}

	idx := &Index{entries: make([]Entry, 0, count)}
	for i := range count {
		tagLen, err := d.uvarint("tag length")
		if err != nil {
			return nil, err
		}
		if tagLen > uint64(d.remaining()) {
			return nil, corruptf("entry %d: tag length %d past end of index", i, tagLen)
		}
		tag := string(d.buf[d.pos : d.pos+int(tagLen)]) //nolint:gosec // bounded by remaining above
		d.pos += int(tagLen)                           //nolint:gosec // bounded by remaining above

		offset, err := d.uvarint("offset")
		if err != nil {
			return nil, err
		}
		size, err := d.uvarint("size")
		if err != nil {
			return nil, err
		}
		idx.entries = append(idx.entries, Entry{Tag: tag, Offset: offset, Size: size})
	}
	if d.remaining() != 0 {
		return nil, corruptf("%d trailing bytes after index", d.remaining())
	}
	return idx, nil
}

// decoder walks an in-memory index region.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) uvarint(field string) (uint64, error) {
	v, n, err := varint.FromUvarint(d.buf[d.pos:])
	if err != nil {
		return 0, corruptf("%s at byte %d: %v", field, d.pos, err)
	}
	d.pos += n
	return v, nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [varint.MaxLenUvarint63]byte
	n := varint.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func growSlice(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b
	}
	grown := make([]byte, len(b), len(b)+n)
	copy(grown, b)
	return grown
}
