package testutil

import (
	"encoding/binary"

	"github.com/multiformats/go-varint"
)

// RawEntry is one index record written verbatim by BuildRaw.
type RawEntry struct {
	Tag    string
	Offset uint64
	Size   uint64
}

// RawSection is one section laid out by BuildContainer.
type RawSection struct {
	Tag  string
	Data []byte
}

// BuildContainer lays out sections back to back after the header and
// appends an index listing them in the given order. It does not sort, so
// callers control whether the index is valid.
func BuildContainer(sections ...RawSection) []byte {
	data := make([]byte, 8)
	entries := make([]RawEntry, 0, len(sections))
	for _, s := range sections {
		entries = append(entries, RawEntry{Tag: s.Tag, Offset: uint64(len(data)), Size: uint64(len(s.Data))})
		data = append(data, s.Data...)
	}
	return BuildRaw(data[8:], EncodeIndex(entries))
}

// BuildRaw assembles a container from raw section bytes and raw index bytes,
// pointing the header just past the section bytes.
func BuildRaw(sectionBytes, indexBytes []byte) []byte {
	out := make([]byte, 8, 8+len(sectionBytes)+len(indexBytes))
	binary.LittleEndian.PutUint64(out, uint64(8+len(sectionBytes)))
	out = append(out, sectionBytes...)
	return append(out, indexBytes...)
}

// EncodeIndex encodes entries in the on-disk index format, in order.
func EncodeIndex(entries []RawEntry) []byte {
	out := varint.ToUvarint(uint64(len(entries)))
	for _, e := range entries {
		out = append(out, varint.ToUvarint(uint64(len(e.Tag)))...)
		out = append(out, e.Tag...)
		out = append(out, varint.ToUvarint(e.Offset)...)
		out = append(out, varint.ToUvarint(e.Size)...)
	}
	return out
}
