package tagpack

import (
	"cmp"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/meigma/tagpack/internal/sizing"
)

// Entry describes one section occupying [Offset, Offset+Size) in the container file.
type Entry struct {
	// Tag names the section. Tags compare bytewise.
	Tag string

	// Offset is the absolute file offset of the first section byte.
	Offset uint64

	// Size is the section length in bytes. While a section is still being
	// written the size is zero until the next section starts or the
	// container is finished.
	Size uint64
}

// End returns the offset one past the last section byte.
func (e Entry) End() uint64 {
	return e.Offset + e.Size
}

// order identifies which ordering an Index currently satisfies.
type order uint8

const (
	orderNone order = iota
	orderByOffset
	orderByTag
)

// compareOffset orders entries by offset, placing empty sections ahead of
// a section that starts at the same offset.
func compareOffset(a, b Entry) int {
	if c := cmp.Compare(a.Offset, b.Offset); c != 0 {
		return c
	}
	return cmp.Compare(a.Size, b.Size)
}

// Index is the in-memory list of container entries.
//
// An Index is kept in one of two orders: by offset while a container is
// being written, so the open section is always last, and by tag once the
// container is finished, so lookups can binary search. Transitions between
// them happen only through SortByOffset and SortByTag.
type Index struct {
	entries []Entry
	order   order
}

// NewIndex returns an empty index. An empty index satisfies both orders.
func NewIndex() *Index {
	return &Index{order: orderByOffset}
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// All returns an iterator over the entries in the current order.
func (idx *Index) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries in the current order.
func (idx *Index) Entries() []Entry {
	return slices.Clone(idx.entries)
}

// SortedByTag reports whether the index is in by-tag order.
func (idx *Index) SortedByTag() bool {
	return idx.order == orderByTag || len(idx.entries) == 0
}

// SortByTag reorders entries by tag.
func (idx *Index) SortByTag() {
	if idx.order != orderByTag {
		slices.SortStableFunc(idx.entries, func(a, b Entry) int {
			return strings.Compare(a.Tag, b.Tag)
		})
	}
	idx.order = orderByTag
}

// SortByOffset reorders entries by offset.
func (idx *Index) SortByOffset() {
	if idx.order != orderByOffset {
		slices.SortStableFunc(idx.entries, compareOffset)
	}
	idx.order = orderByOffset
}

// FindByTag binary searches for tag. The index must be in by-tag order.
func (idx *Index) FindByTag(tag string) (Entry, bool) {
	if !idx.SortedByTag() {
		panic("tagpack: FindByTag on index not sorted by tag")
	}
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Tag >= tag
	})
	if i < len(idx.entries) && idx.entries[i].Tag == tag {
		return idx.entries[i], true
	}
	return Entry{}, false
}

// Last returns the entry with the greatest offset, or nil if the index is
// empty. The index must be in by-offset order. The returned pointer aliases
// the index and is invalidated by Push and the Sort methods.
func (idx *Index) Last() *Entry {
	if idx.order != orderByOffset {
		panic("tagpack: Last on index not sorted by offset")
	}
	if len(idx.entries) == 0 {
		return nil
	}
	return &idx.entries[len(idx.entries)-1]
}

// Push appends a zero-size entry starting at offset.
//
// Push keeps by-offset order when offset is not below the current last
// offset, and always drops by-tag order.
func (idx *Index) Push(tag string, offset uint64) {
	if idx.order == orderByOffset && len(idx.entries) > 0 && offset < idx.entries[len(idx.entries)-1].Offset {
		idx.order = orderNone
	}
	if idx.order == orderByTag {
		idx.order = orderNone
	}
	idx.entries = append(idx.entries, Entry{Tag: tag, Offset: offset})
}

// lookup scans for tag regardless of order.
func (idx *Index) lookup(tag string) (int, bool) {
	for i := range idx.entries {
		if idx.entries[i].Tag == tag {
			return i, true
		}
	}
	return -1, false
}

// Validate checks a decoded index against the data region [HeaderSize, dataEnd).
//
// Entries must be strictly increasing by tag, lie inside the data region,
// and not overlap one another. A valid index is marked as sorted by tag.
func (idx *Index) Validate(dataEnd uint64) error {
	for i, e := range idx.entries {
		if i > 0 && idx.entries[i-1].Tag >= e.Tag {
			if idx.entries[i-1].Tag == e.Tag {
				return corruptf("duplicate tag %q", e.Tag)
			}
			return corruptf("tag %q out of order", e.Tag)
		}
		if e.Offset < HeaderSize {
			return corruptf("section %q starts inside header at %d", e.Tag, e.Offset)
		}
		if end, ok := sizing.AddUint64(e.Offset, e.Size); !ok || end > dataEnd {
			return corruptf("section %q range [%d,+%d) exceeds data end %d", e.Tag, e.Offset, e.Size, dataEnd)
		}
	}

	byOffset := slices.Clone(idx.entries)
	slices.SortFunc(byOffset, compareOffset)
	for i := 1; i < len(byOffset); i++ {
		if byOffset[i-1].End() > byOffset[i].Offset {
			return corruptf("sections %q and %q overlap", byOffset[i-1].Tag, byOffset[i].Tag)
		}
	}

	idx.order = orderByTag
	return nil
}
