// Package alloc tracks free intervals inside fixed-size memory pages.
//
// A FreeSpace manages the byte range [0, Size) of one page. Allocations are
// carved first-fit from the lowest free interval able to hold the aligned
// request; releases return the interval and coalesce it with neighbors.
package alloc

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoSpace is returned when no free interval can satisfy a request.
	ErrNoSpace = errors.New("alloc: no free interval large enough")

	// ErrInvalidRelease is returned when a released interval overlaps free space
	// or falls outside the managed range.
	ErrInvalidRelease = errors.New("alloc: invalid release")
)

// Allocation describes an interval handed out by a FreeSpace.
//
// Offset is aligned; LeftPadding bytes before Offset were consumed to
// satisfy the alignment and are returned together with the allocation.
type Allocation struct {
	Offset      uint64
	Size        uint64
	LeftPadding uint64
}

// span is the full interval consumed by the allocation, padding included.
func (a Allocation) span() interval {
	return interval{offset: a.Offset - a.LeftPadding, size: a.Size + a.LeftPadding}
}

type interval struct {
	offset uint64
	size   uint64
}

func (iv interval) end() uint64 { return iv.offset + iv.size }

// FreeSpace is a sorted list of free intervals.
//
// FreeSpace is not safe for concurrent use.
type FreeSpace struct {
	size uint64
	free []interval
}

// NewFreeSpace returns a manager whose whole range [0, size) is free.
func NewFreeSpace(size uint64) *FreeSpace {
	fs := &FreeSpace{size: size}
	if size > 0 {
		fs.free = []interval{{offset: 0, size: size}}
	}
	return fs
}

// Size returns the managed range length.
func (fs *FreeSpace) Size() uint64 { return fs.size }

// FreeBytes returns the total number of free bytes.
func (fs *FreeSpace) FreeBytes() uint64 {
	var n uint64
	for _, iv := range fs.free {
		n += iv.size
	}
	return n
}

// IntervalCount returns the number of disjoint free intervals.
func (fs *FreeSpace) IntervalCount() int { return len(fs.free) }

// Allocate reserves size bytes at an offset that is a multiple of alignment.
// An alignment of 0 or 1 means unaligned.
func (fs *FreeSpace) Allocate(size, alignment uint64) (Allocation, error) {
	if size == 0 {
		return Allocation{}, fmt.Errorf("alloc: zero-sized allocation")
	}
	if alignment == 0 {
		alignment = 1
	}

	for i, iv := range fs.free {
		aligned := alignUp(iv.offset, alignment)
		padding := aligned - iv.offset
		if padding+size > iv.size {
			continue
		}

		consumed := padding + size
		if consumed == iv.size {
			fs.free = append(fs.free[:i], fs.free[i+1:]...)
		} else {
			fs.free[i] = interval{offset: iv.offset + consumed, size: iv.size - consumed}
		}
		return Allocation{Offset: aligned, Size: size, LeftPadding: padding}, nil
	}
	return Allocation{}, ErrNoSpace
}

// Release returns a previous allocation to the free list.
func (fs *FreeSpace) Release(a Allocation) error {
	span := a.span()
	if span.size == 0 || span.end() > fs.size {
		return fmt.Errorf("%w: [%d, %d) outside [0, %d)", ErrInvalidRelease, span.offset, span.end(), fs.size)
	}

	// First interval starting at or after the released span.
	i := sort.Search(len(fs.free), func(k int) bool { return fs.free[k].offset >= span.offset })

	if i < len(fs.free) && fs.free[i].offset < span.end() {
		return fmt.Errorf("%w: [%d, %d) overlaps free space", ErrInvalidRelease, span.offset, span.end())
	}
	if i > 0 && fs.free[i-1].end() > span.offset {
		return fmt.Errorf("%w: [%d, %d) overlaps free space", ErrInvalidRelease, span.offset, span.end())
	}

	mergeLeft := i > 0 && fs.free[i-1].end() == span.offset
	mergeRight := i < len(fs.free) && fs.free[i].offset == span.end()

	switch {
	case mergeLeft && mergeRight:
		fs.free[i-1].size += span.size + fs.free[i].size
		fs.free = append(fs.free[:i], fs.free[i+1:]...)
	case mergeLeft:
		fs.free[i-1].size += span.size
	case mergeRight:
		fs.free[i].offset = span.offset
		fs.free[i].size += span.size
	default:
		fs.free = append(fs.free, interval{})
		copy(fs.free[i+1:], fs.free[i:])
		fs.free[i] = span
	}
	return nil
}

// Intervals returns a copy of the free intervals as (offset, size) pairs.
func (fs *FreeSpace) Intervals() [][2]uint64 {
	out := make([][2]uint64, len(fs.free))
	for i, iv := range fs.free {
		out[i] = [2]uint64{iv.offset, iv.size}
	}
	return out
}

func alignUp(v, alignment uint64) uint64 {
	if r := v % alignment; r != 0 {
		return v + alignment - r
	}
	return v
}
