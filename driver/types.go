package driver

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent device objects. Each Device implementation
// maintains a mapping between IDs and its own backing objects.

// MemoryID is an opaque handle to a device memory page.
type MemoryID uint64

// BufferID is an opaque handle to a buffer placed inside a memory page.
type BufferID uint64

// ImageID is an opaque handle to an image placed inside a memory page.
type ImageID uint64

// ProgramID is an opaque handle to a compiled compute program.
type ProgramID uint64

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

// MemoryFlags is a bitmask of memory property flags.
type MemoryFlags uint32

// Memory property flags.
const (
	// MemoryDeviceLocal is memory with the fastest device access.
	MemoryDeviceLocal MemoryFlags = 1 << iota
	// MemoryHostVisible memory can be read and written by the host.
	MemoryHostVisible
	// MemoryHostCoherent memory needs no explicit flushes for host writes.
	MemoryHostCoherent
	// MemoryHostCached memory is cached on the host.
	MemoryHostCached
)

// Contains reports whether all bits of other are set in f.
func (f MemoryFlags) Contains(other MemoryFlags) bool {
	return f&other == other
}

// String returns the flag names joined by '|'.
func (f MemoryFlags) String() string {
	if f == 0 {
		return "None"
	}
	var names []string
	for _, e := range []struct {
		flag MemoryFlags
		name string
	}{
		{MemoryDeviceLocal, "DeviceLocal"},
		{MemoryHostVisible, "HostVisible"},
		{MemoryHostCoherent, "HostCoherent"},
		{MemoryHostCached, "HostCached"},
	} {
		if f&e.flag != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, "|")
}

// MemoryType describes one kind of memory a device can allocate.
type MemoryType struct {
	Flags MemoryFlags

	// HeapSize is the total size of the heap backing this type, 0 if unknown.
	HeapSize uint64
}

// ChannelType is the scalar type of one image channel.
type ChannelType uint8

// Channel types.
const (
	ChannelUint8 ChannelType = iota + 1
	ChannelUint16
	ChannelUint32
	ChannelFloat16
	ChannelFloat32
)

// Size returns the byte size of one channel value, or 0 for an unknown type.
func (c ChannelType) Size() uint32 {
	switch c {
	case ChannelUint8:
		return 1
	case ChannelUint16, ChannelFloat16:
		return 2
	case ChannelUint32, ChannelFloat32:
		return 4
	default:
		return 0
	}
}

// IsFloat reports whether the channel stores floating point values.
func (c ChannelType) IsFloat() bool {
	return c == ChannelFloat16 || c == ChannelFloat32
}

// Valid reports whether c is one of the defined channel types.
func (c ChannelType) Valid() bool { return c.Size() != 0 }

func (c ChannelType) String() string {
	switch c {
	case ChannelUint8:
		return "uint8"
	case ChannelUint16:
		return "uint16"
	case ChannelUint32:
		return "uint32"
	case ChannelFloat16:
		return "float16"
	case ChannelFloat32:
		return "float32"
	default:
		return fmt.Sprintf("ChannelType(%d)", uint8(c))
	}
}

// ParseChannelType converts a channel type name as printed by String.
func ParseChannelType(s string) (ChannelType, error) {
	for c := ChannelUint8; c <= ChannelFloat32; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("driver: unknown channel type %q", s)
}

// TextureFormat returns the WebGPU texel format matching an image with the
// given channel type and channel count. Three-channel images have no
// texel format and yield TextureFormatUndefined.
func TextureFormat(c ChannelType, channels uint32) gputypes.TextureFormat {
	formats := map[ChannelType][4]gputypes.TextureFormat{
		ChannelUint8: {
			gputypes.TextureFormatR8Uint, gputypes.TextureFormatRG8Uint,
			gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA8Uint,
		},
		ChannelUint16: {
			gputypes.TextureFormatR16Uint, gputypes.TextureFormatRG16Uint,
			gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA16Uint,
		},
		ChannelUint32: {
			gputypes.TextureFormatR32Uint, gputypes.TextureFormatRG32Uint,
			gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA32Uint,
		},
		ChannelFloat16: {
			gputypes.TextureFormatR16Float, gputypes.TextureFormatRG16Float,
			gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA16Float,
		},
		ChannelFloat32: {
			gputypes.TextureFormatR32Float, gputypes.TextureFormatRG32Float,
			gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA32Float,
		},
	}
	row, ok := formats[c]
	if !ok || channels < 1 || channels > 4 {
		return gputypes.TextureFormatUndefined
	}
	return row[channels-1]
}
