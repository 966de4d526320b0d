package nodegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nodegraph/driver"
)

// BufferUsage is a set of buffer usage flags.
type BufferUsage = gputypes.BufferUsage

// Buffer usage flags.
const (
	BufferUsageTransferSrc = gputypes.BufferUsageCopySrc
	BufferUsageTransferDst = gputypes.BufferUsageCopyDst
	BufferUsageStorage     = gputypes.BufferUsageStorage
	BufferUsageUniform     = gputypes.BufferUsageUniform
	BufferUsageIndex       = gputypes.BufferUsageIndex
	BufferUsageVertex      = gputypes.BufferUsageVertex
	BufferUsageIndirect    = gputypes.BufferUsageIndirect
)

// ResourceKind identifies the concrete type behind a Resource.
type ResourceKind uint8

// Resource kinds.
const (
	ResourceBuffer ResourceKind = iota + 1
	ResourceImage
	ResourceImageView
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "Buffer"
	case ResourceImage:
		return "Image"
	case ResourceImageView:
		return "ImageView"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// Resource is a Buffer, an Image or an ImageView.
type Resource interface {
	// Kind returns the concrete resource type.
	Kind() ResourceKind

	// Memory returns the memory holding the resource storage.
	Memory() *Memory

	// ByteSize returns the size of the resource storage.
	ByteSize() uint64

	// storage identifies the underlying allocation; views share the
	// storage of their image.
	storage() any
}

// Buffer is a linear byte range placed in a Memory.
type Buffer struct {
	memory   *Memory
	id       driver.BufferID
	alloc    allocation
	size     uint64
	usage    BufferUsage
	label    string
	released bool
}

// CreateBuffer allocates a buffer of size bytes. size must be > 0.
func (m *Memory) CreateBuffer(size uint64, usage BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: buffer size must be > 0", ErrInvalidSize)
	}
	if err := m.session.checkOpen(); err != nil {
		return nil, err
	}

	a, err := m.allocate(size)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("buffer@%d+%d", a.page.id, a.Offset)
	id, err := m.session.dev.CreateBuffer(&driver.BufferDescriptor{
		Label:  label,
		Memory: a.page.id,
		Offset: a.Offset,
		Size:   size,
		Usage:  usage,
	})
	if err != nil {
		m.free(a)
		return nil, fmt.Errorf("nodegraph: create buffer: %w", err)
	}
	return &Buffer{memory: m, id: id, alloc: a, size: size, usage: usage, label: label}, nil
}

// Kind returns ResourceBuffer.
func (b *Buffer) Kind() ResourceKind { return ResourceBuffer }

// Memory returns the memory the buffer was allocated from.
func (b *Buffer) Memory() *Memory { return b.memory }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// ByteSize returns Size.
func (b *Buffer) ByteSize() uint64 { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() BufferUsage { return b.usage }

// IsHostVisible reports whether the host can write the buffer directly.
func (b *Buffer) IsHostVisible() bool { return b.memory.IsHostVisible() }

// Offset returns the byte offset of the buffer inside its memory page.
func (b *Buffer) Offset() uint64 { return b.alloc.Offset }

// Released reports whether Release was called.
func (b *Buffer) Released() bool { return b.released }

func (b *Buffer) storage() any { return b }

func (b *Buffer) check() error {
	if b.released {
		return fmt.Errorf("%w: %s", ErrReleased, b.label)
	}
	return b.memory.session.checkOpen()
}

// Release destroys the buffer and returns its space to the memory.
// Release is idempotent.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.memory.session.dev.DestroyBuffer(b.id)
	b.memory.free(b.alloc)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[%d bytes, usage %#x]", b.size, uint64(b.usage))
}
