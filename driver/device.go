package driver

import (
	"context"
	"errors"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Common driver errors.
var (
	// ErrDriverNotAvailable is returned when a requested driver is not registered
	// or cannot open a device.
	ErrDriverNotAvailable = errors.New("driver: not available")

	// ErrOutOfMemory is returned when a memory page cannot be allocated.
	ErrOutOfMemory = errors.New("driver: out of device memory")

	// ErrNotHostVisible is returned by WriteBuffer/ReadBuffer on buffers whose
	// memory is not host visible.
	ErrNotHostVisible = errors.New("driver: memory is not host visible")

	// ErrInvalidID is returned when an ID does not name a live object.
	ErrInvalidID = errors.New("driver: invalid object id")

	// ErrOutOfRange is returned when a resource does not fit in its memory page
	// or an access exceeds a resource.
	ErrOutOfRange = errors.New("driver: range out of bounds")

	// ErrUnknownKernel is returned when a program has no executable form on
	// the device.
	ErrUnknownKernel = errors.New("driver: unknown kernel")

	// ErrInvalidCommand is returned by Submit for malformed commands.
	ErrInvalidCommand = errors.New("driver: invalid command")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("driver: device closed")

	// ErrDeviceLost is returned by Submit when the device stops responding.
	ErrDeviceLost = errors.New("driver: device lost")
)

// Info describes an opened device.
type Info struct {
	gpucontext.AdapterInfo

	// Driver is the registry name of the driver that opened the device.
	Driver string

	Limits Limits
}

// Limits are the device limits the runtime depends on.
type Limits struct {
	// MinBufferAlignment is the required alignment of resource offsets
	// inside a memory page.
	MinBufferAlignment uint64

	// MaxWorkgroupSize is the maximum local size per axis.
	MaxWorkgroupSize [3]uint32

	// MaxWorkgroupInvocations bounds the product of the local size.
	MaxWorkgroupInvocations uint32

	// MaxBufferSize is the largest single resource in bytes.
	MaxBufferSize uint64
}

// BufferDescriptor places a buffer inside a memory page.
type BufferDescriptor struct {
	Label  string
	Memory MemoryID
	Offset uint64
	Size   uint64
	Usage  gputypes.BufferUsage
}

// ImageDescriptor places an image inside a memory page. Texels are stored
// linearly, row-major over (z, y, x, channel).
type ImageDescriptor struct {
	Label       string
	Memory      MemoryID
	Offset      uint64
	Width       uint32
	Height      uint32
	Depth       uint32
	Channels    uint32
	ChannelType ChannelType
	Usage       gputypes.TextureUsage
}

// ByteSize returns the linear size of the image storage.
func (d *ImageDescriptor) ByteSize() uint64 {
	return uint64(d.Width) * uint64(d.Height) * uint64(d.Depth) *
		uint64(d.Channels) * uint64(d.ChannelType.Size())
}

// ProgramDescriptor carries compiled program code.
//
// Label is the program name; devices that cannot execute SPIR-V resolve
// their executable form through it.
type ProgramDescriptor struct {
	Label string
	SPIRV []uint32
	WGSL  string
}

// SubmitResult reports per-submission data.
type SubmitResult struct {
	// Timestamps maps Timestamp.Query to the elapsed time since the start of
	// the submission when the timestamp executed.
	Timestamps map[uint32]time.Duration
}

// Device is the low-level compute device the runtime drives.
//
// Resource lifecycle:
//   - Memory pages are allocated with AllocateMemory and freed with FreeMemory
//   - Buffers and images are placed inside pages at caller-chosen offsets;
//     several resources may share one page
//   - Destroying a resource while a submission uses it is undefined behavior
//   - IDs become invalid after destruction and are never reused
//
// Submit blocks until the device has executed every command.
// Implementations must be safe for concurrent use.
type Device interface {
	// Info returns the adapter description and limits.
	Info() Info

	// MemoryTypes returns the memory types, indexed by type index.
	MemoryTypes() []MemoryType

	// AllocateMemory allocates a page of the given type.
	AllocateMemory(typeIndex int, size uint64) (MemoryID, error)

	// FreeMemory releases a page. Resources placed in it must be destroyed first.
	FreeMemory(id MemoryID)

	CreateBuffer(desc *BufferDescriptor) (BufferID, error)
	DestroyBuffer(id BufferID)

	CreateImage(desc *ImageDescriptor) (ImageID, error)
	DestroyImage(id ImageID)

	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies len(data) bytes from a host-visible buffer at offset.
	ReadBuffer(id BufferID, offset uint64, data []byte) error

	CreateProgram(desc *ProgramDescriptor) (ProgramID, error)
	DestroyProgram(id ProgramID)

	// Submit executes commands in order and waits for completion. The context
	// is observed only before execution starts.
	Submit(ctx context.Context, cmds []Command) (*SubmitResult, error)

	// Close releases the device and every object created from it.
	Close() error
}
