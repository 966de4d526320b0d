package driver

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Command is one entry of a submission. The concrete types are Dispatch,
// Barrier, CopyBuffer, CopyImage, CopyBufferToImage, CopyImageToBuffer and
// Timestamp.
type Command interface {
	command()
}

// BindingKind selects how a resource is exposed to a program.
type BindingKind uint8

// Binding kinds.
const (
	BindingStorageBuffer BindingKind = iota + 1
	BindingUniformBuffer
	BindingStorageImage
	BindingSampledImage
)

func (k BindingKind) String() string {
	switch k {
	case BindingStorageBuffer:
		return "StorageBuffer"
	case BindingUniformBuffer:
		return "UniformBuffer"
	case BindingStorageImage:
		return "StorageImage"
	case BindingSampledImage:
		return "SampledImage"
	default:
		return fmt.Sprintf("BindingKind(%d)", uint8(k))
	}
}

// IsImage reports whether the binding refers to an image.
func (k BindingKind) IsImage() bool {
	return k == BindingStorageImage || k == BindingSampledImage
}

// Sampler holds the sampling state of a sampled image binding.
type Sampler struct {
	Filter     gputypes.FilterMode
	AddressU   gputypes.AddressMode
	AddressV   gputypes.AddressMode
	AddressW   gputypes.AddressMode
	Normalized bool
}

// Binding attaches a buffer or an image to a binding index of a program.
type Binding struct {
	Index   uint32
	Kind    BindingKind
	Buffer  BufferID
	Image   ImageID
	Sampler Sampler
}

// Dispatch runs Grid workgroups of Local invocations each.
type Dispatch struct {
	Label         string
	Program       ProgramID
	EntryPoint    string
	Grid          [3]uint32
	Local         [3]uint32
	Bindings      []Binding
	PushConstants []byte
}

// Barrier makes all writes of previous commands visible to later commands.
type Barrier struct{}

// CopyBuffer copies Size bytes between buffers.
type CopyBuffer struct {
	Src, Dst             BufferID
	SrcOffset, DstOffset uint64
	Size                 uint64
}

// CopyImage copies a whole image into an image of identical shape.
type CopyImage struct {
	Src, Dst ImageID
}

// CopyBufferToImage fills an image from linear buffer contents.
type CopyBufferToImage struct {
	Src       BufferID
	SrcOffset uint64
	Dst       ImageID
}

// CopyImageToBuffer writes an image linearly into a buffer.
type CopyImageToBuffer struct {
	Src       ImageID
	Dst       BufferID
	DstOffset uint64
}

// Timestamp records the execution time of its position in the submission.
type Timestamp struct {
	Query uint32
}

func (*Dispatch) command()          {}
func (*Barrier) command()           {}
func (*CopyBuffer) command()        {}
func (*CopyImage) command()         {}
func (*CopyBufferToImage) command() {}
func (*CopyImageToBuffer) command() {}
func (*Timestamp) command()         {}

// GridSize returns ceil(extent/local) per axis.
func GridSize(extent, local [3]uint32) [3]uint32 {
	var grid [3]uint32
	for i := range grid {
		if local[i] == 0 {
			continue
		}
		grid[i] = (extent[i] + local[i] - 1) / local[i]
	}
	return grid
}
