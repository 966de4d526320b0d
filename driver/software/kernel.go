package software

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/internal/parallel"
)

// Kernel executes one whole dispatch of a program on the CPU.
type Kernel func(d *Dispatch) error

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]Kernel)
)

// RegisterKernel makes a Go kernel available for programs labelled name.
// This is typically called from init() in node packages next to the
// registration of the program's shader source.
func RegisterKernel(name string, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[name] = k
}

// LookupKernel returns the kernel registered for name.
func LookupKernel(name string) (Kernel, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, ok := kernels[name]
	return k, ok
}

// Dispatch is the execution context handed to a Kernel.
type Dispatch struct {
	EntryPoint    string
	Grid          [3]uint32
	Local         [3]uint32
	PushConstants []byte

	bindings map[uint32]*binding
	pool     *parallel.Pool
}

// invocationGrain is the smallest range of invocations handed to a worker.
const invocationGrain = 4096

type binding struct {
	kind    driver.BindingKind
	data    []byte
	image   *Image
	sampler driver.Sampler
}

// GlobalSize returns the number of invocations per axis.
func (d *Dispatch) GlobalSize() [3]uint32 {
	return [3]uint32{d.Grid[0] * d.Local[0], d.Grid[1] * d.Local[1], d.Grid[2] * d.Local[2]}
}

// ForEachInvocation calls fn once for every global invocation ID. Large
// dispatches are split into contiguous ranges that run concurrently, so fn
// must only write state owned by its own invocation.
func (d *Dispatch) ForEachInvocation(fn func(x, y, z uint32)) {
	size := d.GlobalSize()
	total := int(size[0]) * int(size[1]) * int(size[2])
	run := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x := uint32(i % int(size[0]))
			yz := i / int(size[0])
			fn(x, uint32(yz%int(size[1])), uint32(yz/int(size[1])))
		}
	}
	if d.pool == nil || total < invocationGrain*2 {
		run(0, total)
		return
	}
	d.pool.For(total, invocationGrain, run)
}

// Buffer returns the bytes of the buffer bound at index.
func (d *Dispatch) Buffer(index uint32) ([]byte, error) {
	b, ok := d.bindings[index]
	if !ok || b.kind.IsImage() {
		return nil, fmt.Errorf("%w: no buffer at binding %d", driver.ErrInvalidCommand, index)
	}
	return b.data, nil
}

// Image returns the image bound at index.
func (d *Dispatch) Image(index uint32) (*Image, error) {
	b, ok := d.bindings[index]
	if !ok || !b.kind.IsImage() {
		return nil, fmt.Errorf("%w: no image at binding %d", driver.ErrInvalidCommand, index)
	}
	return b.image, nil
}

// Sampler returns the sampling state of the image bound at index.
func (d *Dispatch) Sampler(index uint32) driver.Sampler {
	if b, ok := d.bindings[index]; ok {
		return b.sampler
	}
	return driver.Sampler{}
}

// PushUint32 decodes the little-endian uint32 at byte offset off of the push
// constants, or 0 if out of range.
func (d *Dispatch) PushUint32(off int) uint32 {
	if off < 0 || off+4 > len(d.PushConstants) {
		return 0
	}
	return binary.LittleEndian.Uint32(d.PushConstants[off:])
}

// PushFloat32 decodes the float32 at byte offset off of the push constants.
func (d *Dispatch) PushFloat32(off int) float32 {
	return math.Float32frombits(d.PushUint32(off))
}

// Image is a CPU view of linear image storage laid out as (z, y, x, channel).
type Image struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	Channels    uint32
	ChannelType driver.ChannelType

	data []byte
}

// NewImage wraps data as an image. len(data) must cover the image.
func NewImage(data []byte, width, height, depth, channels uint32, ct driver.ChannelType) (*Image, error) {
	img := &Image{Width: width, Height: height, Depth: depth, Channels: channels, ChannelType: ct, data: data}
	need := uint64(width) * uint64(height) * uint64(depth) * uint64(channels) * uint64(ct.Size())
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("%w: image needs %d bytes, have %d", driver.ErrOutOfRange, need, len(data))
	}
	return img, nil
}

// Bytes returns the underlying storage.
func (img *Image) Bytes() []byte { return img.data }

// Contains reports whether (x, y, z) lies inside the image.
func (img *Image) Contains(x, y, z uint32) bool {
	return x < img.Width && y < img.Height && z < img.Depth
}

func (img *Image) offset(x, y, z, c uint32) int {
	texel := (uint64(z)*uint64(img.Height)+uint64(y))*uint64(img.Width) + uint64(x)
	return int((texel*uint64(img.Channels) + uint64(c)) * uint64(img.ChannelType.Size()))
}

// Uint returns channel c of texel (x, y, z) as an unsigned integer.
// Float channels are truncated.
func (img *Image) Uint(x, y, z, c uint32) uint32 {
	off := img.offset(x, y, z, c)
	switch img.ChannelType {
	case driver.ChannelUint8:
		return uint32(img.data[off])
	case driver.ChannelUint16:
		return uint32(binary.LittleEndian.Uint16(img.data[off:]))
	case driver.ChannelUint32:
		return binary.LittleEndian.Uint32(img.data[off:])
	default:
		return uint32(img.Float(x, y, z, c))
	}
}

// SetUint stores v into channel c of texel (x, y, z), truncating to the
// channel width.
func (img *Image) SetUint(x, y, z, c, v uint32) {
	off := img.offset(x, y, z, c)
	switch img.ChannelType {
	case driver.ChannelUint8:
		img.data[off] = uint8(v)
	case driver.ChannelUint16:
		binary.LittleEndian.PutUint16(img.data[off:], uint16(v))
	case driver.ChannelUint32:
		binary.LittleEndian.PutUint32(img.data[off:], v)
	default:
		img.SetFloat(x, y, z, c, float32(v))
	}
}

// Float returns channel c of texel (x, y, z) as float32.
func (img *Image) Float(x, y, z, c uint32) float32 {
	off := img.offset(x, y, z, c)
	switch img.ChannelType {
	case driver.ChannelFloat16:
		return float16.Frombits(binary.LittleEndian.Uint16(img.data[off:])).Float32()
	case driver.ChannelFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(img.data[off:]))
	default:
		return float32(img.Uint(x, y, z, c))
	}
}

// SetFloat stores v into channel c of texel (x, y, z).
func (img *Image) SetFloat(x, y, z, c uint32, v float32) {
	off := img.offset(x, y, z, c)
	switch img.ChannelType {
	case driver.ChannelFloat16:
		binary.LittleEndian.PutUint16(img.data[off:], float16.Fromfloat32(v).Bits())
	case driver.ChannelFloat32:
		binary.LittleEndian.PutUint32(img.data[off:], math.Float32bits(v))
	default:
		if v < 0 {
			v = 0
		}
		img.SetUint(x, y, z, c, uint32(v))
	}
}
