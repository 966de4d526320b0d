package nodegraph

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/gogpu/nodegraph/driver"
)

// requireUsage reports a missing usage flag for a transfer. With
// validation enabled the operation proceeds and the validation layer
// records a warning at submission.
func (s *Session) requireUsage(ok bool, what string) error {
	if ok || s.debugEnabled {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidUsage, what)
}

func (s *Session) checkBufferUsage(b *Buffer, flag BufferUsage, role string) error {
	return s.requireUsage(b.usage.Contains(flag), fmt.Sprintf("buffer used as %s without usage %#x", role, uint64(flag)))
}

func (s *Session) checkImageUsage(img *Image, flag ImageUsage, role string) error {
	return s.requireUsage(img.usage&flag == flag, fmt.Sprintf("image used as %s without usage %#x", role, uint64(flag)))
}

// withStaging runs fn with a transient host-visible buffer of size bytes.
func (s *Session) withStaging(size uint64, fn func(staging *Buffer) error) error {
	host, err := s.HostMemory()
	if err != nil {
		return err
	}
	staging, err := host.CreateBuffer(size, BufferUsageTransferSrc|BufferUsageTransferDst)
	if err != nil {
		return fmt.Errorf("nodegraph: staging buffer: %w", err)
	}
	defer staging.Release()
	return fn(staging)
}

// FromHost copies data into the buffer. len(data) must equal Size.
// Buffers outside host-visible memory are written through a staging copy.
func (b *Buffer) FromHost(ctx context.Context, data []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	if uint64(len(data)) != b.size {
		return fmt.Errorf("%w: %d bytes for buffer of %d", ErrSizeMismatch, len(data), b.size)
	}
	s := b.memory.session
	if b.IsHostVisible() {
		return s.dev.WriteBuffer(b.id, 0, data)
	}
	if err := s.checkBufferUsage(b, BufferUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	return s.withStaging(b.size, func(staging *Buffer) error {
		if err := s.dev.WriteBuffer(staging.id, 0, data); err != nil {
			return err
		}
		_, err := s.submit(ctx, []driver.Command{
			&driver.CopyBuffer{Src: staging.id, Dst: b.id, Size: b.size},
		})
		return err
	})
}

// ToHost returns a copy of the buffer contents.
func (b *Buffer) ToHost(ctx context.Context) ([]byte, error) {
	out := make([]byte, b.size)
	if err := b.ToHostInto(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToHostInto copies the buffer contents into dst. len(dst) must equal Size.
func (b *Buffer) ToHostInto(ctx context.Context, dst []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	if uint64(len(dst)) != b.size {
		return fmt.Errorf("%w: %d bytes for buffer of %d", ErrSizeMismatch, len(dst), b.size)
	}
	s := b.memory.session
	if b.IsHostVisible() {
		return s.dev.ReadBuffer(b.id, 0, dst)
	}
	if err := s.checkBufferUsage(b, BufferUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	return s.withStaging(b.size, func(staging *Buffer) error {
		if _, err := s.submit(ctx, []driver.Command{
			&driver.CopyBuffer{Src: b.id, Dst: staging.id, Size: b.size},
		}); err != nil {
			return err
		}
		return s.dev.ReadBuffer(staging.id, 0, dst)
	})
}

// CopyTo copies the buffer into dst, a Buffer of equal size or an Image
// (or view) of equal byte size. The buffer needs TransferSrc usage and dst
// TransferDst.
func (b *Buffer) CopyTo(ctx context.Context, dst Resource) error {
	cb, err := b.memory.session.CreateCommandBuffer()
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *Buffer:
		err = cb.CopyBuffer(b, d)
	case *Image:
		err = cb.CopyBufferToImage(b, d)
	case *ImageView:
		err = cb.CopyBufferToImage(b, d.image)
	default:
		err = fmt.Errorf("nodegraph: cannot copy buffer to %T", dst)
	}
	if err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	return b.memory.session.RunCommandBuffer(ctx, cb)
}

// FromHost copies linear texel data into the image. len(data) must equal
// ByteSize.
func (img *Image) FromHost(ctx context.Context, data []byte) error {
	if err := img.check(); err != nil {
		return err
	}
	if uint64(len(data)) != img.ByteSize() {
		return fmt.Errorf("%w: %d bytes for image %v", ErrSizeMismatch, len(data), img.desc)
	}
	s := img.memory.session
	if err := s.checkImageUsage(img, ImageUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	return s.withStaging(img.ByteSize(), func(staging *Buffer) error {
		if err := s.dev.WriteBuffer(staging.id, 0, data); err != nil {
			return err
		}
		_, err := s.submit(ctx, []driver.Command{
			&driver.CopyBufferToImage{Src: staging.id, Dst: img.id},
		})
		return err
	})
}

// ToHost returns a copy of the linear texel data.
func (img *Image) ToHost(ctx context.Context) ([]byte, error) {
	out := make([]byte, img.ByteSize())
	if err := img.ToHostInto(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToHostInto copies the linear texel data into dst. len(dst) must equal
// ByteSize.
func (img *Image) ToHostInto(ctx context.Context, dst []byte) error {
	if err := img.check(); err != nil {
		return err
	}
	if uint64(len(dst)) != img.ByteSize() {
		return fmt.Errorf("%w: %d bytes for image %v", ErrSizeMismatch, len(dst), img.desc)
	}
	s := img.memory.session
	if err := s.checkImageUsage(img, ImageUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	return s.withStaging(img.ByteSize(), func(staging *Buffer) error {
		if _, err := s.submit(ctx, []driver.Command{
			&driver.CopyImageToBuffer{Src: img.id, Dst: staging.id},
		}); err != nil {
			return err
		}
		return s.dev.ReadBuffer(staging.id, 0, dst)
	})
}

// FromHostImage copies a host image of identical shape into the image.
func (img *Image) FromHostImage(ctx context.Context, h *HostImage) error {
	if h.Desc != img.desc {
		return fmt.Errorf("%w: host image %v, image %v", ErrSizeMismatch, h.Desc, img.desc)
	}
	return img.FromHost(ctx, h.Data)
}

// ToHostImage returns the image contents as a HostImage.
func (img *Image) ToHostImage(ctx context.Context) (*HostImage, error) {
	data, err := img.ToHost(ctx)
	if err != nil {
		return nil, err
	}
	return &HostImage{Desc: img.desc, Data: data}, nil
}

// CopyTo copies the image into dst, an Image (or view) of identical shape
// or a Buffer of at least ByteSize bytes.
func (img *Image) CopyTo(ctx context.Context, dst Resource) error {
	cb, err := img.memory.session.CreateCommandBuffer()
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *Image:
		err = cb.CopyImage(img, d)
	case *ImageView:
		err = cb.CopyImage(img, d.image)
	case *Buffer:
		err = cb.CopyImageToBuffer(img, d)
	default:
		err = fmt.Errorf("nodegraph: cannot copy image to %T", dst)
	}
	if err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	return img.memory.session.RunCommandBuffer(ctx, cb)
}

// FromHost writes the viewed image.
func (v *ImageView) FromHost(ctx context.Context, data []byte) error {
	return v.image.FromHost(ctx, data)
}

// ToHost reads the viewed image.
func (v *ImageView) ToHost(ctx context.Context) ([]byte, error) {
	return v.image.ToHost(ctx)
}

// CopyTo copies the viewed image.
func (v *ImageView) CopyTo(ctx context.Context, dst Resource) error {
	return v.image.CopyTo(ctx, dst)
}

// HostImage is image data in host memory with the same linear layout as
// Image storage.
type HostImage struct {
	Desc ImageDescriptor
	Data []byte
}

// NewHostImage returns a zeroed host image.
func NewHostImage(desc ImageDescriptor) (*HostImage, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &HostImage{Desc: desc, Data: make([]byte, desc.ByteSize())}, nil
}

func (h *HostImage) offset(x, y, z, c uint32) int {
	d := h.Desc
	texel := (uint64(z)*uint64(d.Height)+uint64(y))*uint64(d.Width) + uint64(x)
	return int((texel*uint64(d.Channels) + uint64(c)) * uint64(d.ChannelType.Size()))
}

// Uint returns channel c of texel (x, y, z). Float channels are truncated.
func (h *HostImage) Uint(x, y, z, c uint32) uint32 {
	off := h.offset(x, y, z, c)
	switch h.Desc.ChannelType {
	case ChannelUint8:
		return uint32(h.Data[off])
	case ChannelUint16:
		return uint32(binary.LittleEndian.Uint16(h.Data[off:]))
	case ChannelUint32:
		return binary.LittleEndian.Uint32(h.Data[off:])
	default:
		return uint32(h.Float(x, y, z, c))
	}
}

// SetUint stores v, truncated to the channel width.
func (h *HostImage) SetUint(x, y, z, c, v uint32) {
	off := h.offset(x, y, z, c)
	switch h.Desc.ChannelType {
	case ChannelUint8:
		h.Data[off] = uint8(v)
	case ChannelUint16:
		binary.LittleEndian.PutUint16(h.Data[off:], uint16(v))
	case ChannelUint32:
		binary.LittleEndian.PutUint32(h.Data[off:], v)
	default:
		h.SetFloat(x, y, z, c, float32(v))
	}
}

// Float returns channel c of texel (x, y, z) as float32.
func (h *HostImage) Float(x, y, z, c uint32) float32 {
	off := h.offset(x, y, z, c)
	switch h.Desc.ChannelType {
	case ChannelFloat16:
		return float16.Frombits(binary.LittleEndian.Uint16(h.Data[off:])).Float32()
	case ChannelFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(h.Data[off:]))
	default:
		return float32(h.Uint(x, y, z, c))
	}
}

// SetFloat stores v. Float16 channels round to the nearest half value.
func (h *HostImage) SetFloat(x, y, z, c uint32, v float32) {
	off := h.offset(x, y, z, c)
	switch h.Desc.ChannelType {
	case ChannelFloat16:
		binary.LittleEndian.PutUint16(h.Data[off:], float16.Fromfloat32(v).Bits())
	case ChannelFloat32:
		binary.LittleEndian.PutUint32(h.Data[off:], math.Float32bits(v))
	default:
		if v < 0 {
			v = 0
		}
		h.SetUint(x, y, z, c, uint32(v))
	}
}
