package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nodegraph/driver"
)

// copyPitchAlignment is the required bytesPerRow alignment of
// texture-to-buffer copies.
const copyPitchAlignment = 256

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDescriptor) (driver.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	if _, err := d.placement(desc.Memory, desc.Offset, desc.Size); err != nil {
		return driver.InvalidID, err
	}
	raw, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("%w: %w", driver.ErrOutOfMemory, err)
	}
	id := driver.BufferID(d.id())
	d.buffers[id] = &buffer{raw: raw, desc: *desc}
	return id, nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(id driver.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.dev.DestroyBuffer(b.raw)
		delete(d.buffers, id)
	}
}

func textureDimension(desc *driver.ImageDescriptor) (gputypes.TextureDimension, gputypes.TextureViewDimension) {
	if desc.Depth > 1 {
		return gputypes.TextureDimension3D, gputypes.TextureViewDimension3D
	}
	return gputypes.TextureDimension2D, gputypes.TextureViewDimension2D
}

// CreateImage implements driver.Device.
func (d *Device) CreateImage(desc *driver.ImageDescriptor) (driver.ImageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	if _, err := d.placement(desc.Memory, desc.Offset, desc.ByteSize()); err != nil {
		return driver.InvalidID, err
	}
	format := driver.TextureFormat(desc.ChannelType, desc.Channels)
	if format == gputypes.TextureFormatUndefined {
		return driver.InvalidID, fmt.Errorf("%w: no texel format for %d x %s",
			driver.ErrInvalidCommand, desc.Channels, desc.ChannelType)
	}
	dim, viewDim := textureDimension(desc)
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.Depth},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        format,
		Usage:         desc.Usage | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("%w: %w", driver.ErrOutOfMemory, err)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        format,
		Dimension:     viewDim,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return driver.InvalidID, fmt.Errorf("wgpu: create texture view: %w", err)
	}
	id := driver.ImageID(d.id())
	d.images[id] = &image{tex: tex, view: view, desc: *desc}
	return id, nil
}

// DestroyImage implements driver.Device.
func (d *Device) DestroyImage(id driver.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[id]; ok {
		d.destroyImage(img)
		delete(d.images, id)
	}
}

func (d *Device) destroyImage(img *image) {
	d.dev.DestroyTextureView(img.view)
	d.dev.DestroyTexture(img.tex)
}

func (d *Device) hostBuffer(id driver.BufferID, offset uint64, n int) (*buffer, error) {
	if d.closed {
		return nil, driver.ErrDeviceClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, id)
	}
	if p := d.pages[b.desc.Memory]; p == nil || p.typeIndex != MemoryTypeHostVisible {
		return nil, driver.ErrNotHostVisible
	}
	if offset+uint64(n) > b.desc.Size {
		return nil, fmt.Errorf("%w: %d bytes at %d in buffer of %d", driver.ErrOutOfRange, n, offset, b.desc.Size)
	}
	return b, nil
}

// WriteBuffer implements driver.Device.
func (d *Device) WriteBuffer(id driver.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(b.raw, offset, data)
	return nil
}

// ReadBuffer implements driver.Device.
func (d *Device) ReadBuffer(id driver.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	return d.readRaw(b.raw, b.desc.Size, offset, data)
}

// readRaw copies len(data) bytes at offset of raw, a buffer of bufSize
// bytes, through a mappable staging buffer.
func (d *Device) readRaw(raw hal.Buffer, bufSize, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := min(alignUp(uint64(len(data)), 4), bufSize-offset)
	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "nodegraph_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	enc, err := d.beginEncoder("nodegraph_readback")
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(raw, staging, []hal.BufferCopy{{SrcOffset: offset, DstOffset: 0, Size: size}})
	if err := d.finish(enc); err != nil {
		return err
	}
	if err := d.queue.ReadBuffer(staging, 0, data); err != nil {
		return fmt.Errorf("wgpu: buffer readback: %w", err)
	}
	return nil
}

// readImage returns the texels of img, tightly packed.
func (d *Device) readImage(img *image) ([]byte, error) {
	desc := &img.desc
	row := uint64(desc.Width) * uint64(desc.Channels) * uint64(desc.ChannelType.Size())
	pitch := alignUp(row, copyPitchAlignment)
	rows := uint64(desc.Height) * uint64(desc.Depth)

	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "nodegraph_image_staging",
		Size:  pitch * rows,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	enc, err := d.beginEncoder("nodegraph_image_readback")
	if err != nil {
		return nil, err
	}
	enc.CopyTextureToBuffer(img.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(pitch), RowsPerImage: desc.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.Depth},
	}})
	if err := d.finish(enc); err != nil {
		return nil, err
	}

	padded := make([]byte, pitch*rows)
	if err := d.queue.ReadBuffer(staging, 0, padded); err != nil {
		return nil, fmt.Errorf("wgpu: image readback: %w", err)
	}
	if pitch == row {
		return padded, nil
	}
	out := make([]byte, row*rows)
	for r := range rows {
		copy(out[r*row:(r+1)*row], padded[r*pitch:])
	}
	return out, nil
}

// writeImage uploads tightly packed texels to img.
func (d *Device) writeImage(img *image, data []byte) {
	desc := &img.desc
	row := desc.Width * desc.Channels * desc.ChannelType.Size()
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: img.tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: row, RowsPerImage: desc.Height},
		&hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.Depth},
	)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
