package wgpu

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nodegraph/driver"
)

// fenceTimeout bounds the wait for one submitted command buffer.
const fenceTimeout = 30 * time.Second

func (d *Device) beginEncoder(label string) (hal.CommandEncoder, error) {
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	return enc, nil
}

// finish ends enc, submits it and waits for the GPU.
func (d *Device) finish(enc hal.CommandEncoder) error {
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)

	fence, err := d.dev.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	ok, err := d.dev.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", driver.ErrDeviceLost, err)
	}
	if !ok {
		return fmt.Errorf("%w: fence not signaled after %v", driver.ErrDeviceLost, fenceTimeout)
	}
	return nil
}

// submission encodes commands into one command buffer until a command
// needs the host, which flushes the pending work.
type submission struct {
	d          *Device
	start      time.Time
	enc        hal.CommandEncoder
	bindGroups []hal.BindGroup
	res        *driver.SubmitResult
}

func (s *submission) encoder() (hal.CommandEncoder, error) {
	if s.enc != nil {
		return s.enc, nil
	}
	enc, err := s.d.beginEncoder("nodegraph_submit")
	if err != nil {
		return nil, err
	}
	s.enc = enc
	return enc, nil
}

func (s *submission) flush() error {
	if s.enc == nil {
		return nil
	}
	enc := s.enc
	s.enc = nil
	err := s.d.finish(enc)
	s.release()
	return err
}

func (s *submission) discard() {
	if s.enc != nil {
		s.enc.DiscardEncoding()
		s.enc = nil
	}
	s.release()
}

func (s *submission) release() {
	for _, bg := range s.bindGroups {
		s.d.dev.DestroyBindGroup(bg)
	}
	s.bindGroups = s.bindGroups[:0]
}

// Submit implements driver.Device.
func (d *Device) Submit(ctx context.Context, cmds []driver.Command) (*driver.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, driver.ErrDeviceClosed
	}

	defer d.destroyRetired()

	s := &submission{
		d:     d,
		start: time.Now(),
		res:   &driver.SubmitResult{Timestamps: make(map[uint32]time.Duration)},
	}
	for i, cmd := range cmds {
		if err := s.exec(cmd); err != nil {
			s.discard()
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s.res, nil
}

func (s *submission) exec(cmd driver.Command) error {
	d := s.d
	switch c := cmd.(type) {
	case *driver.Dispatch:
		return s.dispatch(c)

	case *driver.Barrier:
		// Compute passes are ordered; nothing to encode.
		return nil

	case *driver.CopyBuffer:
		src, dst, err := d.bufferPair(c.Src, c.Dst)
		if err != nil {
			return err
		}
		if c.SrcOffset+c.Size > src.desc.Size || c.DstOffset+c.Size > dst.desc.Size {
			return fmt.Errorf("%w: copy of %d bytes", driver.ErrOutOfRange, c.Size)
		}
		enc, err := s.encoder()
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{
			{SrcOffset: c.SrcOffset, DstOffset: c.DstOffset, Size: c.Size},
		})
		return nil

	case *driver.CopyImage:
		src, dst, err := d.imagePair(c.Src, c.Dst)
		if err != nil {
			return err
		}
		if src.desc.ByteSize() != dst.desc.ByteSize() || src.desc.Width != dst.desc.Width ||
			src.desc.Height != dst.desc.Height || src.desc.Depth != dst.desc.Depth {
			return fmt.Errorf("%w: image shapes differ", driver.ErrInvalidCommand)
		}
		if err := s.flush(); err != nil {
			return err
		}
		data, err := d.readImage(src)
		if err != nil {
			return err
		}
		d.writeImage(dst, data)
		return nil

	case *driver.CopyBufferToImage:
		src, ok := d.buffers[c.Src]
		if !ok {
			return fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, c.Src)
		}
		dst, ok := d.images[c.Dst]
		if !ok {
			return fmt.Errorf("%w: image %d", driver.ErrInvalidID, c.Dst)
		}
		size := dst.desc.ByteSize()
		if c.SrcOffset+size > src.desc.Size {
			return fmt.Errorf("%w: image of %d bytes from buffer of %d", driver.ErrOutOfRange, size, src.desc.Size)
		}
		if err := s.flush(); err != nil {
			return err
		}
		data := make([]byte, size)
		if err := d.readRaw(src.raw, src.desc.Size, c.SrcOffset, data); err != nil {
			return err
		}
		d.writeImage(dst, data)
		return nil

	case *driver.CopyImageToBuffer:
		src, ok := d.images[c.Src]
		if !ok {
			return fmt.Errorf("%w: image %d", driver.ErrInvalidID, c.Src)
		}
		dst, ok := d.buffers[c.Dst]
		if !ok {
			return fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, c.Dst)
		}
		if c.DstOffset+src.desc.ByteSize() > dst.desc.Size {
			return fmt.Errorf("%w: image of %d bytes into buffer of %d", driver.ErrOutOfRange, src.desc.ByteSize(), dst.desc.Size)
		}
		if err := s.flush(); err != nil {
			return err
		}
		data, err := d.readImage(src)
		if err != nil {
			return err
		}
		d.queue.WriteBuffer(dst.raw, c.DstOffset, data)
		return nil

	case *driver.Timestamp:
		if err := s.flush(); err != nil {
			return err
		}
		s.res.Timestamps[c.Query] = time.Since(s.start)
		return nil

	default:
		return fmt.Errorf("%w: %T", driver.ErrInvalidCommand, cmd)
	}
}

func (s *submission) dispatch(c *driver.Dispatch) error {
	d := s.d
	if len(c.PushConstants) > 0 {
		return fmt.Errorf("%w: %s: push constants are not supported by the wgpu driver", driver.ErrInvalidCommand, c.Label)
	}
	p, err := d.pipelineFor(c)
	if err != nil {
		return err
	}
	bg, err := d.bindGroup(p, c)
	if err != nil {
		return err
	}
	s.bindGroups = append(s.bindGroups, bg)

	enc, err := s.encoder()
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: c.Label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(c.Grid[0], c.Grid[1], c.Grid[2])
	pass.End()
	driver.Logger().Debug("wgpu: dispatch", "label", c.Label, "grid", c.Grid)
	return nil
}

func (d *Device) bufferPair(a, b driver.BufferID) (*buffer, *buffer, error) {
	src, ok := d.buffers[a]
	if !ok {
		return nil, nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, a)
	}
	dst, ok := d.buffers[b]
	if !ok {
		return nil, nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, b)
	}
	return src, dst, nil
}

func (d *Device) imagePair(a, b driver.ImageID) (*image, *image, error) {
	src, ok := d.images[a]
	if !ok {
		return nil, nil, fmt.Errorf("%w: image %d", driver.ErrInvalidID, a)
	}
	dst, ok := d.images[b]
	if !ok {
		return nil, nil, fmt.Errorf("%w: image %d", driver.ErrInvalidID, b)
	}
	return src, dst, nil
}
