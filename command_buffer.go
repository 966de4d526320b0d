package nodegraph

import (
	"fmt"

	"github.com/gogpu/nodegraph/driver"
)

type commandBufferState uint8

const (
	cbInitial commandBufferState = iota
	cbRecording
	cbExecutable
)

// CommandBuffer is a recorded sequence of node runs, copies, barriers and
// duration brackets. After End it is immutable and may be submitted any
// number of times with Session.RunCommandBuffer.
type CommandBuffer struct {
	session *Session
	state   commandBufferState
	cmds    []driver.Command
	nodes   []Node

	durations []durationSpan
	open      *Duration
	openQuery uint32
	nextQuery uint32

	// written and read track storages accessed since the last barrier
	// while a container records its children.
	written map[any]struct{}
	read    map[any]struct{}
}

// CreateCommandBuffer returns an empty command buffer.
func (s *Session) CreateCommandBuffer() (*CommandBuffer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &CommandBuffer{session: s}, nil
}

// Begin starts recording. A command buffer is recorded once.
func (cb *CommandBuffer) Begin() error {
	if cb.state != cbInitial {
		return fmt.Errorf("%w: command buffer already recorded", ErrNotRecording)
	}
	cb.state = cbRecording
	return nil
}

// End finishes recording. A duration left open fails with
// ErrInvalidDurationScope.
func (cb *CommandBuffer) End() error {
	if err := cb.recording(); err != nil {
		return err
	}
	if cb.open != nil {
		return fmt.Errorf("%w: duration still open at End", ErrInvalidDurationScope)
	}
	cb.state = cbExecutable
	return nil
}

// IsExecutable reports whether End succeeded.
func (cb *CommandBuffer) IsExecutable() bool { return cb.state == cbExecutable }

// Len returns the number of recorded device commands.
func (cb *CommandBuffer) Len() int { return len(cb.cmds) }

func (cb *CommandBuffer) recording() error {
	if cb.state != cbRecording {
		return ErrNotRecording
	}
	return nil
}

// Run records node. The node must be initialized.
func (cb *CommandBuffer) Run(node Node) error {
	if err := cb.recording(); err != nil {
		return err
	}
	if node.Session() != cb.session {
		return fmt.Errorf("nodegraph: node %s belongs to another session", node.Name())
	}
	switch node.State() {
	case NodeInit:
	case NodeRunError:
		return fmt.Errorf("%w: %s", ErrNodeFailed, node.Name())
	default:
		return fmt.Errorf("%w: %s", ErrNotInitialized, node.Name())
	}
	if err := node.record(cb); err != nil {
		return err
	}
	cb.nodes = append(cb.nodes, node)
	return nil
}

// MemoryBarrier makes every previous write visible to later commands.
func (cb *CommandBuffer) MemoryBarrier() error {
	if err := cb.recording(); err != nil {
		return err
	}
	cb.barrier()
	return nil
}

func (cb *CommandBuffer) barrier() {
	cb.cmds = append(cb.cmds, &driver.Barrier{})
	if cb.written != nil {
		clear(cb.written)
		clear(cb.read)
	}
}

// orderAccess inserts a barrier before a command that reads a storage
// written since the last barrier, or writes a storage read or written
// since then. It then records the command's accesses.
func (cb *CommandBuffer) orderAccess(reads, writes []any) {
	if cb.written == nil {
		return
	}
	hazard := false
	for _, st := range reads {
		if _, ok := cb.written[st]; ok {
			hazard = true
		}
	}
	for _, st := range writes {
		_, w := cb.written[st]
		_, r := cb.read[st]
		if w || r {
			hazard = true
		}
	}
	if hazard {
		cb.barrier()
	}
	for _, st := range reads {
		cb.read[st] = struct{}{}
	}
	for _, st := range writes {
		cb.written[st] = struct{}{}
	}
}

func (cb *CommandBuffer) checkTransfer(src, dst Resource) error {
	if err := cb.recording(); err != nil {
		return err
	}
	for _, r := range []Resource{src, dst} {
		if r.Memory().session != cb.session {
			return fmt.Errorf("%w: %v", ErrForeignResource, r)
		}
		if err := checkLive(r); err != nil {
			return err
		}
	}
	return nil
}

// CopyBuffer records a copy of src into dst. Sizes must be equal.
func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer) error {
	if err := cb.checkTransfer(src, dst); err != nil {
		return err
	}
	if src.size != dst.size {
		return fmt.Errorf("%w: buffer copy %d -> %d bytes", ErrSizeMismatch, src.size, dst.size)
	}
	s := cb.session
	if err := s.checkBufferUsage(src, BufferUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	if err := s.checkBufferUsage(dst, BufferUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	cb.orderAccess([]any{src}, []any{dst})
	cb.cmds = append(cb.cmds, &driver.CopyBuffer{Src: src.id, Dst: dst.id, Size: src.size})
	return nil
}

// CopyImage records a copy of src into dst. Shapes must be identical.
func (cb *CommandBuffer) CopyImage(src, dst *Image) error {
	if err := cb.checkTransfer(src, dst); err != nil {
		return err
	}
	if src.desc != dst.desc {
		return fmt.Errorf("%w: image copy %v -> %v", ErrSizeMismatch, src.desc, dst.desc)
	}
	s := cb.session
	if err := s.checkImageUsage(src, ImageUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	if err := s.checkImageUsage(dst, ImageUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	cb.orderAccess([]any{src}, []any{dst})
	cb.cmds = append(cb.cmds, &driver.CopyImage{Src: src.id, Dst: dst.id})
	return nil
}

// CopyBufferToImage records a copy of src into dst. The buffer size must
// equal the image byte size.
func (cb *CommandBuffer) CopyBufferToImage(src *Buffer, dst *Image) error {
	if err := cb.checkTransfer(src, dst); err != nil {
		return err
	}
	if src.size != dst.ByteSize() {
		return fmt.Errorf("%w: buffer of %d bytes into image %v", ErrSizeMismatch, src.size, dst.desc)
	}
	s := cb.session
	if err := s.checkBufferUsage(src, BufferUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	if err := s.checkImageUsage(dst, ImageUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	cb.orderAccess([]any{src}, []any{dst})
	cb.cmds = append(cb.cmds, &driver.CopyBufferToImage{Src: src.id, Dst: dst.id})
	return nil
}

// CopyImageToBuffer records a copy of src into dst. The buffer must hold at
// least the image byte size.
func (cb *CommandBuffer) CopyImageToBuffer(src *Image, dst *Buffer) error {
	if err := cb.checkTransfer(src, dst); err != nil {
		return err
	}
	if dst.size < src.ByteSize() {
		return fmt.Errorf("%w: image %v into buffer of %d bytes", ErrSizeMismatch, src.desc, dst.size)
	}
	s := cb.session
	if err := s.checkImageUsage(src, ImageUsageTransferSrc, "copy source"); err != nil {
		return err
	}
	if err := s.checkBufferUsage(dst, BufferUsageTransferDst, "copy destination"); err != nil {
		return err
	}
	cb.orderAccess([]any{src}, []any{dst})
	cb.cmds = append(cb.cmds, &driver.CopyImageToBuffer{Src: src.id, Dst: dst.id})
	return nil
}

// DurationStart opens d. Durations do not nest.
func (cb *CommandBuffer) DurationStart(d *Duration) error {
	if err := cb.recording(); err != nil {
		return err
	}
	if d.session != cb.session {
		return fmt.Errorf("nodegraph: duration belongs to another session")
	}
	if cb.open != nil {
		return fmt.Errorf("%w: duration already open", ErrInvalidDurationScope)
	}
	cb.openQuery = cb.nextQuery
	cb.nextQuery++
	cb.cmds = append(cb.cmds, &driver.Timestamp{Query: cb.openQuery})
	cb.open = d
	return nil
}

// DurationEnd closes d, which must be the open duration.
func (cb *CommandBuffer) DurationEnd(d *Duration) error {
	if err := cb.recording(); err != nil {
		return err
	}
	if cb.open != d {
		return fmt.Errorf("%w: end without matching start", ErrInvalidDurationScope)
	}
	span := durationSpan{d: d, start: cb.openQuery, end: cb.nextQuery}
	cb.nextQuery++
	cb.cmds = append(cb.cmds, &driver.Timestamp{Query: span.end})
	cb.durations = append(cb.durations, span)
	cb.open = nil
	return nil
}
