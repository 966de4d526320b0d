// Package validation wraps a driver.Device with usage checks.
//
// The layer records the usage flags of every buffer and image and inspects
// each submission before forwarding it. Violations are reported to a Sink
// as warnings; the submission still executes, the way GPU validation layers
// flag misuse without changing driver behavior.
package validation

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nodegraph/driver"
)

// Severity classifies a validation message.
type Severity uint8

// Message severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", uint8(s))
	}
}

// Message is one validation report.
type Message struct {
	Severity Severity
	Text     string
}

func (m Message) String() string { return m.Severity.String() + ": " + m.Text }

// Sink receives validation messages. It is called synchronously from the
// goroutine that triggered the check.
type Sink func(Message)

// Layer is a validating driver.Device.
type Layer struct {
	driver.Device

	sink Sink

	mu      sync.Mutex
	buffers map[driver.BufferID]bufferInfo
	images  map[driver.ImageID]imageInfo
}

type bufferInfo struct {
	label string
	size  uint64
	usage gputypes.BufferUsage
}

type imageInfo struct {
	label string
	desc  driver.ImageDescriptor
}

var _ driver.Device = (*Layer)(nil)

// Wrap returns dev with validation. A nil sink discards messages.
func Wrap(dev driver.Device, sink Sink) *Layer {
	if sink == nil {
		sink = func(Message) {}
	}
	return &Layer{
		Device:  dev,
		sink:    sink,
		buffers: make(map[driver.BufferID]bufferInfo),
		images:  make(map[driver.ImageID]imageInfo),
	}
}

// Unwrap returns the wrapped device.
func (l *Layer) Unwrap() driver.Device { return l.Device }

func (l *Layer) warnf(format string, args ...any) {
	l.sink(Message{Severity: SeverityWarning, Text: fmt.Sprintf(format, args...)})
}

// CreateBuffer records the buffer usage.
func (l *Layer) CreateBuffer(desc *driver.BufferDescriptor) (driver.BufferID, error) {
	id, err := l.Device.CreateBuffer(desc)
	if err != nil {
		return id, err
	}
	if desc.Usage == gputypes.BufferUsageNone {
		l.warnf("buffer %q created without usage flags", desc.Label)
	}
	l.mu.Lock()
	l.buffers[id] = bufferInfo{label: desc.Label, size: desc.Size, usage: desc.Usage}
	l.mu.Unlock()
	return id, nil
}

// DestroyBuffer forgets the buffer.
func (l *Layer) DestroyBuffer(id driver.BufferID) {
	l.mu.Lock()
	delete(l.buffers, id)
	l.mu.Unlock()
	l.Device.DestroyBuffer(id)
}

// CreateImage records the image usage.
func (l *Layer) CreateImage(desc *driver.ImageDescriptor) (driver.ImageID, error) {
	id, err := l.Device.CreateImage(desc)
	if err != nil {
		return id, err
	}
	l.mu.Lock()
	l.images[id] = imageInfo{label: desc.Label, desc: *desc}
	l.mu.Unlock()
	return id, nil
}

// DestroyImage forgets the image.
func (l *Layer) DestroyImage(id driver.ImageID) {
	l.mu.Lock()
	delete(l.images, id)
	l.mu.Unlock()
	l.Device.DestroyImage(id)
}

// Submit validates every command, reports violations and forwards the
// submission unchanged.
func (l *Layer) Submit(ctx context.Context, cmds []driver.Command) (*driver.SubmitResult, error) {
	l.mu.Lock()
	for i, cmd := range cmds {
		l.check(i, cmd)
	}
	l.mu.Unlock()
	return l.Device.Submit(ctx, cmds)
}

func (l *Layer) check(i int, cmd driver.Command) {
	switch c := cmd.(type) {
	case *driver.CopyBuffer:
		l.requireBuffer(i, c.Src, gputypes.BufferUsageCopySrc, "copy source")
		l.requireBuffer(i, c.Dst, gputypes.BufferUsageCopyDst, "copy destination")
	case *driver.CopyImage:
		l.requireImage(i, c.Src, gputypes.TextureUsageCopySrc, "copy source")
		l.requireImage(i, c.Dst, gputypes.TextureUsageCopyDst, "copy destination")
	case *driver.CopyBufferToImage:
		l.requireBuffer(i, c.Src, gputypes.BufferUsageCopySrc, "copy source")
		l.requireImage(i, c.Dst, gputypes.TextureUsageCopyDst, "copy destination")
	case *driver.CopyImageToBuffer:
		l.requireImage(i, c.Src, gputypes.TextureUsageCopySrc, "copy source")
		l.requireBuffer(i, c.Dst, gputypes.BufferUsageCopyDst, "copy destination")
	case *driver.Dispatch:
		for _, b := range c.Bindings {
			switch b.Kind {
			case driver.BindingStorageBuffer:
				l.requireBuffer(i, b.Buffer, gputypes.BufferUsageStorage, "storage binding")
			case driver.BindingUniformBuffer:
				l.requireBuffer(i, b.Buffer, gputypes.BufferUsageUniform, "uniform binding")
			case driver.BindingStorageImage:
				l.requireImage(i, b.Image, gputypes.TextureUsageStorageBinding, "storage binding")
			case driver.BindingSampledImage:
				l.requireImage(i, b.Image, gputypes.TextureUsageTextureBinding, "sampled binding")
			}
		}
	}
}

func (l *Layer) requireBuffer(i int, id driver.BufferID, flag gputypes.BufferUsage, role string) {
	info, ok := l.buffers[id]
	if !ok {
		l.warnf("command %d: %s refers to unknown buffer %d", i, role, id)
		return
	}
	if !info.usage.Contains(flag) {
		l.warnf("command %d: buffer %q used as %s without usage %#x (has %#x)",
			i, info.label, role, uint64(flag), uint64(info.usage))
	}
}

func (l *Layer) requireImage(i int, id driver.ImageID, flag gputypes.TextureUsage, role string) {
	info, ok := l.images[id]
	if !ok {
		l.warnf("command %d: %s refers to unknown image %d", i, role, id)
		return
	}
	if info.desc.Usage&flag != flag {
		l.warnf("command %d: image %q used as %s without usage %#x (has %#x)",
			i, info.label, role, uint64(flag), uint64(info.desc.Usage))
	}
}
