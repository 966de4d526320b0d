package nodegraph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/nodegraph/driver"
	// The software driver is always linked so a session can be created
	// without a GPU.
	_ "github.com/gogpu/nodegraph/driver/software"
	"github.com/gogpu/nodegraph/driver/validation"
)

// Session owns a compute device, the program table, the node builder
// registry and the debug channel. All other objects are created through it.
//
// Graph construction is expected to happen on one goroutine. Submissions
// (Run, RunCommandBuffer, host transfers) are serialized by the session.
type Session struct {
	dev          driver.Device
	info         driver.Info
	debug        *debugChannel
	debugEnabled bool
	pageSize     uint64

	// submitMu serializes device submissions.
	submitMu sync.Mutex

	builders *builderRegistry
	programs *programTable

	memMu        sync.Mutex
	memories     []*Memory
	hostMemory   *Memory
	deviceMemory *Memory

	// composing is the builder stack of containers running Compose.
	composing []string

	nodeSeq   atomic.Uint64
	durations atomic.Uint32
	closed    atomic.Bool
}

// NewSession opens a device and creates a session on it.
//
// Without options the best registered driver is used (wgpu if linked and an
// adapter is present, otherwise the software device). The device must
// expose a DeviceLocal memory type and a HostVisible|HostCoherent type.
func NewSession(opts ...Option) (*Session, error) {
	o := defaultSessionOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev := o.device
	if dev == nil {
		var err error
		if o.driverName != "" {
			dev, err = driver.Open(o.driverName)
		} else {
			dev, err = driver.OpenDefault()
		}
		if err != nil {
			return nil, fmt.Errorf("nodegraph: open device: %w", err)
		}
	}

	if err := checkMemoryTypes(dev.MemoryTypes()); err != nil {
		_ = dev.Close()
		return nil, err
	}

	s := &Session{
		info:         dev.Info(),
		debug:        &debugChannel{},
		debugEnabled: o.debug,
		pageSize:     o.pageSize,
		builders:     newBuilderRegistry(),
		programs:     newProgramTable(),
	}
	if o.debug {
		s.dev = validation.Wrap(dev, s.debug.receive)
	} else {
		s.dev = dev
	}

	Logger().Info("nodegraph: session created",
		"device", s.info.Name, "driver", s.info.Driver, "debug", o.debug)
	return s, nil
}

func checkMemoryTypes(types []driver.MemoryType) error {
	var deviceLocal, hostCoherent bool
	for _, t := range types {
		if t.Flags.Contains(driver.MemoryDeviceLocal) {
			deviceLocal = true
		}
		if t.Flags.Contains(driver.MemoryHostVisible | driver.MemoryHostCoherent) {
			hostCoherent = true
		}
	}
	if !deviceLocal || !hostCoherent {
		return fmt.Errorf("%w: device needs DeviceLocal and HostVisible|HostCoherent memory types",
			ErrUnsupportedMemoryFlags)
	}
	return nil
}

// Info returns the device description.
func (s *Session) Info() driver.Info { return s.info }

// Device returns the device the session submits to. With debug enabled it
// is the validation layer wrapping the opened device.
func (s *Session) Device() driver.Device { return s.dev }

// MemoryTypes returns the device memory types.
func (s *Session) MemoryTypes() []driver.MemoryType { return s.dev.MemoryTypes() }

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// HostMemory returns the session's HostVisible|HostCoherent memory, used for
// staging buffers. It is created on first use with page size 0.
func (s *Session) HostMemory() (*Memory, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if s.hostMemory == nil {
		m, err := s.createMemoryLocked(MemoryHostVisible|MemoryHostCoherent, 0, false)
		if err != nil {
			return nil, err
		}
		s.hostMemory = m
	}
	return s.hostMemory, nil
}

// DeviceMemory returns the session's DeviceLocal memory, which holds
// node-owned outputs unless a node selects another memory.
func (s *Session) DeviceMemory() (*Memory, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if s.deviceMemory == nil {
		m, err := s.createMemoryLocked(MemoryDeviceLocal, s.pageSize, false)
		if err != nil {
			return nil, err
		}
		s.deviceMemory = m
	}
	return s.deviceMemory, nil
}

// GoodComputeLocalShape returns a local shape suited to a dispatch over
// dims dimensions (1, 2 or 3).
func (s *Session) GoodComputeLocalShape(dims int) [3]uint32 {
	switch dims {
	case 1:
		return [3]uint32{256, 1, 1}
	case 2:
		return [3]uint32{32, 32, 1}
	default:
		return [3]uint32{8, 8, 8}
	}
}

// Run records node into a fresh command buffer, submits it and waits for
// completion. The node must be initialized.
func (s *Session) Run(ctx context.Context, node Node) error {
	cb, err := s.CreateCommandBuffer()
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	if err := cb.Run(node); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	return s.RunCommandBuffer(ctx, cb)
}

// RunCommandBuffer submits cb and waits for completion. A command buffer
// may be submitted any number of times.
//
// On a device error the nodes recorded in cb move to the RunError state;
// the session remains usable.
func (s *Session) RunCommandBuffer(ctx context.Context, cb *CommandBuffer) error {
	if cb.session != s {
		return fmt.Errorf("nodegraph: command buffer belongs to another session")
	}
	if cb.state != cbExecutable {
		return ErrNotRecorded
	}
	for _, n := range cb.nodes {
		if n.State() == NodeRunError {
			return fmt.Errorf("%w: %s", ErrNodeFailed, n.Name())
		}
	}

	res, err := s.submit(ctx, cb.cmds)
	if err != nil {
		for _, n := range cb.nodes {
			failNode(n, err)
		}
		return err
	}
	for _, span := range cb.durations {
		span.update(res)
	}
	return nil
}

// submit sends cmds to the device, serialized with other submissions.
func (s *Session) submit(ctx context.Context, cmds []driver.Command) (*driver.SubmitResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	Logger().Debug("nodegraph: submit", "commands", len(cmds))
	res, err := s.dev.Submit(ctx, cmds)
	if err != nil {
		return nil, fmt.Errorf("nodegraph: submit: %w", err)
	}
	return res, nil
}

// Close releases every memory, resource and program created through the
// session, then closes the device. Close is idempotent.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.memMu.Lock()
	memories := s.memories
	s.memories = nil
	s.hostMemory, s.deviceMemory = nil, nil
	s.memMu.Unlock()

	for _, m := range memories {
		m.release()
	}
	s.programs.release(s.dev)

	Logger().Info("nodegraph: session closed", "device", s.info.Name)
	return s.dev.Close()
}

func (s *Session) nextNodeName(builder string) string {
	return fmt.Sprintf("%s#%d", builder, s.nodeSeq.Add(1))
}
