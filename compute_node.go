package nodegraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/nodegraph/driver"
)

// ComputeNode dispatches one program over a grid of workgroups.
type ComputeNode struct {
	nodeBase

	program   *Program
	local     [3]uint32
	grid      [3]uint32
	gridSet   bool
	push      []byte
	pushSet   bool
	outMemory *Memory
	dispatch  *driver.Dispatch
}

var _ Node = (*ComputeNode)(nil)

func newComputeNode(s *Session, desc *NodeDescriptor) *ComputeNode {
	n := &ComputeNode{local: desc.LocalSize}
	n.setup(n, s, desc)
	if n.local == ([3]uint32{}) {
		n.local = s.GoodComputeLocalShape(2)
	}
	for i := range n.local {
		if n.local[i] == 0 {
			n.local[i] = 1
		}
	}
	return n
}

// Port returns a declared port.
func (n *ComputeNode) Port(name string) (*Port, error) { return n.ownPort(name) }

// Program returns the program acquired at Init, or nil.
func (n *ComputeNode) Program() *Program { return n.program }

// LocalShape returns the workgroup size.
func (n *ComputeNode) LocalShape() [3]uint32 { return n.local }

// GridShape returns the number of workgroups per axis. Before Init it is
// zero unless set explicitly.
func (n *ComputeNode) GridShape() [3]uint32 { return n.grid }

// PushConstants returns the push-constant bytes.
func (n *ComputeNode) PushConstants() []byte { return slices.Clone(n.push) }

func (n *ComputeNode) requireCreated(what string) error {
	if n.state != NodeCreated {
		return fmt.Errorf("%w: %s on %s", ErrAlreadyInitialized, what, n.name)
	}
	return nil
}

// SetLocalShape overrides the workgroup size. Every axis must be > 0.
func (n *ComputeNode) SetLocalShape(local [3]uint32) error {
	if err := n.requireCreated("set local shape"); err != nil {
		return err
	}
	if local[0] == 0 || local[1] == 0 || local[2] == 0 {
		return fmt.Errorf("%w: local shape %v", ErrInvalidGridShape, local)
	}
	n.local = local
	return nil
}

// SetGridShape sets the grid explicitly, overriding the port-derived grid.
func (n *ComputeNode) SetGridShape(grid [3]uint32) error {
	if err := n.requireCreated("set grid shape"); err != nil {
		return err
	}
	if grid[0] == 0 || grid[1] == 0 || grid[2] == 0 {
		return fmt.Errorf("%w: grid shape %v", ErrInvalidGridShape, grid)
	}
	n.grid = grid
	n.gridSet = true
	return nil
}

// SetPushConstants replaces the push-constant block computed from the
// descriptor.
func (n *ComputeNode) SetPushConstants(data []byte) error {
	if err := n.requireCreated("set push constants"); err != nil {
		return err
	}
	n.push = slices.Clone(data)
	n.pushSet = true
	return nil
}

// SetOutputMemory selects the memory for node-owned outputs. The default is
// the session's DeviceLocal memory.
func (n *ComputeNode) SetOutputMemory(m *Memory) error {
	if err := n.requireCreated("set output memory"); err != nil {
		return err
	}
	if m.session != n.session {
		return fmt.Errorf("nodegraph: output memory of %s belongs to another session", n.name)
	}
	n.outMemory = m
	return nil
}

// PortImageDescriptor returns the shape of the image bound to port, for
// use by output rules.
func (n *ComputeNode) PortImageDescriptor(port string) (ImageDescriptor, error) {
	p, err := n.ownPort(port)
	if err != nil {
		return ImageDescriptor{}, fmt.Errorf("%w: %w", ErrUnresolvedOutputShape, err)
	}
	img := p.Image()
	if img == nil {
		return ImageDescriptor{}, fmt.Errorf("%w: port %q has no image bound", ErrUnresolvedOutputShape, port)
	}
	return img.desc, nil
}

// PortBufferSize returns the size of the buffer bound to port.
func (n *ComputeNode) PortBufferSize(port string) (uint64, error) {
	p, err := n.ownPort(port)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnresolvedOutputShape, err)
	}
	b := p.Buffer()
	if b == nil {
		return 0, fmt.Errorf("%w: port %q has no buffer bound", ErrUnresolvedOutputShape, port)
	}
	return b.size, nil
}

// Init validates bindings, allocates node-owned outputs, resolves the grid,
// acquires the program and encodes push constants. On failure the node
// moves to RunError.
func (n *ComputeNode) Init() error {
	if err := n.beginInit(); err != nil {
		return err
	}
	err := n.init()
	if err != nil {
		n.releaseOutputs()
	}
	return n.finishInit(err)
}

func (n *ComputeNode) init() error {
	if err := n.checkBindings(true); err != nil {
		return err
	}
	if err := n.allocateOutputs(); err != nil {
		return err
	}
	if err := n.resolveGrid(); err != nil {
		return err
	}

	prog, err := n.session.GetProgram(n.desc.Program)
	if err != nil {
		return err
	}
	n.program = prog

	if !n.pushSet {
		push, err := encodePushConstants(n, n.desc.PushConstants)
		if err != nil {
			return err
		}
		n.push = push
	}

	n.dispatch = n.buildDispatch()

	if n.desc.OnInit != nil {
		if err := n.desc.OnInit(n); err != nil {
			return err
		}
	}
	return nil
}

func (n *ComputeNode) allocateOutputs() error {
	for _, name := range n.order {
		p := n.ports[name]
		if p.IsBound() || !p.desc.IsNodeOwned() {
			continue
		}
		mem := n.outMemory
		if mem == nil {
			var err error
			if mem, err = n.session.DeviceMemory(); err != nil {
				return err
			}
		}
		r, err := n.allocateOutput(mem, &p.desc)
		if err != nil {
			return fmt.Errorf("port %q: %w", name, err)
		}
		p.resource = r
		p.owned = true
	}
	return nil
}

func (n *ComputeNode) allocateOutput(mem *Memory, pd *PortDescriptor) (Resource, error) {
	rule := pd.Output
	if pd.Type.IsImage() {
		if rule.Image == nil {
			return nil, fmt.Errorf("%w: no image rule", ErrUnresolvedOutputShape)
		}
		desc, err := rule.Image(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnresolvedOutputShape, err)
		}
		if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvedOutputShape, desc)
		}
		usage := rule.ImageUsage
		if usage == 0 {
			usage = ImageUsageAll
		}
		img, err := mem.CreateImage(desc, usage)
		if err != nil {
			return nil, err
		}
		if pd.Type == PortImage {
			return img, nil
		}
		vd := rule.View
		vd.Sampled = pd.Type == PortSampledImageView
		return img.CreateView(vd)
	}

	if rule.BufferSize == nil {
		return nil, fmt.Errorf("%w: no size rule", ErrUnresolvedOutputShape)
	}
	size, err := rule.BufferSize(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresolvedOutputShape, err)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size buffer", ErrUnresolvedOutputShape)
	}
	usage := rule.BufferUsage
	if usage == 0 {
		usage = BufferUsageStorage | BufferUsageTransferSrc | BufferUsageTransferDst
		if pd.Type == PortUniformBuffer {
			usage |= BufferUsageUniform
		}
	}
	return mem.CreateBuffer(size, usage)
}

// releaseOutputs frees resources allocated by a failed Init.
func (n *ComputeNode) releaseOutputs() {
	for _, p := range n.ports {
		if !p.owned {
			continue
		}
		if img := p.Image(); img != nil {
			img.Release()
		} else if b := p.Buffer(); b != nil {
			b.Release()
		}
		p.resource = nil
		p.owned = false
	}
}

// gridReference returns the port the grid is derived from: GridFrom, else
// the first out-port, else the first port.
func (n *ComputeNode) gridReference() *Port {
	if n.desc.GridFrom != "" {
		return n.ports[n.desc.GridFrom]
	}
	for _, name := range n.order {
		if p := n.ports[name]; p.desc.Direction == PortOut {
			return p
		}
	}
	if len(n.order) > 0 {
		return n.ports[n.order[0]]
	}
	return nil
}

func (n *ComputeNode) resolveGrid() error {
	limits := n.session.info.Limits
	for i, l := range n.local {
		if limit := limits.MaxWorkgroupSize[i]; limit != 0 && l > limit {
			return fmt.Errorf("%w: local size %v exceeds device limit %v", ErrInvalidGridShape, n.local, limits.MaxWorkgroupSize)
		}
	}

	if !n.gridSet {
		ref := n.gridReference()
		if ref == nil || !ref.IsBound() {
			return fmt.Errorf("%w: no grid reference", ErrInvalidGridShape)
		}
		var extent [3]uint32
		if img := ref.Image(); img != nil {
			extent = [3]uint32{img.desc.Width, img.desc.Height, img.desc.Depth}
		} else {
			elem := n.desc.GridElementSize
			if elem == 0 {
				elem = 1
			}
			extent = [3]uint32{uint32(ref.Buffer().size / elem), 1, 1}
		}
		n.grid = driver.GridSize(extent, n.local)
	}
	if n.grid[0] == 0 || n.grid[1] == 0 || n.grid[2] == 0 {
		return fmt.Errorf("%w: grid %v", ErrInvalidGridShape, n.grid)
	}
	return nil
}

func (n *ComputeNode) buildDispatch() *driver.Dispatch {
	d := &driver.Dispatch{
		Label:         n.name,
		Program:       n.program.id,
		EntryPoint:    n.desc.EntryPoint,
		Grid:          n.grid,
		Local:         n.local,
		PushConstants: n.push,
	}
	if d.EntryPoint == "" {
		d.EntryPoint = "main"
	}
	ports := make([]*Port, 0, len(n.ports))
	for _, p := range n.ports {
		if p.IsBound() {
			ports = append(ports, p)
		}
	}
	slices.SortFunc(ports, func(a, b *Port) int { return int(a.desc.Binding) - int(b.desc.Binding) })

	for _, p := range ports {
		b := driver.Binding{Index: p.desc.Binding}
		switch r := p.resource.(type) {
		case *Buffer:
			b.Kind = driver.BindingStorageBuffer
			if p.desc.Type == PortUniformBuffer {
				b.Kind = driver.BindingUniformBuffer
			}
			b.Buffer = r.id
		case *Image:
			b.Kind = driver.BindingStorageImage
			b.Image = r.id
		case *ImageView:
			b.Kind = driver.BindingStorageImage
			if r.desc.Sampled {
				b.Kind = driver.BindingSampledImage
				b.Sampler = r.sampler()
			}
			b.Image = r.image.id
		}
		d.Bindings = append(d.Bindings, b)
	}
	return d
}

// accesses returns the storages read and written by the dispatch.
func (n *ComputeNode) accesses() (reads, writes []any) {
	for _, name := range n.order {
		p := n.ports[name]
		if !p.IsBound() {
			continue
		}
		if p.desc.Direction == PortIn {
			reads = append(reads, p.resource.storage())
		} else {
			writes = append(writes, p.resource.storage())
		}
	}
	return reads, writes
}

func (n *ComputeNode) record(cb *CommandBuffer) error {
	reads, writes := n.accesses()
	cb.orderAccess(reads, writes)
	cb.cmds = append(cb.cmds, n.dispatch)
	return nil
}
