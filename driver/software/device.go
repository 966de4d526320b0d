// Package software implements a CPU reference device for nodegraph.
//
// Memory pages are host byte slices and programs execute as Go kernels
// registered with RegisterKernel under the program name. The device is
// always available and is the default test device.
package software

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/internal/parallel"
)

// DefaultMemoryBudget is the total page memory a device may allocate (1 GiB).
const DefaultMemoryBudget = 1 << 30

// Memory type indices exposed by the device.
const (
	MemoryTypeDeviceLocal = iota
	MemoryTypeHostCoherent
	MemoryTypeHostCached
)

func init() {
	driver.Register(driver.NameSoftware, func() driver.Driver { return softwareDriver{} })
}

var _ driver.Device = (*Device)(nil)

type softwareDriver struct{}

func (softwareDriver) Name() string { return driver.NameSoftware }

func (softwareDriver) Open() (driver.Device, error) { return New(), nil }

type page struct {
	flags driver.MemoryFlags
	data  []byte
}

type buffer struct {
	page *page
	desc driver.BufferDescriptor
}

func (b *buffer) bytes() []byte {
	return b.page.data[b.desc.Offset : b.desc.Offset+b.desc.Size]
}

type image struct {
	page *page
	desc driver.ImageDescriptor
}

func (i *image) view() *Image {
	size := i.desc.ByteSize()
	return &Image{
		Width:       i.desc.Width,
		Height:      i.desc.Height,
		Depth:       i.desc.Depth,
		Channels:    i.desc.Channels,
		ChannelType: i.desc.ChannelType,
		data:        i.page.data[i.desc.Offset : i.desc.Offset+size],
	}
}

type program struct {
	label  string
	kernel Kernel
}

// Device is the CPU device.
//
// Device is safe for concurrent use; submissions execute one at a time.
type Device struct {
	mu     sync.Mutex
	budget uint64
	used   uint64
	nextID uint64
	closed bool

	pages    map[driver.MemoryID]*page
	buffers  map[driver.BufferID]*buffer
	images   map[driver.ImageID]*image
	programs map[driver.ProgramID]*program

	workers int
	pool    *parallel.Pool
}

// Option configures a software Device.
type Option func(*Device)

// WithMemoryBudget limits the total bytes of allocated pages.
func WithMemoryBudget(bytes uint64) Option {
	return func(d *Device) { d.budget = bytes }
}

// WithWorkers sets how many goroutines execute the invocations of one
// dispatch. Values below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) { d.workers = n }
}

// New creates a software device.
func New(opts ...Option) *Device {
	d := &Device{
		budget:   DefaultMemoryBudget,
		pages:    make(map[driver.MemoryID]*page),
		buffers:  make(map[driver.BufferID]*buffer),
		images:   make(map[driver.ImageID]*image),
		programs: make(map[driver.ProgramID]*program),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = parallel.NewPool(d.workers)
	return d
}

// Info returns the adapter description.
func (d *Device) Info() driver.Info {
	return driver.Info{
		AdapterInfo: gpucontext.AdapterInfo{Name: "nodegraph software device", Type: gpucontext.AdapterTypeSoftware},
		Driver:      driver.NameSoftware,
		Limits: driver.Limits{
			MinBufferAlignment:      16,
			MaxWorkgroupSize:        [3]uint32{1024, 1024, 64},
			MaxWorkgroupInvocations: 1024,
			MaxBufferSize:           d.budget,
		},
	}
}

// MemoryTypes returns one device-local type and two host-visible types.
// Device-local memory is not host visible, so host transfers to it go
// through staging buffers exactly as on a discrete GPU.
func (d *Device) MemoryTypes() []driver.MemoryType {
	return []driver.MemoryType{
		MemoryTypeDeviceLocal:  {Flags: driver.MemoryDeviceLocal, HeapSize: d.budget},
		MemoryTypeHostCoherent: {Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapSize: d.budget},
		MemoryTypeHostCached:   {Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent | driver.MemoryHostCached, HeapSize: d.budget},
	}
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// AllocateMemory allocates a zeroed page.
func (d *Device) AllocateMemory(typeIndex int, size uint64) (driver.MemoryID, error) {
	types := d.MemoryTypes()
	if typeIndex < 0 || typeIndex >= len(types) {
		return driver.InvalidID, fmt.Errorf("%w: memory type %d", driver.ErrInvalidID, typeIndex)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	if d.used+size > d.budget {
		return driver.InvalidID, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			driver.ErrOutOfMemory, size, d.used, d.budget)
	}
	d.used += size
	id := driver.MemoryID(d.newID())
	d.pages[id] = &page{flags: types[typeIndex].Flags, data: make([]byte, size)}
	driver.Logger().Debug("software: page allocated", "id", id, "size", size)
	return id, nil
}

// FreeMemory releases a page.
func (d *Device) FreeMemory(id driver.MemoryID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pages[id]; ok {
		d.used -= uint64(len(p.data))
		delete(d.pages, id)
	}
}

// CreateBuffer places a buffer inside a page.
func (d *Device) CreateBuffer(desc *driver.BufferDescriptor) (driver.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.placement(desc.Memory, desc.Offset, desc.Size)
	if err != nil {
		return driver.InvalidID, err
	}
	id := driver.BufferID(d.newID())
	d.buffers[id] = &buffer{page: p, desc: *desc}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id driver.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// CreateImage places an image inside a page.
func (d *Device) CreateImage(desc *driver.ImageDescriptor) (driver.ImageID, error) {
	if !desc.ChannelType.Valid() || desc.Channels == 0 || desc.Channels > 4 {
		return driver.InvalidID, fmt.Errorf("%w: image format %v x%d", driver.ErrInvalidCommand, desc.ChannelType, desc.Channels)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.placement(desc.Memory, desc.Offset, desc.ByteSize())
	if err != nil {
		return driver.InvalidID, err
	}
	id := driver.ImageID(d.newID())
	d.images[id] = &image{page: p, desc: *desc}
	return id, nil
}

// DestroyImage releases an image.
func (d *Device) DestroyImage(id driver.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, id)
}

func (d *Device) placement(mem driver.MemoryID, offset, size uint64) (*page, error) {
	if d.closed {
		return nil, driver.ErrDeviceClosed
	}
	p, ok := d.pages[mem]
	if !ok {
		return nil, fmt.Errorf("%w: memory %d", driver.ErrInvalidID, mem)
	}
	if size == 0 || offset+size > uint64(len(p.data)) {
		return nil, fmt.Errorf("%w: [%d, %d) in page of %d bytes", driver.ErrOutOfRange, offset, offset+size, len(p.data))
	}
	return p, nil
}

func (d *Device) hostBuffer(id driver.BufferID, offset uint64, n int) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, id)
	}
	if !b.page.flags.Contains(driver.MemoryHostVisible) {
		return nil, driver.ErrNotHostVisible
	}
	if offset+uint64(n) > b.desc.Size {
		return nil, fmt.Errorf("%w: [%d, %d) in buffer of %d bytes", driver.ErrOutOfRange, offset, offset+uint64(n), b.desc.Size)
	}
	return b.bytes()[offset : offset+uint64(n)], nil
}

// WriteBuffer copies data into a host-visible buffer.
func (d *Device) WriteBuffer(id driver.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// ReadBuffer copies from a host-visible buffer.
func (d *Device) ReadBuffer(id driver.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	src, err := d.hostBuffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(data, src)
	return nil
}

// CreateProgram binds the program to the kernel registered under its label.
func (d *Device) CreateProgram(desc *driver.ProgramDescriptor) (driver.ProgramID, error) {
	k, ok := LookupKernel(desc.Label)
	if !ok {
		return driver.InvalidID, fmt.Errorf("%w: %q", driver.ErrUnknownKernel, desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	id := driver.ProgramID(d.newID())
	d.programs[id] = &program{label: desc.Label, kernel: k}
	return id, nil
}

// DestroyProgram releases a program.
func (d *Device) DestroyProgram(id driver.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
}

// Submit executes commands in order on the calling goroutine.
func (d *Device) Submit(ctx context.Context, cmds []driver.Command) (*driver.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, driver.ErrDeviceClosed
	}

	start := time.Now()
	result := &driver.SubmitResult{Timestamps: make(map[uint32]time.Duration)}
	for i, cmd := range cmds {
		if err := d.execute(cmd, start, result); err != nil {
			return nil, fmt.Errorf("command %d (%T): %w", i, cmd, err)
		}
	}
	return result, nil
}

func (d *Device) execute(cmd driver.Command, start time.Time, result *driver.SubmitResult) error {
	switch c := cmd.(type) {
	case *driver.Dispatch:
		return d.dispatch(c)
	case *driver.Barrier:
		// Commands execute sequentially; every write is already visible.
		return nil
	case *driver.Timestamp:
		result.Timestamps[c.Query] = time.Since(start)
		return nil
	case *driver.CopyBuffer:
		src, err := d.bufferRange(c.Src, c.SrcOffset, c.Size)
		if err != nil {
			return err
		}
		dst, err := d.bufferRange(c.Dst, c.DstOffset, c.Size)
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	case *driver.CopyImage:
		src, ok := d.images[c.Src]
		dst, ok2 := d.images[c.Dst]
		if !ok || !ok2 {
			return fmt.Errorf("%w: image copy %d -> %d", driver.ErrInvalidID, c.Src, c.Dst)
		}
		if src.desc.ByteSize() != dst.desc.ByteSize() {
			return fmt.Errorf("%w: image copy size %d != %d", driver.ErrInvalidCommand, src.desc.ByteSize(), dst.desc.ByteSize())
		}
		copy(dst.view().Bytes(), src.view().Bytes())
		return nil
	case *driver.CopyBufferToImage:
		dst, ok := d.images[c.Dst]
		if !ok {
			return fmt.Errorf("%w: image %d", driver.ErrInvalidID, c.Dst)
		}
		src, err := d.bufferRange(c.Src, c.SrcOffset, dst.desc.ByteSize())
		if err != nil {
			return err
		}
		copy(dst.view().Bytes(), src)
		return nil
	case *driver.CopyImageToBuffer:
		src, ok := d.images[c.Src]
		if !ok {
			return fmt.Errorf("%w: image %d", driver.ErrInvalidID, c.Src)
		}
		dst, err := d.bufferRange(c.Dst, c.DstOffset, src.desc.ByteSize())
		if err != nil {
			return err
		}
		copy(dst, src.view().Bytes())
		return nil
	default:
		return fmt.Errorf("%w: %T", driver.ErrInvalidCommand, cmd)
	}
}

func (d *Device) bufferRange(id driver.BufferID, offset, size uint64) ([]byte, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, id)
	}
	if offset+size > b.desc.Size {
		return nil, fmt.Errorf("%w: [%d, %d) in buffer of %d bytes", driver.ErrOutOfRange, offset, offset+size, b.desc.Size)
	}
	return b.bytes()[offset : offset+size], nil
}

func (d *Device) dispatch(c *driver.Dispatch) error {
	p, ok := d.programs[c.Program]
	if !ok {
		return fmt.Errorf("%w: program %d", driver.ErrInvalidID, c.Program)
	}
	disp := &Dispatch{
		EntryPoint:    c.EntryPoint,
		Grid:          c.Grid,
		Local:         c.Local,
		PushConstants: c.PushConstants,
		bindings:      make(map[uint32]*binding, len(c.Bindings)),
		pool:          d.pool,
	}
	for _, b := range c.Bindings {
		entry := &binding{kind: b.Kind, sampler: b.Sampler}
		if b.Kind.IsImage() {
			img, ok := d.images[b.Image]
			if !ok {
				return fmt.Errorf("%w: image %d at binding %d", driver.ErrInvalidID, b.Image, b.Index)
			}
			entry.image = img.view()
		} else {
			buf, ok := d.buffers[b.Buffer]
			if !ok {
				return fmt.Errorf("%w: buffer %d at binding %d", driver.ErrInvalidID, b.Buffer, b.Index)
			}
			entry.data = buf.bytes()
		}
		disp.bindings[b.Index] = entry
	}
	driver.Logger().Debug("software: dispatch", "program", p.label, "grid", c.Grid, "local", c.Local)
	if err := p.kernel(disp); err != nil {
		return fmt.Errorf("kernel %q: %w", p.label, err)
	}
	return nil
}

// Close releases every object created from the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pool.Close()
	d.pages = make(map[driver.MemoryID]*page)
	d.buffers = make(map[driver.BufferID]*buffer)
	d.images = make(map[driver.ImageID]*image)
	d.programs = make(map[driver.ProgramID]*program)
	d.used = 0
	return nil
}

// MemoryInUse returns the total bytes of allocated pages.
func (d *Device) MemoryInUse() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}
