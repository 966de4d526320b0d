package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Vulkan registers itself with hal via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/nodegraph/driver"
	"github.com/gogpu/nodegraph/internal/cache"
)

// Memory type indices exposed by the device.
const (
	MemoryTypeDeviceLocal = iota
	MemoryTypeHostVisible
)

// SamplerBindingOffset is added to the binding index of a sampled image to
// obtain the binding index of its sampler.
const SamplerBindingOffset = 16

// ErrNoAdapter is returned by Open when no GPU adapter is found.
var ErrNoAdapter = errors.New("wgpu: no GPU adapter")

func init() {
	driver.Register(driver.NameWGPU, func() driver.Driver { return wgpuDriver{} })
}

var _ driver.Device = (*Device)(nil)

type wgpuDriver struct{}

func (wgpuDriver) Name() string { return driver.NameWGPU }

func (wgpuDriver) Open() (driver.Device, error) { return Open() }

type page struct {
	typeIndex int
	size      uint64
}

type buffer struct {
	raw  hal.Buffer
	desc driver.BufferDescriptor
}

type image struct {
	tex  hal.Texture
	view hal.TextureView
	desc driver.ImageDescriptor
}

// Device is a GPU device opened through wgpu/hal.
//
// Device is safe for concurrent use; submissions execute one at a time.
type Device struct {
	mu     sync.Mutex
	nextID uint64
	closed bool

	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue
	info     driver.Info

	pages     map[driver.MemoryID]*page
	buffers   map[driver.BufferID]*buffer
	images    map[driver.ImageID]*image
	programs  map[driver.ProgramID]*program
	pipelines *cache.Cache[pipelineKey, *pipeline]
	samplers  map[driver.Sampler]hal.Sampler

	// retired holds evicted pipelines until no submission can use them.
	retired []*pipeline
}

// pipelineCacheSize is the soft limit of compiled pipelines kept per device.
const pipelineCacheSize = 128

// Open creates a device on the first discrete or integrated GPU, falling
// back to the first adapter found.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", driver.ErrDriverNotAvailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := &Device{
		instance: instance,
		dev:      openDev.Device,
		queue:    openDev.Queue,
		info: driver.Info{
			AdapterInfo: gpucontext.AdapterInfo{Name: selected.Info.Name},
			Driver:      driver.NameWGPU,
			Limits: driver.Limits{
				MinBufferAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
				MaxWorkgroupSize: [3]uint32{
					limits.MaxComputeWorkgroupSizeX,
					limits.MaxComputeWorkgroupSizeY,
					limits.MaxComputeWorkgroupSizeZ,
				},
				MaxWorkgroupInvocations: limits.MaxComputeInvocationsPerWorkgroup,
				MaxBufferSize:           limits.MaxBufferSize,
			},
		},
		pages:    make(map[driver.MemoryID]*page),
		buffers:  make(map[driver.BufferID]*buffer),
		images:   make(map[driver.ImageID]*image),
		programs: make(map[driver.ProgramID]*program),
		samplers: make(map[driver.Sampler]hal.Sampler),
	}
	d.pipelines = cache.New(pipelineCacheSize, func(_ pipelineKey, p *pipeline) {
		d.retired = append(d.retired, p)
	})
	driver.Logger().Info("wgpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// Info implements driver.Device.
func (d *Device) Info() driver.Info { return d.info }

// MemoryTypes implements driver.Device.
func (d *Device) MemoryTypes() []driver.MemoryType {
	return []driver.MemoryType{
		MemoryTypeDeviceLocal: {Flags: driver.MemoryDeviceLocal},
		MemoryTypeHostVisible: {Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent},
	}
}

// AllocateMemory implements driver.Device.
func (d *Device) AllocateMemory(typeIndex int, size uint64) (driver.MemoryID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	if typeIndex < 0 || typeIndex > MemoryTypeHostVisible {
		return driver.InvalidID, fmt.Errorf("%w: memory type %d", driver.ErrInvalidID, typeIndex)
	}
	id := driver.MemoryID(d.id())
	d.pages[id] = &page{typeIndex: typeIndex, size: size}
	driver.Logger().Debug("wgpu: allocate page", "id", id, "type", typeIndex, "size", size)
	return id, nil
}

// FreeMemory implements driver.Device.
func (d *Device) FreeMemory(id driver.MemoryID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pages, id)
}

// placement validates that [offset, offset+size) fits inside page id.
func (d *Device) placement(id driver.MemoryID, offset, size uint64) (*page, error) {
	p, ok := d.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %d", driver.ErrInvalidID, id)
	}
	if offset+size > p.size || offset+size < offset {
		return nil, fmt.Errorf("%w: [%d, %d) in page of %d bytes", driver.ErrOutOfRange, offset, offset+size, p.size)
	}
	return p, nil
}

// Close implements driver.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.pipelines.Clear()
	d.destroyRetired()
	for id, s := range d.samplers {
		d.dev.DestroySampler(s)
		delete(d.samplers, id)
	}
	for id, p := range d.programs {
		d.dev.DestroyShaderModule(p.module)
		delete(d.programs, id)
	}
	for id, img := range d.images {
		d.destroyImage(img)
		delete(d.images, id)
	}
	for id, b := range d.buffers {
		d.dev.DestroyBuffer(b.raw)
		delete(d.buffers, id)
	}
	clear(d.pages)

	d.dev.Destroy()
	d.instance.Destroy()
	return nil
}

// destroyRetired releases evicted pipelines. Caller must hold d.mu with no
// submission in flight.
func (d *Device) destroyRetired() {
	for _, p := range d.retired {
		p.destroy(d.dev)
	}
	d.retired = d.retired[:0]
}
