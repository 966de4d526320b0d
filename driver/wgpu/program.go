package wgpu

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nodegraph/driver"
)

type program struct {
	label  string
	module hal.ShaderModule
}

// CreateProgram implements driver.Device. WGSL source is preferred over
// SPIR-V when both are present.
func (d *Device) CreateProgram(desc *driver.ProgramDescriptor) (driver.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.InvalidID, driver.ErrDeviceClosed
	}
	var src hal.ShaderSource
	switch {
	case desc.WGSL != "":
		src.WGSL = desc.WGSL
	case len(desc.SPIRV) > 0:
		src.SPIRV = desc.SPIRV
	default:
		return driver.InvalidID, fmt.Errorf("%w: program %q has no code", driver.ErrUnknownKernel, desc.Label)
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: desc.Label, Source: src})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("%w: %s: %w", driver.ErrUnknownKernel, desc.Label, err)
	}
	id := driver.ProgramID(d.id())
	d.programs[id] = &program{label: desc.Label, module: module}
	return id, nil
}

// DestroyProgram implements driver.Device. Pipelines built from the program
// are destroyed with it.
func (d *Device) DestroyProgram(id driver.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[id]
	if !ok {
		return
	}
	d.pipelines.DeleteFunc(func(key pipelineKey, _ *pipeline) bool { return key.program == id })
	d.destroyRetired()
	d.dev.DestroyShaderModule(p.module)
	delete(d.programs, id)
}

// pipelineKey identifies a compute pipeline: a program entry point and the
// layout of the resources bound to it.
type pipelineKey struct {
	program driver.ProgramID
	entry   string
	layout  string
}

type pipeline struct {
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (p *pipeline) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
}

func entryPoint(name string) string {
	if name == "" {
		return "main"
	}
	return name
}

// layoutEntries returns the bind group layout of a dispatch and a string
// signature identifying it.
func (d *Device) layoutEntries(c *driver.Dispatch) ([]gputypes.BindGroupLayoutEntry, string, error) {
	bindings := slices.Clone(c.Bindings)
	slices.SortFunc(bindings, func(a, b driver.Binding) int { return int(a.Index) - int(b.Index) })

	var (
		entries []gputypes.BindGroupLayoutEntry
		sig     strings.Builder
	)
	for _, b := range bindings {
		fmt.Fprintf(&sig, "%d:%s", b.Index, b.Kind)
		entry := gputypes.BindGroupLayoutEntry{Binding: b.Index, Visibility: gputypes.ShaderStageCompute}
		switch b.Kind {
		case driver.BindingStorageBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case driver.BindingUniformBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case driver.BindingStorageImage, driver.BindingSampledImage:
			img, ok := d.images[b.Image]
			if !ok {
				return nil, "", fmt.Errorf("%w: image %d", driver.ErrInvalidID, b.Image)
			}
			format := driver.TextureFormat(img.desc.ChannelType, img.desc.Channels)
			_, viewDim := textureDimension(&img.desc)
			fmt.Fprintf(&sig, "/%v/%v", format, viewDim)
			if b.Kind == driver.BindingStorageImage {
				entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
					Access:        gputypes.StorageTextureAccessReadWrite,
					Format:        format,
					ViewDimension: viewDim,
				}
				break
			}
			sampleType := gputypes.TextureSampleTypeUint
			samplerType := gputypes.SamplerBindingTypeNonFiltering
			if img.desc.ChannelType.IsFloat() {
				sampleType = gputypes.TextureSampleTypeFloat
				samplerType = gputypes.SamplerBindingTypeFiltering
			}
			entry.Texture = &gputypes.TextureBindingLayout{SampleType: sampleType, ViewDimension: viewDim}
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    b.Index + SamplerBindingOffset,
				Visibility: gputypes.ShaderStageCompute,
				Sampler:    &gputypes.SamplerBindingLayout{Type: samplerType},
			})
		default:
			return nil, "", fmt.Errorf("%w: binding kind %v", driver.ErrInvalidCommand, b.Kind)
		}
		entries = append(entries, entry)
		sig.WriteByte(';')
	}
	return entries, sig.String(), nil
}

// pipelineFor returns the cached pipeline of a dispatch, creating it on
// first use.
func (d *Device) pipelineFor(c *driver.Dispatch) (*pipeline, error) {
	prog, ok := d.programs[c.Program]
	if !ok {
		return nil, fmt.Errorf("%w: program %d", driver.ErrInvalidID, c.Program)
	}
	entries, sig, err := d.layoutEntries(c)
	if err != nil {
		return nil, err
	}
	key := pipelineKey{program: c.Program, entry: entryPoint(c.EntryPoint), layout: sig}
	if p, ok := d.pipelines.Get(key); ok {
		return p, nil
	}

	p := &pipeline{}
	p.bindLayout, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   prog.label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	p.pipeLayout, err = d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            prog.label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.destroy(d.dev)
		return nil, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	p.pipeline, err = d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   prog.label,
		Layout:  p.pipeLayout,
		Compute: hal.ComputeState{Module: prog.module, EntryPoint: key.entry},
	})
	if err != nil {
		p.destroy(d.dev)
		return nil, fmt.Errorf("wgpu: create compute pipeline %s: %w", prog.label, err)
	}
	d.pipelines.Set(key, p)
	driver.Logger().Debug("wgpu: pipeline created", "program", prog.label, "layout", sig)
	return p, nil
}

func (d *Device) sampler(s driver.Sampler) (hal.Sampler, error) {
	if smp, ok := d.samplers[s]; ok {
		return smp, nil
	}
	smp, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        "nodegraph_sampler",
		AddressModeU: s.AddressU,
		AddressModeV: s.AddressV,
		AddressModeW: s.AddressW,
		MagFilter:    s.Filter,
		MinFilter:    s.Filter,
		MipmapFilter: s.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create sampler: %w", err)
	}
	d.samplers[s] = smp
	return smp, nil
}

func (d *Device) bindGroup(p *pipeline, c *driver.Dispatch) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		switch b.Kind {
		case driver.BindingStorageBuffer, driver.BindingUniformBuffer:
			buf, ok := d.buffers[b.Buffer]
			if !ok {
				return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidID, b.Buffer)
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  b.Index,
				Resource: gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: 0, Size: buf.desc.Size},
			})
		case driver.BindingStorageImage, driver.BindingSampledImage:
			img := d.images[b.Image]
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  b.Index,
				Resource: gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()},
			})
			if b.Kind == driver.BindingSampledImage {
				smp, err := d.sampler(b.Sampler)
				if err != nil {
					return nil, err
				}
				entries = append(entries, gputypes.BindGroupEntry{
					Binding:  b.Index + SamplerBindingOffset,
					Resource: gputypes.SamplerBinding{Sampler: smp.NativeHandle()},
				})
			}
		}
	}
	bg, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   c.Label,
		Layout:  p.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group: %w", err)
	}
	return bg, nil
}
