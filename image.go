package nodegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nodegraph/driver"
)

// ChannelType is the scalar type of one image channel.
type ChannelType = driver.ChannelType

// Channel types.
const (
	ChannelUint8   = driver.ChannelUint8
	ChannelUint16  = driver.ChannelUint16
	ChannelUint32  = driver.ChannelUint32
	ChannelFloat16 = driver.ChannelFloat16
	ChannelFloat32 = driver.ChannelFloat32
)

// ParseChannelType converts a channel type name such as "uint8".
func ParseChannelType(s string) (ChannelType, error) { return driver.ParseChannelType(s) }

// ImageUsage is a set of image usage flags.
type ImageUsage = gputypes.TextureUsage

// Image usage flags.
const (
	ImageUsageTransferSrc = gputypes.TextureUsageCopySrc
	ImageUsageTransferDst = gputypes.TextureUsageCopyDst
	ImageUsageSampled     = gputypes.TextureUsageTextureBinding
	ImageUsageStorage     = gputypes.TextureUsageStorageBinding
)

// ImageUsageAll is the usage of node-owned images.
const ImageUsageAll = ImageUsageTransferSrc | ImageUsageTransferDst | ImageUsageSampled | ImageUsageStorage

// ImageDescriptor is the shape and channel format of an image.
type ImageDescriptor struct {
	Depth       uint32
	Height      uint32
	Width       uint32
	Channels    uint32
	ChannelType ChannelType
}

// NewImageDescriptor returns the descriptor of a (depth, height, width,
// channels) image.
func NewImageDescriptor(depth, height, width, channels uint32, ct ChannelType) ImageDescriptor {
	return ImageDescriptor{Depth: depth, Height: height, Width: width, Channels: channels, ChannelType: ct}
}

// Validate checks that every dimension is > 0, channels is in [1,4] and
// the channel type is known.
func (d ImageDescriptor) Validate() error {
	if d.Depth == 0 || d.Height == 0 || d.Width == 0 {
		return fmt.Errorf("%w: (d=%d, h=%d, w=%d)", ErrInvalidShape, d.Depth, d.Height, d.Width)
	}
	if d.Channels < 1 || d.Channels > 4 {
		return fmt.Errorf("%w: %d channels", ErrInvalidShape, d.Channels)
	}
	if !d.ChannelType.Valid() {
		return fmt.Errorf("%w: channel type %v", ErrInvalidShape, d.ChannelType)
	}
	return nil
}

// TexelSize returns the byte size of one texel.
func (d ImageDescriptor) TexelSize() uint64 {
	return uint64(d.Channels) * uint64(d.ChannelType.Size())
}

// ByteSize returns the linear storage size.
func (d ImageDescriptor) ByteSize() uint64 {
	return uint64(d.Depth) * uint64(d.Height) * uint64(d.Width) * d.TexelSize()
}

func (d ImageDescriptor) String() string {
	return fmt.Sprintf("%dx%dx%d %s x%d", d.Depth, d.Height, d.Width, d.ChannelType, d.Channels)
}

// Image is a (depth, height, width) texel grid placed in a Memory. Texels
// are stored linearly, row-major over (z, y, x, channel).
type Image struct {
	memory   *Memory
	id       driver.ImageID
	alloc    allocation
	desc     ImageDescriptor
	usage    ImageUsage
	label    string
	released bool
}

// CreateImage allocates an image.
func (m *Memory) CreateImage(desc ImageDescriptor, usage ImageUsage) (*Image, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := m.session.checkOpen(); err != nil {
		return nil, err
	}

	a, err := m.allocate(desc.ByteSize())
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("image@%d+%d", a.page.id, a.Offset)
	id, err := m.session.dev.CreateImage(&driver.ImageDescriptor{
		Label:       label,
		Memory:      a.page.id,
		Offset:      a.Offset,
		Width:       desc.Width,
		Height:      desc.Height,
		Depth:       desc.Depth,
		Channels:    desc.Channels,
		ChannelType: desc.ChannelType,
		Usage:       usage,
	})
	if err != nil {
		m.free(a)
		return nil, fmt.Errorf("nodegraph: create image: %w", err)
	}
	return &Image{memory: m, id: id, alloc: a, desc: desc, usage: usage, label: label}, nil
}

// Kind returns ResourceImage.
func (img *Image) Kind() ResourceKind { return ResourceImage }

// Memory returns the memory the image was allocated from.
func (img *Image) Memory() *Memory { return img.memory }

// Descriptor returns the image shape and format.
func (img *Image) Descriptor() ImageDescriptor { return img.desc }

func (img *Image) Width() uint32            { return img.desc.Width }
func (img *Image) Height() uint32           { return img.desc.Height }
func (img *Image) Depth() uint32            { return img.desc.Depth }
func (img *Image) Channels() uint32         { return img.desc.Channels }
func (img *Image) ChannelType() ChannelType { return img.desc.ChannelType }

// Usage returns the usage flags the image was created with.
func (img *Image) Usage() ImageUsage { return img.usage }

// ByteSize returns the linear storage size.
func (img *Image) ByteSize() uint64 { return img.desc.ByteSize() }

// Released reports whether Release was called.
func (img *Image) Released() bool { return img.released }

func (img *Image) storage() any { return img }

func (img *Image) check() error {
	if img.released {
		return fmt.Errorf("%w: %s", ErrReleased, img.label)
	}
	return img.memory.session.checkOpen()
}

// Release destroys the image. Views created from it become unusable.
// Release is idempotent.
func (img *Image) Release() {
	if img.released {
		return
	}
	img.released = true
	img.memory.session.dev.DestroyImage(img.id)
	img.memory.free(img.alloc)
}

func (img *Image) String() string {
	return fmt.Sprintf("Image[%v]", img.desc)
}

// FilterMode and AddressMode select how a sampled view reads texels.
type (
	FilterMode  = gputypes.FilterMode
	AddressMode = gputypes.AddressMode
)

// Sampling modes.
const (
	FilterNearest = gputypes.FilterModeNearest
	FilterLinear  = gputypes.FilterModeLinear

	AddressClampToEdge  = gputypes.AddressModeClampToEdge
	AddressRepeat       = gputypes.AddressModeRepeat
	AddressMirrorRepeat = gputypes.AddressModeMirrorRepeat
)

// ImageViewDescriptor holds the sampling parameters of a view. Zero filter
// and address modes mean Nearest and ClampToEdge.
type ImageViewDescriptor struct {
	Filter                FilterMode
	AddressU              AddressMode
	AddressV              AddressMode
	AddressW              AddressMode
	NormalizedCoordinates bool
	Sampled               bool
}

// DefaultImageViewDescriptor returns Nearest filtering, ClampToEdge on
// every axis, unnormalized coordinates and Sampled=false.
func DefaultImageViewDescriptor() ImageViewDescriptor {
	return ImageViewDescriptor{
		Filter:   FilterNearest,
		AddressU: AddressClampToEdge,
		AddressV: AddressClampToEdge,
		AddressW: AddressClampToEdge,
	}
}

// SetAddressMode sets the same address mode on every axis.
func (d *ImageViewDescriptor) SetAddressMode(mode AddressMode) {
	d.AddressU, d.AddressV, d.AddressW = mode, mode, mode
}

func (d ImageViewDescriptor) withDefaults() ImageViewDescriptor {
	if d.Filter == gputypes.FilterModeUndefined {
		d.Filter = FilterNearest
	}
	for _, m := range []*AddressMode{&d.AddressU, &d.AddressV, &d.AddressW} {
		if *m == gputypes.AddressModeUndefined {
			*m = AddressClampToEdge
		}
	}
	return d
}

// ImageView exposes an Image with sampling parameters. It does not own
// storage: the image must outlive its views.
type ImageView struct {
	image *Image
	desc  ImageViewDescriptor
}

// CreateView creates a view of the image.
func (img *Image) CreateView(desc ImageViewDescriptor) (*ImageView, error) {
	if err := img.check(); err != nil {
		return nil, err
	}
	return &ImageView{image: img, desc: desc.withDefaults()}, nil
}

// DefaultView creates a view with DefaultImageViewDescriptor.
func (img *Image) DefaultView() (*ImageView, error) {
	return img.CreateView(DefaultImageViewDescriptor())
}

// Kind returns ResourceImageView.
func (v *ImageView) Kind() ResourceKind { return ResourceImageView }

// Image returns the viewed image.
func (v *ImageView) Image() *Image { return v.image }

// Memory returns the memory of the viewed image.
func (v *ImageView) Memory() *Memory { return v.image.memory }

// Descriptor returns the sampling parameters.
func (v *ImageView) Descriptor() ImageViewDescriptor { return v.desc }

// ImageDescriptor returns the shape of the viewed image.
func (v *ImageView) ImageDescriptor() ImageDescriptor { return v.image.desc }

// ByteSize returns the storage size of the viewed image.
func (v *ImageView) ByteSize() uint64 { return v.image.ByteSize() }

// IsSampled reports whether the view is bound as a sampled image.
func (v *ImageView) IsSampled() bool { return v.desc.Sampled }

func (v *ImageView) storage() any { return v.image }

func (v *ImageView) check() error { return v.image.check() }

func (v *ImageView) sampler() driver.Sampler {
	return driver.Sampler{
		Filter:     v.desc.Filter,
		AddressU:   v.desc.AddressU,
		AddressV:   v.desc.AddressV,
		AddressW:   v.desc.AddressW,
		Normalized: v.desc.NormalizedCoordinates,
	}
}

func (v *ImageView) String() string {
	return fmt.Sprintf("ImageView[%v, sampled=%v]", v.image.desc, v.desc.Sampled)
}
