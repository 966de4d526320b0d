package nodegraph

import (
	"fmt"
	"slices"
)

// PortDirection is the data direction of a port.
type PortDirection uint8

// Port directions.
const (
	PortIn PortDirection = iota + 1
	PortOut
)

func (d PortDirection) String() string {
	switch d {
	case PortIn:
		return "in"
	case PortOut:
		return "out"
	default:
		return fmt.Sprintf("PortDirection(%d)", uint8(d))
	}
}

// ParsePortDirection converts "in" or "out".
func ParsePortDirection(s string) (PortDirection, error) {
	switch s {
	case "in":
		return PortIn, nil
	case "out":
		return PortOut, nil
	default:
		return 0, fmt.Errorf("nodegraph: unknown port direction %q", s)
	}
}

// PortType is the resource type a port accepts.
type PortType uint8

// Port types.
const (
	// PortBuffer accepts a *Buffer bound as a storage buffer.
	PortBuffer PortType = iota + 1
	// PortUniformBuffer accepts a *Buffer with Uniform usage.
	PortUniformBuffer
	// PortImage accepts an *Image bound as a storage image.
	PortImage
	// PortImageView accepts an *ImageView with Sampled=false.
	PortImageView
	// PortSampledImageView accepts an *ImageView with Sampled=true.
	PortSampledImageView
)

var portTypeNames = map[PortType]string{
	PortBuffer:           "Buffer",
	PortUniformBuffer:    "UniformBuffer",
	PortImage:            "Image",
	PortImageView:        "ImageView",
	PortSampledImageView: "SampledImageView",
}

func (t PortType) String() string {
	if name, ok := portTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PortType(%d)", uint8(t))
}

// ParsePortType converts a port type name as printed by String.
func ParsePortType(s string) (PortType, error) {
	for t, name := range portTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("nodegraph: unknown port type %q", s)
}

// IsImage reports whether the port carries image data.
func (t PortType) IsImage() bool {
	return t == PortImage || t == PortImageView || t == PortSampledImageView
}

// CoordinatesCheck constrains the normalized-coordinates flag of a view.
type CoordinatesCheck uint8

// Coordinate checks.
const (
	CoordinatesAny CoordinatesCheck = iota
	CoordinatesNormalized
	CoordinatesUnnormalized
)

// PortDescriptor declares a port of a node.
type PortDescriptor struct {
	Binding   uint32
	Name      string
	Direction PortDirection
	Type      PortType

	// Optional in-ports may stay unbound at Init.
	Optional bool

	// Channels, if non-zero, is the required image channel count.
	Channels uint32

	// ChannelTypes, if non-empty, lists the accepted image channel types.
	ChannelTypes []ChannelType

	// Coordinates constrains the normalized-coordinates flag of views.
	Coordinates CoordinatesCheck

	// Output makes an out-port node-owned: Init allocates its resource
	// unless one was bound.
	Output *OutputRule
}

// IsNodeOwned reports whether Init allocates the port's resource.
func (d *PortDescriptor) IsNodeOwned() bool {
	return d.Direction == PortOut && d.Output != nil
}

func (d *PortDescriptor) String() string {
	return fmt.Sprintf("%d %s %s %s", d.Binding, d.Direction, d.Type, d.Name)
}

// accepts type-checks r against the port and applies the optional checks.
func (d *PortDescriptor) accepts(r Resource) error {
	mismatch := func() error {
		return fmt.Errorf("%w: port %q is %v, got %v", ErrPortTypeMismatch, d.Name, d.Type, r.Kind())
	}

	var img *Image
	switch d.Type {
	case PortBuffer:
		if _, ok := r.(*Buffer); !ok {
			return mismatch()
		}
	case PortUniformBuffer:
		b, ok := r.(*Buffer)
		if !ok {
			return mismatch()
		}
		if !b.usage.Contains(BufferUsageUniform) {
			return fmt.Errorf("%w: port %q needs a buffer with Uniform usage", ErrPortTypeMismatch, d.Name)
		}
	case PortImage:
		i, ok := r.(*Image)
		if !ok {
			return mismatch()
		}
		img = i
	case PortImageView, PortSampledImageView:
		v, ok := r.(*ImageView)
		if !ok {
			return mismatch()
		}
		if v.desc.Sampled != (d.Type == PortSampledImageView) {
			return fmt.Errorf("%w: port %q is %v, got view with sampled=%v",
				ErrPortTypeMismatch, d.Name, d.Type, v.desc.Sampled)
		}
		switch {
		case d.Coordinates == CoordinatesNormalized && !v.desc.NormalizedCoordinates:
			return fmt.Errorf("%w: port %q needs normalized coordinates", ErrPortCheckFailed, d.Name)
		case d.Coordinates == CoordinatesUnnormalized && v.desc.NormalizedCoordinates:
			return fmt.Errorf("%w: port %q needs unnormalized coordinates", ErrPortCheckFailed, d.Name)
		}
		img = v.image
	default:
		return mismatch()
	}

	if img != nil {
		if d.Channels != 0 && img.desc.Channels != d.Channels {
			return fmt.Errorf("%w: port %q needs %d channels, got %d",
				ErrPortCheckFailed, d.Name, d.Channels, img.desc.Channels)
		}
		if len(d.ChannelTypes) > 0 && !slices.Contains(d.ChannelTypes, img.desc.ChannelType) {
			return fmt.Errorf("%w: port %q accepts %v, got %v",
				ErrPortCheckFailed, d.Name, d.ChannelTypes, img.desc.ChannelType)
		}
	}
	return nil
}

// OutputRule describes a node-owned output.
type OutputRule struct {
	// Image computes the shape of an image or view output.
	Image func(n *ComputeNode) (ImageDescriptor, error)

	// BufferSize computes the size of a buffer output.
	BufferSize func(n *ComputeNode) (uint64, error)

	// ImageUsage defaults to ImageUsageAll.
	ImageUsage ImageUsage

	// BufferUsage defaults to Storage|TransferSrc|TransferDst (plus Uniform
	// for uniform ports).
	BufferUsage BufferUsage

	// View holds the sampling parameters of view outputs; the view's Sampled
	// flag follows the port type.
	View ImageViewDescriptor
}

// SameShapeAs returns a rule shaping the output like the image on port.
func SameShapeAs(port string) func(*ComputeNode) (ImageDescriptor, error) {
	return ScaledShape(port, func(d ImageDescriptor) ImageDescriptor { return d })
}

// ScaledShape returns a rule applying fn to the shape of the image on port.
func ScaledShape(port string, fn func(ImageDescriptor) ImageDescriptor) func(*ComputeNode) (ImageDescriptor, error) {
	return func(n *ComputeNode) (ImageDescriptor, error) {
		in, err := n.PortImageDescriptor(port)
		if err != nil {
			return ImageDescriptor{}, err
		}
		return fn(in), nil
	}
}

// HalfWidth shapes the output like port with width floor(w/2).
func HalfWidth(port string) func(*ComputeNode) (ImageDescriptor, error) {
	return ScaledShape(port, func(d ImageDescriptor) ImageDescriptor {
		d.Width /= 2
		return d
	})
}

// HalfHeight shapes the output like port with height floor(h/2).
func HalfHeight(port string) func(*ComputeNode) (ImageDescriptor, error) {
	return ScaledShape(port, func(d ImageDescriptor) ImageDescriptor {
		d.Height /= 2
		return d
	})
}

// Port is a declared attachment point of a node and its bound resource.
//
// A ContainerNode forwards child ports by returning the child's *Port, so
// the forwarded port and the child port are the same record.
type Port struct {
	desc     PortDescriptor
	node     Node
	resource Resource
	owned    bool
}

// Descriptor returns the port declaration.
func (p *Port) Descriptor() PortDescriptor { return p.desc }

// Name returns the port name.
func (p *Port) Name() string { return p.desc.Name }

// Node returns the node declaring the port.
func (p *Port) Node() Node { return p.node }

// Resource returns the bound resource, or nil.
func (p *Port) Resource() Resource { return p.resource }

// IsBound reports whether a resource is bound.
func (p *Port) IsBound() bool { return p.resource != nil }

// IsNodeOwned reports whether Init allocated the bound resource.
func (p *Port) IsNodeOwned() bool { return p.owned }

// ImageView returns the bound view, or nil.
func (p *Port) ImageView() *ImageView {
	v, _ := p.resource.(*ImageView)
	return v
}

// Image returns the bound image, or the image of a bound view, or nil.
func (p *Port) Image() *Image {
	switch r := p.resource.(type) {
	case *Image:
		return r
	case *ImageView:
		return r.image
	}
	return nil
}

// Buffer returns the bound buffer, or nil.
func (p *Port) Buffer() *Buffer {
	b, _ := p.resource.(*Buffer)
	return b
}
