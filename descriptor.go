package nodegraph

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// NodeKind distinguishes compute nodes from containers.
type NodeKind uint8

// Node kinds.
const (
	KindCompute NodeKind = iota + 1
	KindContainer
)

func (k NodeKind) String() string {
	switch k {
	case KindCompute:
		return "compute"
	case KindContainer:
		return "container"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// ParseNodeKind converts "compute" or "container".
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "compute":
		return KindCompute, nil
	case "container":
		return KindContainer, nil
	default:
		return 0, fmt.Errorf("nodegraph: unknown node kind %q", s)
	}
}

// PushConstantType is the scalar type of a push constant.
type PushConstantType uint8

// Push constant types. Every type occupies 4 bytes.
const (
	PushInt32 PushConstantType = iota + 1
	PushUint32
	PushFloat32
)

// ParsePushConstantType converts "int32", "uint32" or "float32".
func ParsePushConstantType(s string) (PushConstantType, error) {
	switch s {
	case "int32":
		return PushInt32, nil
	case "uint32":
		return PushUint32, nil
	case "float32":
		return PushFloat32, nil
	default:
		return 0, fmt.Errorf("%w: push constant type %q", ErrInvalidParameter, s)
	}
}

// PushConstant is one 4-byte value of a compute node's push-constant block,
// evaluated at Init.
type PushConstant struct {
	Name  string
	Type  PushConstantType
	Value func(n *ComputeNode) (float64, error)
}

// ParameterPush returns a Value reading the numeric parameter name.
func ParameterPush(name string) func(n *ComputeNode) (float64, error) {
	return func(n *ComputeNode) (float64, error) {
		p, err := n.Parameter(name)
		if err != nil {
			return 0, err
		}
		v, ok := p.Number()
		if !ok {
			return 0, fmt.Errorf("%w: push constant from %v parameter %q", ErrParameterTypeMismatch, p.Type(), name)
		}
		return v, nil
	}
}

func encodePushConstants(n *ComputeNode, pcs []PushConstant) ([]byte, error) {
	out := make([]byte, 0, 4*len(pcs))
	for _, pc := range pcs {
		v, err := pc.Value(n)
		if err != nil {
			return nil, fmt.Errorf("push constant %q: %w", pc.Name, err)
		}
		var bits uint32
		switch pc.Type {
		case PushInt32:
			bits = uint32(int32(v))
		case PushUint32:
			bits = uint32(v)
		case PushFloat32:
			bits = math.Float32bits(float32(v))
		default:
			return nil, fmt.Errorf("%w: push constant %q has no type", ErrInvalidParameter, pc.Name)
		}
		out = binary.LittleEndian.AppendUint32(out, bits)
	}
	return out, nil
}

// NodeDescriptor is what a builder produces: the ports and parameters of a
// node plus either its dispatch data or its composition recipe.
type NodeDescriptor struct {
	Builder string
	Kind    NodeKind
	Summary string

	Ports      []PortDescriptor
	Parameters []ParameterSpec

	// Compute nodes.
	Program         string
	EntryPoint      string
	LocalSize       [3]uint32
	GridFrom        string
	GridElementSize uint64
	PushConstants   []PushConstant

	// Compose builds the children of a container node during Init.
	Compose func(c *ContainerNode) error

	// OnInit runs last in Init.
	OnInit func(n Node) error
}

// Clone returns a copy whose slices may be modified independently.
func (d *NodeDescriptor) Clone() *NodeDescriptor {
	c := *d
	c.Ports = slices.Clone(d.Ports)
	for i := range c.Ports {
		c.Ports[i].ChannelTypes = slices.Clone(c.Ports[i].ChannelTypes)
	}
	c.Parameters = slices.Clone(d.Parameters)
	c.PushConstants = slices.Clone(d.PushConstants)
	return &c
}

// Port returns the declaration of the named port.
func (d *NodeDescriptor) Port(name string) (PortDescriptor, bool) {
	for _, p := range d.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return PortDescriptor{}, false
}

// SetParameter changes the default of a declared parameter.
func (d *NodeDescriptor) SetParameter(name string, v Parameter) error {
	for i := range d.Parameters {
		if d.Parameters[i].Name != name {
			continue
		}
		if t := d.Parameters[i].Type(); t != v.Type() {
			return fmt.Errorf("%w: %q is %v, got %v", ErrParameterTypeMismatch, name, t, v.Type())
		}
		d.Parameters[i].Default = v
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// Validate checks name and binding uniqueness and kind-specific fields.
func (d *NodeDescriptor) Validate() error {
	names := make(map[string]bool, len(d.Ports))
	bindings := make(map[uint32]string, len(d.Ports))
	for _, p := range d.Ports {
		if p.Name == "" {
			return fmt.Errorf("nodegraph: %s: port with empty name", d.Builder)
		}
		if names[p.Name] {
			return fmt.Errorf("nodegraph: %s: duplicate port %q", d.Builder, p.Name)
		}
		names[p.Name] = true
		if prev, ok := bindings[p.Binding]; ok && d.Kind == KindCompute {
			return fmt.Errorf("nodegraph: %s: ports %q and %q share binding %d", d.Builder, prev, p.Name, p.Binding)
		}
		bindings[p.Binding] = p.Name
		if p.Direction != PortIn && p.Direction != PortOut {
			return fmt.Errorf("nodegraph: %s: port %q has no direction", d.Builder, p.Name)
		}
		if _, ok := portTypeNames[p.Type]; !ok {
			return fmt.Errorf("nodegraph: %s: port %q has no type", d.Builder, p.Name)
		}
	}
	params := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if params[p.Name] {
			return fmt.Errorf("nodegraph: %s: duplicate parameter %q", d.Builder, p.Name)
		}
		if !p.Default.IsValid() {
			return fmt.Errorf("nodegraph: %s: parameter %q has no default", d.Builder, p.Name)
		}
		params[p.Name] = true
	}

	switch d.Kind {
	case KindCompute:
		if d.Program == "" {
			return fmt.Errorf("nodegraph: %s: compute node without program", d.Builder)
		}
		if d.GridFrom != "" && !names[d.GridFrom] {
			return fmt.Errorf("%w: grid reference %q of %s", ErrUnknownPort, d.GridFrom, d.Builder)
		}
	case KindContainer:
		if d.Compose == nil {
			return fmt.Errorf("nodegraph: %s: container node without composition", d.Builder)
		}
	default:
		return fmt.Errorf("nodegraph: %s: unknown kind %v", d.Builder, d.Kind)
	}
	return nil
}
