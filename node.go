package nodegraph

import (
	"fmt"
)

// NodeState is the lifecycle state of a node.
type NodeState uint8

// Node states. RunError is terminal: the node must be recreated.
const (
	NodeCreated NodeState = iota
	NodeInit
	NodeRunError
)

func (s NodeState) String() string {
	switch s {
	case NodeCreated:
		return "Created"
	case NodeInit:
		return "Init"
	case NodeRunError:
		return "RunError"
	default:
		return fmt.Sprintf("NodeState(%d)", uint8(s))
	}
}

// Node is a unit of graph work: a *ComputeNode or a *ContainerNode.
type Node interface {
	// Name is unique within the parent container, or session-assigned for
	// top-level nodes.
	Name() string

	// Builder returns the name of the builder that produced the node.
	Builder() string

	Kind() NodeKind
	State() NodeState

	// Err returns the error that moved the node to RunError.
	Err() error

	Session() *Session

	// Descriptor returns the descriptor the node was created from.
	Descriptor() *NodeDescriptor

	// Port returns a declared (or, for containers, forwarded) port.
	Port(name string) (*Port, error)

	// Ports returns the declared ports.
	Ports() []PortDescriptor

	// Bind attaches r to a port. Only valid before Init.
	Bind(port string, r Resource) error

	Parameter(name string) (Parameter, error)

	// SetParameter changes a parameter. Only valid before Init.
	SetParameter(name string, v Parameter) error

	// Init wires the node. It can succeed only once.
	Init() error

	// Run records the node into cb.
	Run(cb *CommandBuffer) error

	base() *nodeBase
	record(cb *CommandBuffer) error
}

// nodeBase holds the state shared by compute and container nodes.
type nodeBase struct {
	self    Node
	session *Session
	name    string
	parent  *ContainerNode
	desc    *NodeDescriptor
	ports   map[string]*Port
	order   []string
	params  parameterSet
	state   NodeState
	err     error
}

func (b *nodeBase) setup(self Node, s *Session, desc *NodeDescriptor) {
	b.self = self
	b.session = s
	b.desc = desc
	b.name = s.nextNodeName(desc.Builder)
	b.ports = make(map[string]*Port, len(desc.Ports))
	for _, pd := range desc.Ports {
		b.ports[pd.Name] = &Port{desc: pd, node: self}
		b.order = append(b.order, pd.Name)
	}
	b.params = newParameterSet(desc.Parameters)
}

func (b *nodeBase) base() *nodeBase { return b }

// Name returns the node name.
func (b *nodeBase) Name() string { return b.name }

// Builder returns the builder name.
func (b *nodeBase) Builder() string { return b.desc.Builder }

// Kind returns the node kind.
func (b *nodeBase) Kind() NodeKind { return b.desc.Kind }

// State returns the lifecycle state.
func (b *nodeBase) State() NodeState { return b.state }

// Err returns the failure of a node in RunError, or nil.
func (b *nodeBase) Err() error { return b.err }

// Session returns the owning session.
func (b *nodeBase) Session() *Session { return b.session }

// Descriptor returns the descriptor the node was created from.
func (b *nodeBase) Descriptor() *NodeDescriptor { return b.desc }

// Parent returns the container holding the node, or nil.
func (b *nodeBase) Parent() *ContainerNode { return b.parent }

// Ports returns the declared ports in declaration order.
func (b *nodeBase) Ports() []PortDescriptor {
	out := make([]PortDescriptor, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.ports[name].desc)
	}
	return out
}

func (b *nodeBase) ownPort(name string) (*Port, error) {
	p, ok := b.ports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrUnknownPort, name, b.name)
	}
	return p, nil
}

// Bind attaches r to the named port. Binding the resource already bound is
// a no-op; a different resource replaces it.
func (b *nodeBase) Bind(port string, r Resource) error {
	if b.state != NodeCreated {
		return fmt.Errorf("%w: bind %q on %s", ErrAlreadyInitialized, port, b.name)
	}
	p, err := b.ownPort(port)
	if err != nil {
		return err
	}
	if isNilResource(r) {
		return fmt.Errorf("%w: nil resource for %q", ErrPortTypeMismatch, port)
	}
	if p.resource == r {
		return nil
	}
	if r.Memory().Session() != b.session {
		return fmt.Errorf("%w: %v bound to %q of %s", ErrForeignResource, r, port, b.name)
	}
	if err := p.desc.accepts(r); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	p.resource = r
	p.owned = false
	return nil
}

// Parameter returns the current value of a parameter.
func (b *nodeBase) Parameter(name string) (Parameter, error) {
	return b.params.get(name)
}

// SetParameter changes a parameter. Types must match exactly.
func (b *nodeBase) SetParameter(name string, v Parameter) error {
	if b.state != NodeCreated {
		return fmt.Errorf("%w: set parameter %q on %s", ErrAlreadyInitialized, name, b.name)
	}
	return b.params.set(name, v)
}

// Run records the node into cb.
func (b *nodeBase) Run(cb *CommandBuffer) error {
	return cb.Run(b.self)
}

// beginInit checks the state before an Init attempt.
func (b *nodeBase) beginInit() error {
	switch b.state {
	case NodeInit:
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, b.name)
	case NodeRunError:
		return fmt.Errorf("%w: %s: %w", ErrNodeFailed, b.name, b.err)
	}
	return nil
}

// checkBindings verifies that every mandatory in-port is bound. Out-ports
// are checked too unless the node allocates them.
func (b *nodeBase) checkBindings(outputs bool) error {
	for _, name := range b.order {
		p := b.ports[name]
		if p.IsBound() {
			if err := checkLive(p.resource); err != nil {
				return fmt.Errorf("port %q: %w", name, err)
			}
			continue
		}
		switch {
		case p.desc.Direction == PortIn && !p.desc.Optional:
		case p.desc.Direction == PortOut && outputs && !p.desc.IsNodeOwned():
		default:
			continue
		}
		return fmt.Errorf("%w: port %q of %s", ErrMissingBinding, name, b.name)
	}
	return nil
}

// fail moves the node to RunError.
func (b *nodeBase) fail(err error) {
	b.state = NodeRunError
	b.err = err
	Logger().Debug("nodegraph: node failed", "node", b.name, "err", err)
}

// finishInit records the outcome of an Init attempt.
func (b *nodeBase) finishInit(err error) error {
	if err != nil {
		err = fmt.Errorf("nodegraph: init %s: %w", b.name, err)
		b.fail(err)
		return err
	}
	b.state = NodeInit
	Logger().Debug("nodegraph: node initialized", "node", b.name, "builder", b.desc.Builder)
	return nil
}

// isNilResource reports whether r is nil or a typed nil pointer.
func isNilResource(r Resource) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *Buffer:
		return v == nil
	case *Image:
		return v == nil
	case *ImageView:
		return v == nil
	}
	return false
}

func checkLive(r Resource) error {
	switch v := r.(type) {
	case *Buffer:
		return v.check()
	case *Image:
		return v.check()
	case *ImageView:
		return v.check()
	}
	return nil
}

// failNode marks n and, for containers, every child as failed.
func failNode(n Node, err error) {
	n.base().fail(err)
	if c, ok := n.(*ContainerNode); ok {
		for _, child := range c.children {
			failNode(child, err)
		}
	}
}
