package nodegraph

import (
	"fmt"
	"slices"
)

// ContainerNode composes child nodes. It never does device work itself:
// Run records its children in declaration order, with a memory barrier
// before every child that reads or overwrites a resource an earlier child
// wrote since the last barrier.
type ContainerNode struct {
	nodeBase

	children    []Node
	childByName map[string]Node
	forwards    map[string]*Port
	exposed     []string
}

var _ Node = (*ContainerNode)(nil)

func newContainerNode(s *Session, desc *NodeDescriptor) *ContainerNode {
	c := &ContainerNode{
		childByName: make(map[string]Node),
		forwards:    make(map[string]*Port),
	}
	c.setup(c, s, desc)
	return c
}

// Port returns an exposed child port or a declared port. An exposed port is
// the child's own *Port: its Resource is the child's resource.
func (c *ContainerNode) Port(name string) (*Port, error) {
	if p, ok := c.forwards[name]; ok {
		return p, nil
	}
	return c.ownPort(name)
}

// ExposedPorts returns the names of forwarded ports in exposure order.
func (c *ContainerNode) ExposedPorts() []string { return slices.Clone(c.exposed) }

// Node returns the named child.
func (c *ContainerNode) Node(name string) (Node, error) {
	n, ok := c.childByName[name]
	if !ok {
		return nil, fmt.Errorf("nodegraph: %s has no child %q", c.name, name)
	}
	return n, nil
}

// Nodes returns the children in declaration order.
func (c *ContainerNode) Nodes() []Node { return slices.Clone(c.children) }

// AddNode adopts n as a child under name. Only valid while the container
// composes its children.
func (c *ContainerNode) AddNode(name string, n Node) error {
	if c.state != NodeCreated {
		return fmt.Errorf("%w: add node to %s", ErrAlreadyInitialized, c.name)
	}
	b := n.base()
	if b.session != c.session {
		return fmt.Errorf("nodegraph: node %s belongs to another session", b.name)
	}
	if b.parent != nil {
		return fmt.Errorf("nodegraph: node %s already belongs to %s", b.name, b.parent.name)
	}
	if _, dup := c.childByName[name]; dup {
		return fmt.Errorf("nodegraph: %s already has a child %q", c.name, name)
	}
	b.name = name
	b.parent = c
	c.children = append(c.children, n)
	c.childByName[name] = n
	return nil
}

// CreateNode creates a node from the named builder and adds it as a child.
func (c *ContainerNode) CreateNode(name, builder string) (Node, error) {
	n, err := c.session.CreateNode(builder)
	if err != nil {
		return nil, err
	}
	if err := c.AddNode(name, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Expose forwards p under name. p is usually a child port, or one of the
// container's own in-ports.
func (c *ContainerNode) Expose(name string, p *Port) error {
	if c.state != NodeCreated {
		return fmt.Errorf("%w: expose %q on %s", ErrAlreadyInitialized, name, c.name)
	}
	if p == nil {
		return fmt.Errorf("%w: expose %q on %s: nil port", ErrUnknownPort, name, c.name)
	}
	if _, dup := c.forwards[name]; dup {
		return fmt.Errorf("nodegraph: %s already exposes %q", c.name, name)
	}
	if own, ok := c.ports[name]; ok && own.desc.Direction == PortIn {
		return fmt.Errorf("nodegraph: %s: cannot expose over in-port %q", c.name, name)
	}
	c.forwards[name] = p
	c.exposed = append(c.exposed, name)
	return nil
}

// ExposeChildPort forwards port of the named child under name.
func (c *ContainerNode) ExposeChildPort(name, child, port string) error {
	n, err := c.Node(child)
	if err != nil {
		return err
	}
	p, err := n.Port(port)
	if err != nil {
		return err
	}
	return c.Expose(name, p)
}

// Init validates the in-ports, runs the composition recipe, initializes
// children the recipe left in Created and checks that every declared
// out-port is exposed or bound.
func (c *ContainerNode) Init() error {
	if err := c.beginInit(); err != nil {
		return err
	}
	err := c.init()
	if err != nil {
		for _, child := range c.children {
			releaseNodeOutputs(child)
			if child.State() != NodeRunError {
				failNode(child, err)
			}
		}
	}
	return c.finishInit(err)
}

func (c *ContainerNode) init() error {
	if err := c.checkBindings(false); err != nil {
		return err
	}

	leave, err := c.session.enterCompose(c.desc.Builder)
	if err != nil {
		return err
	}
	defer leave()
	if err := c.desc.Compose(c); err != nil {
		return err
	}

	for _, child := range c.children {
		if child.State() == NodeCreated {
			if err := child.Init(); err != nil {
				return err
			}
		}
	}

	for _, name := range c.order {
		p := c.ports[name]
		if p.desc.Direction != PortOut || p.IsBound() {
			continue
		}
		if _, ok := c.forwards[name]; !ok {
			return fmt.Errorf("%w: out-port %q of %s is neither bound nor exposed", ErrMissingBinding, name, c.name)
		}
	}

	if c.desc.OnInit != nil {
		return c.desc.OnInit(c)
	}
	return nil
}

func (c *ContainerNode) record(cb *CommandBuffer) error {
	if cb.written == nil {
		cb.written = make(map[any]struct{})
		cb.read = make(map[any]struct{})
		defer func() { cb.written, cb.read = nil, nil }()
	}
	for _, child := range c.children {
		if err := child.record(cb); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// enterCompose pushes builder on the composition stack. A builder already on
// the stack is a cyclic composition.
func (s *Session) enterCompose(builder string) (func(), error) {
	if slices.Contains(s.composing, builder) {
		chain := append(slices.Clone(s.composing), builder)
		return nil, fmt.Errorf("%w: %v", ErrCyclicBuilderDependency, chain)
	}
	s.composing = append(s.composing, builder)
	return func() { s.composing = s.composing[:len(s.composing)-1] }, nil
}

// releaseNodeOutputs frees the node-owned outputs of n and its children.
func releaseNodeOutputs(n Node) {
	switch v := n.(type) {
	case *ComputeNode:
		v.releaseOutputs()
	case *ContainerNode:
		for _, child := range v.children {
			releaseNodeOutputs(child)
		}
	}
}
