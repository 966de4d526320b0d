package nodegraph

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/nodegraph/driver"
)

func countBarriers(cb *CommandBuffer) int {
	n := 0
	for _, cmd := range cb.cmds {
		if _, ok := cmd.(*driver.Barrier); ok {
			n++
		}
	}
	return n
}

func recordNode(t *testing.T, s *Session, n Node) *CommandBuffer {
	t.Helper()
	cb, err := s.CreateCommandBuffer()
	if err != nil {
		t.Fatalf("CreateCommandBuffer() error = %v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := cb.Run(n); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	return cb
}

func TestContainerNode_Chain(t *testing.T) {
	s := newTestSession(t)
	in := newTestBuffer(t, s, []uint32{1, 2, 3})

	c, err := s.CreateContainerNode("nodegraph_test/AddTwice")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.SetParameter("value", IntParameter(10)); err != nil {
		t.Fatalf("SetParameter() error = %v", err)
	}
	if err := c.Bind("in", in); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	children := c.Nodes()
	if len(children) != 2 {
		t.Fatalf("Nodes() = %d children, want 2", len(children))
	}
	for _, child := range children {
		if child.State() != NodeInit {
			t.Errorf("child %s state = %v, want Init", child.Name(), child.State())
		}
	}
	if children[0].Name() != "first" || children[1].Name() != "second" {
		t.Errorf("children = %s, %s, want first, second", children[0].Name(), children[1].Name())
	}

	cb := recordNode(t, s, c)
	if got := countBarriers(cb); got != 1 {
		t.Errorf("barriers = %d, want 1 between dependent children", got)
	}
	if got := cb.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3 (dispatch, barrier, dispatch)", got)
	}
	if _, ok := cb.cmds[1].(*driver.Barrier); !ok {
		t.Errorf("cmds[1] = %T, want *driver.Barrier", cb.cmds[1])
	}

	if err := s.RunCommandBuffer(context.Background(), cb); err != nil {
		t.Fatalf("RunCommandBuffer() error = %v", err)
	}
	out, err := c.Port("out")
	if err != nil {
		t.Fatalf("Port(out) error = %v", err)
	}
	got := readWords(t, out.Buffer())
	want := []uint32{21, 22, 23}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestContainerNode_ForwardedPortIdentity(t *testing.T) {
	s := newTestSession(t)
	c, err := s.CreateContainerNode("nodegraph_test/AddTwice")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.Bind("in", newTestBuffer(t, s, []uint32{0})); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	second, err := c.Node("second")
	if err != nil {
		t.Fatalf("Node(second) error = %v", err)
	}
	childPort, _ := second.Port("out")
	forwarded, _ := c.Port("out")
	if forwarded != childPort {
		t.Error("forwarded port is not the child's port")
	}
	if forwarded.Resource() != childPort.Resource() {
		t.Error("forwarded port resource differs from the child's")
	}
	if forwarded.Node() != second {
		t.Errorf("forwarded port node = %s, want %s", forwarded.Node().Name(), second.Name())
	}
	if got := c.ExposedPorts(); len(got) != 1 || got[0] != "out" {
		t.Errorf("ExposedPorts() = %v, want [out]", got)
	}
}

func TestContainerNode_IndependentChildren(t *testing.T) {
	s := newTestSession(t)
	c, err := s.CreateContainerNode("nodegraph_test/AddFanOut")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.Bind("in", newTestBuffer(t, s, []uint32{5, 6})); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	cb := recordNode(t, s, c)
	if got := countBarriers(cb); got != 0 {
		t.Errorf("barriers = %d, want 0 between independent children", got)
	}
	if err := s.RunCommandBuffer(context.Background(), cb); err != nil {
		t.Fatalf("RunCommandBuffer() error = %v", err)
	}
	for _, name := range []string{"out_a", "out_b"} {
		p, err := c.Port(name)
		if err != nil {
			t.Fatalf("Port(%s) error = %v", name, err)
		}
		if got := readWords(t, p.Buffer()); got[0] != 6 || got[1] != 7 {
			t.Errorf("%s = %v, want [6 7]", name, got)
		}
	}
}

func TestContainerNode_MissingInput(t *testing.T) {
	s := newTestSession(t)
	c, err := s.CreateContainerNode("nodegraph_test/AddTwice")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.Init(); !errors.Is(err, ErrMissingBinding) {
		t.Errorf("Init() error = %v, want ErrMissingBinding", err)
	}
	if c.State() != NodeRunError {
		t.Errorf("State() = %v, want RunError", c.State())
	}
}

func TestContainerNode_UnexposedOutput(t *testing.T) {
	s := newTestSession(t)
	err := s.RegisterBuilder(NewBuilder(NodeDescriptor{
		Builder: "nodegraph_test/Empty",
		Kind:    KindContainer,
		Ports: []PortDescriptor{
			{Binding: 0, Name: "out", Direction: PortOut, Type: PortBuffer},
		},
		Compose: func(*ContainerNode) error { return nil },
	}))
	if err != nil {
		t.Fatalf("RegisterBuilder() error = %v", err)
	}
	c, err := s.CreateContainerNode("nodegraph_test/Empty")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.Init(); !errors.Is(err, ErrMissingBinding) {
		t.Errorf("Init() error = %v, want ErrMissingBinding", err)
	}
}

func TestContainerNode_CompositionCycle(t *testing.T) {
	s := newTestSession(t)
	// The builder declares no dependencies, so the cycle is only found
	// while composing.
	err := s.RegisterBuilder(NewBuilder(NodeDescriptor{
		Builder: "nodegraph_test/Recursive",
		Kind:    KindContainer,
		Compose: func(c *ContainerNode) error {
			_, err := c.CreateNode("inner", "nodegraph_test/Recursive")
			return err
		},
	}))
	if err != nil {
		t.Fatalf("RegisterBuilder() error = %v", err)
	}
	c, err := s.CreateContainerNode("nodegraph_test/Recursive")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	if err := c.Init(); !errors.Is(err, ErrCyclicBuilderDependency) {
		t.Errorf("Init() error = %v, want ErrCyclicBuilderDependency", err)
	}
}

func TestContainerNode_AddNode(t *testing.T) {
	s := newTestSession(t)
	err := s.RegisterBuilder(NewBuilder(NodeDescriptor{
		Builder: "nodegraph_test/Manual",
		Kind:    KindContainer,
		Compose: func(*ContainerNode) error { return nil },
	}))
	if err != nil {
		t.Fatalf("RegisterBuilder() error = %v", err)
	}
	c, err := s.CreateContainerNode("nodegraph_test/Manual")
	if err != nil {
		t.Fatalf("CreateContainerNode() error = %v", err)
	}
	n, err := s.CreateComputeNode("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNode() error = %v", err)
	}
	if err := c.AddNode("add", n); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if n.Name() != "add" || n.Parent() != c {
		t.Errorf("child name = %q, parent = %v", n.Name(), n.Parent())
	}
	if err := c.AddNode("add", n); err == nil {
		t.Error("AddNode() of an adopted node succeeded")
	}
	// The child's in-port is unbound: Init fails and the child fails with it.
	if err := c.Init(); !errors.Is(err, ErrMissingBinding) {
		t.Errorf("Init() error = %v, want ErrMissingBinding", err)
	}
	if n.State() != NodeRunError {
		t.Errorf("child State() = %v, want RunError", n.State())
	}
}

func TestCommandBuffer_OrderAccess(t *testing.T) {
	x, y := new(int), new(int)
	type access struct{ reads, writes []any }
	tests := []struct {
		name     string
		accesses []access
		want     int
	}{
		{"read after write", []access{{nil, []any{x}}, {[]any{x}, nil}}, 1},
		{"write after read", []access{{[]any{x}, nil}, {nil, []any{x}}}, 1},
		{"write after write", []access{{nil, []any{x}}, {nil, []any{x}}}, 1},
		{"read after read", []access{{[]any{x}, nil}, {[]any{x}, nil}}, 0},
		{"disjoint", []access{{[]any{x}, []any{y}}, {[]any{new(int)}, []any{new(int)}}}, 0},
		{"read cleared by barrier", []access{
			{[]any{x}, []any{y}}, {[]any{y}, nil}, {nil, []any{new(int)}},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &CommandBuffer{written: make(map[any]struct{}), read: make(map[any]struct{})}
			for _, a := range tt.accesses {
				cb.orderAccess(a.reads, a.writes)
			}
			if got := countBarriers(cb); got != tt.want {
				t.Errorf("barriers = %d, want %d", got, tt.want)
			}
		})
	}
}
