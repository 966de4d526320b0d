package nodegraph

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func containerDescriptor(name string) NodeDescriptor {
	return NodeDescriptor{
		Builder: name,
		Kind:    KindContainer,
		Compose: func(*ContainerNode) error { return nil },
	}
}

func TestBuilderRegistry_Cycle(t *testing.T) {
	s := newTestSession(t)
	for _, b := range []NodeBuilder{
		NewBuilder(containerDescriptor("cycle/A"), "cycle/B"),
		NewBuilder(containerDescriptor("cycle/B"), "cycle/C"),
		NewBuilder(containerDescriptor("cycle/C"), "cycle/A"),
		NewBuilder(containerDescriptor("cycle/Outside"), "cycle/B"),
	} {
		if err := s.RegisterBuilder(b); err != nil {
			t.Fatalf("RegisterBuilder(%s) error = %v", b.Name(), err)
		}
	}

	for _, name := range []string{"cycle/A", "cycle/Outside"} {
		_, err := s.CreateContainerNode(name)
		if !errors.Is(err, ErrCyclicBuilderDependency) {
			t.Errorf("CreateContainerNode(%s) error = %v, want ErrCyclicBuilderDependency", name, err)
			continue
		}
		if !strings.Contains(err.Error(), "cycle/A -> cycle/B -> cycle/C") &&
			!strings.Contains(err.Error(), "cycle/B -> cycle/C -> cycle/A") {
			t.Errorf("error %q does not name the cycle", err)
		}
	}

	// Breaking the cycle makes the builders usable.
	if err := s.RegisterBuilder(NewBuilder(containerDescriptor("cycle/C"))); err != nil {
		t.Fatalf("RegisterBuilder() error = %v", err)
	}
	if _, err := s.CreateContainerNode("cycle/A"); err != nil {
		t.Errorf("CreateContainerNode(cycle/A) after fix error = %v", err)
	}
}

func TestBuilderRegistry_UnknownDependency(t *testing.T) {
	s := newTestSession(t)
	if err := s.RegisterBuilder(NewBuilder(containerDescriptor("dep/Top"), "dep/Missing")); err != nil {
		t.Fatalf("RegisterBuilder() error = %v", err)
	}
	_, err := s.CreateContainerNode("dep/Top")
	if !errors.Is(err, ErrUnknownBuilder) {
		t.Errorf("CreateContainerNode() error = %v, want ErrUnknownBuilder", err)
	}
}

func TestSession_CreateNodeKinds(t *testing.T) {
	s := newTestSession(t)
	tests := []struct {
		name    string
		create  func() error
		wantErr error
	}{
		{"compute as compute", func() error { _, err := s.CreateComputeNode("nodegraph_test/Add"); return err }, nil},
		{"container as container", func() error { _, err := s.CreateContainerNode("nodegraph_test/AddTwice"); return err }, nil},
		{"compute as container", func() error { _, err := s.CreateContainerNode("nodegraph_test/Add"); return err }, ErrBuilderTypeMismatch},
		{"container as compute", func() error { _, err := s.CreateComputeNode("nodegraph_test/AddTwice"); return err }, ErrBuilderTypeMismatch},
		{"unknown", func() error { _, err := s.CreateNode("nodegraph_test/Nope"); return err }, ErrUnknownBuilder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.create(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	n, err := s.CreateNode("nodegraph_test/AddTwice")
	if err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if n.Kind() != KindContainer {
		t.Errorf("CreateNode().Kind() = %v, want container", n.Kind())
	}
}

func TestSession_NodeNames(t *testing.T) {
	s := newTestSession(t)
	a, _ := s.CreateComputeNode("nodegraph_test/Add")
	b, _ := s.CreateComputeNode("nodegraph_test/Add")
	if a.Name() == b.Name() {
		t.Errorf("two nodes share the name %q", a.Name())
	}
	if !strings.HasPrefix(a.Name(), "nodegraph_test/Add") {
		t.Errorf("Name() = %q, want builder prefix", a.Name())
	}
}

func TestNodeDescriptor_Validate(t *testing.T) {
	base := addDescriptor()
	tests := []struct {
		name   string
		modify func(d *NodeDescriptor)
		ok     bool
	}{
		{"valid", func(*NodeDescriptor) {}, true},
		{"no program", func(d *NodeDescriptor) { d.Program = "" }, false},
		{"duplicate port", func(d *NodeDescriptor) { d.Ports[1].Name = "in" }, false},
		{"shared binding", func(d *NodeDescriptor) { d.Ports[1].Binding = 0 }, false},
		{"bad grid reference", func(d *NodeDescriptor) { d.GridFrom = "nowhere" }, false},
		{"parameter without default", func(d *NodeDescriptor) { d.Parameters[0].Default = Parameter{} }, false},
		{"container without compose", func(d *NodeDescriptor) { d.Kind = KindContainer }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base.Clone()
			tt.modify(d)
			err := d.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestCreateComputeNodeFromDescriptor(t *testing.T) {
	s := newTestSession(t)
	desc, err := s.CreateComputeNodeDescriptor("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("CreateComputeNodeDescriptor() error = %v", err)
	}
	if err := desc.SetParameter("value", IntParameter(42)); err != nil {
		t.Fatalf("SetParameter() error = %v", err)
	}
	n, err := s.CreateComputeNodeFromDescriptor(desc)
	if err != nil {
		t.Fatalf("CreateComputeNodeFromDescriptor() error = %v", err)
	}
	if p, _ := n.Parameter("value"); p.Int() != 42 {
		t.Errorf("Parameter(value) = %v, want 42", p)
	}

	// The registered builder is unaffected.
	other, _ := s.CreateComputeNode("nodegraph_test/Add")
	if p, _ := other.Parameter("value"); p.Int() != 1 {
		t.Errorf("builder default changed to %v", p)
	}
}

func TestSession_BuildersAndHelp(t *testing.T) {
	s := newTestSession(t)
	list := s.Builders()
	if !slices.IsSortedFunc(list, func(a, b NodeBuilderDescriptor) int { return strings.Compare(a.Name, b.Name) }) {
		t.Error("Builders() is not sorted")
	}
	idx := slices.IndexFunc(list, func(d NodeBuilderDescriptor) bool { return d.Name == "nodegraph_test/Add" })
	if idx < 0 {
		t.Fatal("Builders() misses nodegraph_test/Add")
	}
	if list[idx].Kind != KindCompute {
		t.Errorf("Kind = %v, want compute", list[idx].Kind)
	}

	help, err := s.Help("nodegraph_test/Add")
	if err != nil {
		t.Fatalf("Help() error = %v", err)
	}
	for _, want := range []string{"nodegraph_test/Add (compute)", "Adds a constant", "in", "out", "value", "added value"} {
		if !strings.Contains(help, want) {
			t.Errorf("Help() = %q, want it to contain %q", help, want)
		}
	}
	if _, err := s.Help("nodegraph_test/Nope"); !errors.Is(err, ErrUnknownBuilder) {
		t.Errorf("Help(unknown) error = %v, want ErrUnknownBuilder", err)
	}
	if !slices.Contains(BuiltinBuilders(), "nodegraph_test/HalveX") {
		t.Error("BuiltinBuilders() misses nodegraph_test/HalveX")
	}
}
