package nodegraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
)

// NodeBuilder produces node descriptors. Builder names are slash-separated
// paths such as "lluvia/imgproc/ImagePyramid_r8ui".
type NodeBuilder interface {
	Name() string
	Kind() NodeKind
	Summary() string

	// Describe returns a fresh descriptor; callers may modify it.
	Describe(s *Session) (*NodeDescriptor, error)
}

// DependentBuilder is implemented by container builders that know the
// builders their composition creates.
type DependentBuilder interface {
	NodeBuilder
	Dependencies() []string
}

// NodeBuilderDescriptor summarizes a registered builder.
type NodeBuilderDescriptor struct {
	Name    string
	Kind    NodeKind
	Summary string
}

type staticBuilder struct {
	desc *NodeDescriptor
	deps []string
}

// NewBuilder returns a builder handing out copies of desc. deps lists the
// builders a container's composition creates; it feeds the cycle check.
func NewBuilder(desc NodeDescriptor, deps ...string) NodeBuilder {
	return &staticBuilder{desc: desc.Clone(), deps: deps}
}

func (b *staticBuilder) Name() string           { return b.desc.Builder }
func (b *staticBuilder) Kind() NodeKind         { return b.desc.Kind }
func (b *staticBuilder) Summary() string        { return b.desc.Summary }
func (b *staticBuilder) Dependencies() []string { return b.deps }

func (b *staticBuilder) Describe(*Session) (*NodeDescriptor, error) {
	return b.desc.Clone(), nil
}

var (
	builtinBuildersMu sync.Mutex
	builtinBuilders   = map[string]NodeBuilder{}
)

// RegisterBuiltinBuilder registers a builder copied into every Session
// created afterwards. It is meant to be called from init functions of node
// packages. A builder with the same name is replaced.
func RegisterBuiltinBuilder(b NodeBuilder) {
	builtinBuildersMu.Lock()
	defer builtinBuildersMu.Unlock()
	builtinBuilders[b.Name()] = b
}

// BuiltinBuilders returns the names of the built-in builders, sorted.
func BuiltinBuilders() []string {
	builtinBuildersMu.Lock()
	defer builtinBuildersMu.Unlock()
	names := make([]string, 0, len(builtinBuilders))
	for name := range builtinBuilders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type builderRegistry struct {
	mu       sync.RWMutex
	builders map[string]NodeBuilder

	// acyclic caches builders whose dependency graph was checked.
	acyclic map[string]bool
}

func newBuilderRegistry() *builderRegistry {
	r := &builderRegistry{
		builders: make(map[string]NodeBuilder),
		acyclic:  make(map[string]bool),
	}
	builtinBuildersMu.Lock()
	for name, b := range builtinBuilders {
		r.builders[name] = b
	}
	builtinBuildersMu.Unlock()
	return r
}

func (r *builderRegistry) register(b NodeBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[b.Name()] = b
	clear(r.acyclic)
}

func (r *builderRegistry) get(name string) (NodeBuilder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[name]
	return b, ok
}

// checkDependencies walks the dependency graph from name.
func (r *builderRegistry) checkDependencies(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acyclic[name] {
		return nil
	}

	const (
		visiting = 1
		done     = 2
	)
	marks := make(map[string]int)
	var path []string
	var visit func(n string) error
	visit = func(n string) error {
		switch marks[n] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrCyclicBuilderDependency, strings.Join(append(path, n), " -> "))
		case done:
			return nil
		}
		b, ok := r.builders[n]
		if !ok {
			if len(path) == 0 {
				return fmt.Errorf("%w: %q", ErrUnknownBuilder, n)
			}
			return fmt.Errorf("%w: %q referenced by %q", ErrUnknownBuilder, n, path[len(path)-1])
		}
		marks[n] = visiting
		path = append(path, n)
		if db, ok := b.(DependentBuilder); ok {
			for _, dep := range db.Dependencies() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		marks[n] = done
		return nil
	}
	if err := visit(name); err != nil {
		return err
	}
	for n := range marks {
		r.acyclic[n] = true
	}
	return nil
}

// RegisterBuilder registers b for this session, replacing a builder with
// the same name.
func (s *Session) RegisterBuilder(b NodeBuilder) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if b.Name() == "" {
		return fmt.Errorf("nodegraph: builder without name")
	}
	s.builders.register(b)
	Logger().Debug("nodegraph: builder registered", "name", b.Name(), "kind", b.Kind())
	return nil
}

// Builder returns the named builder.
func (s *Session) Builder(name string) (NodeBuilder, error) {
	b, ok := s.builders.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBuilder, name)
	}
	return b, nil
}

// HasBuilder reports whether a builder is registered under name.
func (s *Session) HasBuilder(name string) bool {
	_, ok := s.builders.get(name)
	return ok
}

// Builders returns the registered builders sorted by name.
func (s *Session) Builders() []NodeBuilderDescriptor {
	s.builders.mu.RLock()
	out := make([]NodeBuilderDescriptor, 0, len(s.builders.builders))
	for _, b := range s.builders.builders {
		out = append(out, NodeBuilderDescriptor{Name: b.Name(), Kind: b.Kind(), Summary: b.Summary()})
	}
	s.builders.mu.RUnlock()
	slices.SortFunc(out, func(a, b NodeBuilderDescriptor) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Help renders the summary, ports and parameters of a builder.
func (s *Session) Help(name string) (string, error) {
	b, err := s.Builder(name)
	if err != nil {
		return "", err
	}
	desc, err := b.Describe(s)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)\n", b.Name(), b.Kind())
	if sum := b.Summary(); sum != "" {
		fmt.Fprintf(&sb, "\n%s\n", sum)
	}
	if len(desc.Ports) > 0 {
		sb.WriteString("\nPorts:\n")
		tw := tabwriter.NewWriter(&sb, 2, 4, 2, ' ', 0)
		for _, p := range desc.Ports {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", p.Binding, p.Direction, p.Type, p.Name)
		}
		tw.Flush()
	}
	if len(desc.Parameters) > 0 {
		sb.WriteString("\nParameters:\n")
		tw := tabwriter.NewWriter(&sb, 2, 4, 2, ' ', 0)
		for _, p := range desc.Parameters {
			fmt.Fprintf(tw, "  %s\t%s\t= %s\t%s\n", p.Name, p.Type(), p.Default, p.Summary)
		}
		tw.Flush()
	}
	return sb.String(), nil
}

func (s *Session) describe(name string, kind NodeKind) (*NodeDescriptor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	b, err := s.Builder(name)
	if err != nil {
		return nil, err
	}
	if kind != 0 && b.Kind() != kind {
		return nil, fmt.Errorf("%w: %q is a %v builder", ErrBuilderTypeMismatch, name, b.Kind())
	}
	if err := s.builders.checkDependencies(name); err != nil {
		return nil, err
	}
	desc, err := b.Describe(s)
	if err != nil {
		return nil, fmt.Errorf("nodegraph: describe %q: %w", name, err)
	}
	if desc.Builder == "" {
		desc.Builder = name
	}
	if desc.Kind == 0 {
		desc.Kind = b.Kind()
	}
	return desc, nil
}

// CreateComputeNodeDescriptor returns the descriptor of a compute builder.
func (s *Session) CreateComputeNodeDescriptor(name string) (*NodeDescriptor, error) {
	return s.describe(name, KindCompute)
}

// CreateContainerNodeDescriptor returns the descriptor of a container
// builder.
func (s *Session) CreateContainerNodeDescriptor(name string) (*NodeDescriptor, error) {
	return s.describe(name, KindContainer)
}

// CreateComputeNode creates a compute node from the named builder.
func (s *Session) CreateComputeNode(name string) (*ComputeNode, error) {
	desc, err := s.CreateComputeNodeDescriptor(name)
	if err != nil {
		return nil, err
	}
	return s.CreateComputeNodeFromDescriptor(desc)
}

// CreateContainerNode creates a container node from the named builder.
func (s *Session) CreateContainerNode(name string) (*ContainerNode, error) {
	desc, err := s.CreateContainerNodeDescriptor(name)
	if err != nil {
		return nil, err
	}
	return s.CreateContainerNodeFromDescriptor(desc)
}

// CreateNode creates a node of either kind from the named builder.
func (s *Session) CreateNode(name string) (Node, error) {
	desc, err := s.describe(name, 0)
	if err != nil {
		return nil, err
	}
	if desc.Kind == KindContainer {
		return s.CreateContainerNodeFromDescriptor(desc)
	}
	return s.CreateComputeNodeFromDescriptor(desc)
}

// CreateComputeNodeFromDescriptor creates a compute node from desc.
func (s *Session) CreateComputeNodeFromDescriptor(desc *NodeDescriptor) (*ComputeNode, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if desc.Kind != KindCompute {
		return nil, fmt.Errorf("%w: %q is a %v descriptor", ErrBuilderTypeMismatch, desc.Builder, desc.Kind)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return newComputeNode(s, desc.Clone()), nil
}

// CreateContainerNodeFromDescriptor creates a container node from desc.
func (s *Session) CreateContainerNodeFromDescriptor(desc *NodeDescriptor) (*ContainerNode, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if desc.Kind != KindContainer {
		return nil, fmt.Errorf("%w: %q is a %v descriptor", ErrBuilderTypeMismatch, desc.Builder, desc.Kind)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return newContainerNode(s, desc.Clone()), nil
}
