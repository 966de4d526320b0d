package nodegraph

import (
	"fmt"
	"os"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"

	"github.com/gogpu/nodegraph/internal/hclscript"
)

// LoadBuilderScript parses an HCL builder script and registers its builders.
func (s *Session) LoadBuilderScript(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "load builder script %s", path)
	}
	return s.LoadBuilderScriptSource(path, src)
}

// LoadBuilderScriptSource parses script source and registers its builders.
// name is used in error messages.
func (s *Session) LoadBuilderScriptSource(name string, src []byte) error {
	builders, err := ParseBuilderScript(name, src)
	if err != nil {
		return err
	}
	for _, b := range builders {
		if err := s.RegisterBuilder(b); err != nil {
			return err
		}
	}
	Logger().Debug("nodegraph: builder script loaded", "script", name, "builders", len(builders))
	return nil
}

// ParseBuilderScript parses script source into builders without
// registering them. Node packages use it to register scripted built-ins.
func ParseBuilderScript(filename string, src []byte) ([]NodeBuilder, error) {
	file, err := hclscript.Parse(filename, src)
	if err != nil {
		return nil, errors.Wrapf(fmt.Errorf("%w: %w", ErrInvalidScript, err), "parse %s", filename)
	}
	out := make([]NodeBuilder, 0, len(file.Builders))
	for _, decl := range file.Builders {
		b, err := newScriptBuilder(decl)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: builder %q", filename, decl.Name)
		}
		out = append(out, b)
	}
	return out, nil
}

// MustParseBuilderScript is like ParseBuilderScript but panics on error.
func MustParseBuilderScript(filename string, src []byte) []NodeBuilder {
	b, err := ParseBuilderScript(filename, src)
	if err != nil {
		panic(err)
	}
	return b
}

func invalidScript(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScript, fmt.Sprintf(format, args...))
}

func diagError(diags hcl.Diagnostics) error {
	return fmt.Errorf("%w: %w", ErrInvalidScript, diags)
}

// scriptBuilder is a builder declared in a script. Port, parameter and
// push-constant declarations are checked at parse time; expressions are
// evaluated when nodes are initialized.
type scriptBuilder struct {
	decl   *hclscript.Builder
	kind   NodeKind
	params []ParameterSpec
	ports  []PortDescriptor
	push   []PushConstant
}

var _ DependentBuilder = (*scriptBuilder)(nil)

func newScriptBuilder(decl *hclscript.Builder) (*scriptBuilder, error) {
	kind, err := ParseNodeKind(decl.Kind)
	if err != nil {
		return nil, invalidScript("%v", err)
	}
	b := &scriptBuilder{decl: decl, kind: kind}

	for _, p := range decl.Parameters {
		t, err := ParseParameterType(p.Type)
		if err != nil {
			return nil, invalidScript("parameter %q: %v", p.Name, err)
		}
		v, diags := p.Default.Value(nil)
		if diags.HasErrors() {
			return nil, diagError(diags)
		}
		def, err := parameterFromValue(t, v)
		if err != nil {
			return nil, invalidScript("parameter %q default: %v", p.Name, err)
		}
		b.params = append(b.params, ParameterSpec{Name: p.Name, Default: def, Summary: p.Summary})
	}

	for _, p := range decl.Ports {
		pd, err := b.portDescriptor(p)
		if err != nil {
			return nil, invalidScript("port %q: %v", p.Name, err)
		}
		b.ports = append(b.ports, pd)
	}

	switch kind {
	case KindCompute:
		if decl.Program == "" {
			return nil, invalidScript("compute builder without program")
		}
		if len(decl.Nodes) > 0 || len(decl.Stages) > 0 || len(decl.Outputs) > 0 {
			return nil, invalidScript("compute builder with node, stage or output blocks")
		}
		if n := len(decl.LocalSize); n > 3 {
			return nil, invalidScript("local_size has %d components", n)
		}
		for _, pc := range decl.PushConstants {
			t, err := ParsePushConstantType(pc.Type)
			if err != nil {
				return nil, invalidScript("push constant %q: %v", pc.Name, err)
			}
			b.push = append(b.push, PushConstant{Name: pc.Name, Type: t, Value: b.pushValue(pc.Value)})
		}
	case KindContainer:
		if decl.Program != "" || len(decl.PushConstants) > 0 {
			return nil, invalidScript("container builder with program or push constants")
		}
		seen := make(map[string]bool)
		for _, n := range allScriptNodes(decl) {
			if n.Builder == "" {
				return nil, invalidScript("node %q without builder", n.Name)
			}
			if seen[n.Name] {
				return nil, invalidScript("duplicate node %q", n.Name)
			}
			seen[n.Name] = true
		}
	}
	return b, nil
}

func allScriptNodes(decl *hclscript.Builder) []*hclscript.Node {
	nodes := append([]*hclscript.Node(nil), decl.Nodes...)
	for _, st := range decl.Stages {
		nodes = append(nodes, st.Nodes...)
	}
	return nodes
}

func (b *scriptBuilder) portDescriptor(p *hclscript.Port) (PortDescriptor, error) {
	if p.Binding < 0 {
		return PortDescriptor{}, fmt.Errorf("negative binding %d", p.Binding)
	}
	dir, err := ParsePortDirection(p.Direction)
	if err != nil {
		return PortDescriptor{}, err
	}
	typ, err := ParsePortType(p.Type)
	if err != nil {
		return PortDescriptor{}, err
	}
	pd := PortDescriptor{
		Binding:   uint32(p.Binding),
		Name:      p.Name,
		Direction: dir,
		Type:      typ,
		Optional:  p.Optional,
		Channels:  uint32(p.Channels),
	}
	for _, s := range p.ChannelTypes {
		ct, err := ParseChannelType(s)
		if err != nil {
			return PortDescriptor{}, err
		}
		pd.ChannelTypes = append(pd.ChannelTypes, ct)
	}
	if p.Normalized != nil {
		pd.Coordinates = CoordinatesUnnormalized
		if *p.Normalized {
			pd.Coordinates = CoordinatesNormalized
		}
	}
	if p.Allocate != nil {
		if dir != PortOut {
			return PortDescriptor{}, fmt.Errorf("allocate on an in-port")
		}
		if b.kind != KindCompute {
			return PortDescriptor{}, fmt.Errorf("allocate on a container port")
		}
		rule, err := b.outputRule(p.Allocate, typ)
		if err != nil {
			return PortDescriptor{}, err
		}
		pd.Output = rule
	}
	return pd, nil
}

var (
	imageUsageNames = map[string]ImageUsage{
		"TransferSrc": ImageUsageTransferSrc,
		"TransferDst": ImageUsageTransferDst,
		"Sampled":     ImageUsageSampled,
		"Storage":     ImageUsageStorage,
	}
	bufferUsageNames = map[string]BufferUsage{
		"TransferSrc": BufferUsageTransferSrc,
		"TransferDst": BufferUsageTransferDst,
		"Storage":     BufferUsageStorage,
		"Uniform":     BufferUsageUniform,
		"Index":       BufferUsageIndex,
		"Vertex":      BufferUsageVertex,
		"Indirect":    BufferUsageIndirect,
	}
)

func (b *scriptBuilder) outputRule(a *hclscript.Allocate, typ PortType) (*OutputRule, error) {
	rule := &OutputRule{View: ImageViewDescriptor{NormalizedCoordinates: a.Normalized}}

	if !typ.IsImage() {
		for _, u := range a.Usage {
			flag, ok := bufferUsageNames[u]
			if !ok {
				return nil, fmt.Errorf("unknown buffer usage %q", u)
			}
			rule.BufferUsage |= flag
		}
		rule.BufferSize = func(n *ComputeNode) (uint64, error) {
			var size uint64
			if a.Like != "" {
				sz, err := n.PortBufferSize(a.Like)
				if err != nil {
					return 0, err
				}
				size = sz
			}
			if !hclscript.IsNull(a.Size) {
				v, err := evalUint(a.Size, computeContext(n))
				if err != nil {
					return 0, fmt.Errorf("size: %w", err)
				}
				size = v
			}
			return size, nil
		}
		return rule, nil
	}

	for _, u := range a.Usage {
		flag, ok := imageUsageNames[u]
		if !ok {
			return nil, fmt.Errorf("unknown image usage %q", u)
		}
		rule.ImageUsage |= flag
	}
	rule.Image = func(n *ComputeNode) (ImageDescriptor, error) {
		desc := ImageDescriptor{Depth: 1, Channels: 1, ChannelType: ChannelUint8}
		if a.Like != "" {
			d, err := n.PortImageDescriptor(a.Like)
			if err != nil {
				return ImageDescriptor{}, err
			}
			desc = d
		}
		ctx := computeContext(n)
		dims := []struct {
			name string
			expr hcl.Expression
			dst  *uint32
		}{
			{"width", a.Width, &desc.Width},
			{"height", a.Height, &desc.Height},
			{"depth", a.Depth, &desc.Depth},
			{"channels", a.Channels, &desc.Channels},
		}
		for _, d := range dims {
			if hclscript.IsNull(d.expr) {
				continue
			}
			v, err := evalUint(d.expr, ctx)
			if err != nil {
				return ImageDescriptor{}, fmt.Errorf("%s: %w", d.name, err)
			}
			*d.dst = uint32(v)
		}
		if !hclscript.IsNull(a.ChannelType) {
			v, diags := a.ChannelType.Value(ctx)
			if diags.HasErrors() {
				return ImageDescriptor{}, diagError(diags)
			}
			if v.Type() != cty.String || v.IsNull() {
				return ImageDescriptor{}, fmt.Errorf("channel_type must be a string")
			}
			ct, err := ParseChannelType(v.AsString())
			if err != nil {
				return ImageDescriptor{}, err
			}
			desc.ChannelType = ct
		}
		return desc, nil
	}
	return rule, nil
}

func (b *scriptBuilder) pushValue(expr hcl.Expression) func(n *ComputeNode) (float64, error) {
	return func(n *ComputeNode) (float64, error) {
		v, diags := expr.Value(computeContext(n))
		if diags.HasErrors() {
			return 0, diagError(diags)
		}
		if v.Type() == cty.Bool && !v.IsNull() {
			if v.True() {
				return 1, nil
			}
			return 0, nil
		}
		return hclscript.Float(v)
	}
}

// Name returns the builder name.
func (b *scriptBuilder) Name() string { return b.decl.Name }

// Kind returns the builder kind.
func (b *scriptBuilder) Kind() NodeKind { return b.kind }

// Summary returns the script summary.
func (b *scriptBuilder) Summary() string { return b.decl.Summary }

// Dependencies returns the builders named by node blocks.
func (b *scriptBuilder) Dependencies() []string { return b.decl.Dependencies() }

// Describe returns the descriptor of the scripted node.
func (b *scriptBuilder) Describe(*Session) (*NodeDescriptor, error) {
	desc := &NodeDescriptor{
		Builder:    b.decl.Name,
		Kind:       b.kind,
		Summary:    b.decl.Summary,
		Ports:      b.ports,
		Parameters: b.params,
	}
	if b.kind == KindContainer {
		desc.Compose = b.compose
		return desc.Clone(), nil
	}

	desc.Program = b.decl.Program
	desc.EntryPoint = b.decl.EntryPoint
	for i, v := range b.decl.LocalSize {
		desc.LocalSize[i] = uint32(v)
	}
	desc.GridFrom = b.decl.GridFrom
	desc.GridElementSize = uint64(b.decl.GridElementSize)
	desc.PushConstants = b.push
	if len(b.decl.Validate) > 0 {
		desc.OnInit = func(n Node) error {
			return b.validate(computeContext(n))
		}
	}
	return desc.Clone(), nil
}

func (b *scriptBuilder) validate(ctx *hcl.EvalContext) error {
	for _, v := range b.decl.Validate {
		ok, diags := v.Condition.Value(ctx)
		if diags.HasErrors() {
			return diagError(diags)
		}
		if ok.Type() != cty.Bool || ok.IsNull() {
			return invalidScript("validate condition is not a bool")
		}
		if !ok.True() {
			return fmt.Errorf("%w: %s", ErrInvalidParameter, v.Message)
		}
	}
	return nil
}

// composer evaluates the node, stage and output blocks of a container.
type composer struct {
	b      *scriptBuilder
	c      *ContainerNode
	single map[string]cty.Value
	staged map[string][]cty.Value
}

func (b *scriptBuilder) compose(c *ContainerNode) error {
	cm := &composer{
		b:      b,
		c:      c,
		single: make(map[string]cty.Value),
		staged: make(map[string][]cty.Value),
	}
	if err := b.validate(cm.context(-1)); err != nil {
		return err
	}

	for _, step := range b.decl.Steps() {
		if step.Node != nil {
			if err := cm.createNode(step.Node, step.Node.Name, -1); err != nil {
				return err
			}
			continue
		}
		st := step.Stage
		count, err := evalCount(st.Count, cm.context(-1))
		if err != nil {
			return fmt.Errorf("stage %q: %w", st.Name, err)
		}
		for i := range count {
			for _, nd := range st.Nodes {
				if err := cm.createNode(nd, fmt.Sprintf("%s_%d", nd.Name, i), i); err != nil {
					return err
				}
			}
		}
	}

	for _, out := range b.decl.Outputs {
		if err := cm.expose(out); err != nil {
			return fmt.Errorf("output %q: %w", out.Name, err)
		}
	}
	return nil
}

func (cm *composer) context(index int) *hcl.EvalContext {
	vars := map[string]cty.Value{
		"params": parametersValue(cm.c),
		"ports":  nodePortsValue(cm.c),
		"nodes":  cm.nodesValue(),
	}
	if index >= 0 {
		vars["count"] = cty.ObjectVal(map[string]cty.Value{"index": cty.NumberIntVal(int64(index))})
	}
	return hclscript.EvalContext(vars)
}

func (cm *composer) nodesValue() cty.Value {
	attrs := make(map[string]cty.Value, len(cm.single)+len(cm.staged))
	for name, v := range cm.single {
		attrs[name] = v
	}
	for name, vs := range cm.staged {
		attrs[name] = cty.TupleVal(vs)
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(attrs)
}

func (cm *composer) createNode(nd *hclscript.Node, name string, index int) error {
	ctx := cm.context(index)
	child, err := cm.c.CreateNode(name, nd.Builder)
	if err != nil {
		return fmt.Errorf("node %q: %w", name, err)
	}

	if !hclscript.IsNull(nd.Parameters) {
		v, diags := nd.Parameters.Value(ctx)
		if diags.HasErrors() {
			return fmt.Errorf("node %q parameters: %w", name, diagError(diags))
		}
		if err := forEachAttr(v, func(key string, val cty.Value) error {
			cur, err := child.Parameter(key)
			if err != nil {
				return err
			}
			p, err := parameterFromValue(cur.Type(), val)
			if err != nil {
				return fmt.Errorf("%w: %q: %v", ErrParameterTypeMismatch, key, err)
			}
			return child.SetParameter(key, p)
		}); err != nil {
			return fmt.Errorf("node %q: %w", name, err)
		}
	}

	if !hclscript.IsNull(nd.Bind) {
		v, diags := nd.Bind.Value(ctx)
		if diags.HasErrors() {
			return fmt.Errorf("node %q bind: %w", name, diagError(diags))
		}
		if err := forEachAttr(v, func(key string, val cty.Value) error {
			p, err := portFromValue(val)
			if err != nil {
				return fmt.Errorf("port %q: %w", key, err)
			}
			if !p.IsBound() {
				return fmt.Errorf("%w: %q is bound to unbound port %q", ErrMissingBinding, key, p.Name())
			}
			return child.Bind(key, p.Resource())
		}); err != nil {
			return fmt.Errorf("node %q: %w", name, err)
		}
	}

	if err := child.Init(); err != nil {
		return err
	}

	ports := nodePortsValue(child)
	if index >= 0 {
		cm.staged[nd.Name] = append(cm.staged[nd.Name], ports)
	} else {
		cm.single[nd.Name] = ports
	}
	return nil
}

func (cm *composer) expose(out *hclscript.Output) error {
	if hclscript.IsNull(out.Count) {
		p, err := cm.outputPort(out, -1)
		if err != nil {
			return err
		}
		return cm.c.Expose(out.Name, p)
	}
	count, err := evalCount(out.Count, cm.context(-1))
	if err != nil {
		return err
	}
	for i := range count {
		p, err := cm.outputPort(out, i)
		if err != nil {
			return err
		}
		if err := cm.c.Expose(fmt.Sprintf("%s_%d", out.Name, i), p); err != nil {
			return err
		}
	}
	return nil
}

func (cm *composer) outputPort(out *hclscript.Output, index int) (*Port, error) {
	v, diags := out.Value.Value(cm.context(index))
	if diags.HasErrors() {
		return nil, diagError(diags)
	}
	return portFromValue(v)
}

func forEachAttr(v cty.Value, fn func(key string, val cty.Value) error) error {
	if v.IsNull() {
		return nil
	}
	t := v.Type()
	if !t.IsObjectType() && !t.IsMapType() {
		return invalidScript("want an object, got %s", t.FriendlyName())
	}
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		if err := fn(k.AsString(), val); err != nil {
			return err
		}
	}
	return nil
}

func evalCount(expr hcl.Expression, ctx *hcl.EvalContext) (int, error) {
	v, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return 0, diagError(diags)
	}
	if !hclscript.IsInteger(v) {
		return 0, invalidScript("count must be a whole number")
	}
	n, _ := hclscript.Int(v)
	if n < 0 {
		return 0, fmt.Errorf("%w: count %d < 0", ErrInvalidParameter, n)
	}
	return int(n), nil
}

func evalUint(expr hcl.Expression, ctx *hcl.EvalContext) (uint64, error) {
	v, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return 0, diagError(diags)
	}
	n, err := hclscript.Int(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative value %d", ErrUnresolvedOutputShape, n)
	}
	return uint64(n), nil
}

// computeContext exposes params and ports of n.
func computeContext(n Node) *hcl.EvalContext {
	return hclscript.EvalContext(map[string]cty.Value{
		"params": parametersValue(n),
		"ports":  nodePortsValue(n),
	})
}

// portCapsule carries *Port through expressions, so script forwarding is
// by reference.
var portCapsule = cty.Capsule("port", reflect.TypeOf(Port{}))

// portValue describes p: ref is the port itself; the remaining attributes
// are the shape of the bound resource, zero when unbound.
func portValue(p *Port) cty.Value {
	var (
		width, height, depth, channels uint32
		channelType                    string
		size                           uint64
	)
	if img := p.Image(); img != nil {
		d := img.desc
		width, height, depth, channels = d.Width, d.Height, d.Depth, d.Channels
		channelType = d.ChannelType.String()
	}
	if r := p.Resource(); r != nil {
		size = r.ByteSize()
	}
	return cty.ObjectVal(map[string]cty.Value{
		"ref":          cty.CapsuleVal(portCapsule, p),
		"name":         cty.StringVal(p.Name()),
		"bound":        cty.BoolVal(p.IsBound()),
		"width":        cty.NumberUIntVal(uint64(width)),
		"height":       cty.NumberUIntVal(uint64(height)),
		"depth":        cty.NumberUIntVal(uint64(depth)),
		"channels":     cty.NumberUIntVal(uint64(channels)),
		"channel_type": cty.StringVal(channelType),
		"size":         cty.NumberUIntVal(size),
	})
}

func portFromValue(v cty.Value) (*Port, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, invalidScript("port reference is null")
	}
	t := v.Type()
	if t.Equals(portCapsule) {
		return v.EncapsulatedValue().(*Port), nil
	}
	if t.IsObjectType() && t.HasAttribute("ref") {
		return portFromValue(v.GetAttr("ref"))
	}
	return nil, invalidScript("want a port reference, got %s", t.FriendlyName())
}

func nodePortsValue(n Node) cty.Value {
	attrs := make(map[string]cty.Value)
	for _, pd := range n.Ports() {
		if p, err := n.Port(pd.Name); err == nil {
			attrs[pd.Name] = portValue(p)
		}
	}
	if c, ok := n.(*ContainerNode); ok {
		for _, name := range c.exposed {
			attrs[name] = portValue(c.forwards[name])
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(attrs)
}

func parametersValue(n Node) cty.Value {
	specs := n.Descriptor().Parameters
	if len(specs) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(specs))
	for _, spec := range specs {
		p, err := n.Parameter(spec.Name)
		if err != nil {
			continue
		}
		attrs[spec.Name] = parameterValue(p)
	}
	return cty.ObjectVal(attrs)
}

func parameterValue(p Parameter) cty.Value {
	switch p.Type() {
	case ParameterInt:
		return cty.NumberIntVal(p.Int())
	case ParameterFloat:
		return cty.NumberFloatVal(p.Float())
	case ParameterString:
		return cty.StringVal(p.StringValue())
	case ParameterBool:
		return cty.BoolVal(p.Bool())
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

func parameterFromValue(t ParameterType, v cty.Value) (Parameter, error) {
	if v.IsNull() || !v.IsKnown() {
		return Parameter{}, fmt.Errorf("value is null")
	}
	switch t {
	case ParameterInt:
		if !hclscript.IsInteger(v) {
			return Parameter{}, fmt.Errorf("want int, got %s", v.Type().FriendlyName())
		}
		n, err := hclscript.Int(v)
		if err != nil {
			return Parameter{}, err
		}
		return IntParameter(n), nil
	case ParameterFloat:
		f, err := hclscript.Float(v)
		if err != nil {
			return Parameter{}, err
		}
		return FloatParameter(f), nil
	case ParameterString:
		if v.Type() != cty.String {
			return Parameter{}, fmt.Errorf("want string, got %s", v.Type().FriendlyName())
		}
		return StringParameter(v.AsString()), nil
	case ParameterBool:
		if v.Type() != cty.Bool {
			return Parameter{}, fmt.Errorf("want bool, got %s", v.Type().FriendlyName())
		}
		return BoolParameter(v.True()), nil
	}
	return Parameter{}, fmt.Errorf("unknown parameter type %v", t)
}
