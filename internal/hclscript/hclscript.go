// Package hclscript decodes node-builder scripts written in HCL.
//
// A script holds builder blocks:
//
//	builder "lluvia/imgproc/ImagePyramid_r8ui" {
//	  kind    = "container"
//	  summary = "Gray image pyramid."
//
//	  parameter "levels" {
//	    type    = "int"
//	    default = 1
//	  }
//
//	  port "in_gray" {
//	    binding   = 0
//	    direction = "in"
//	    type      = "ImageView"
//	  }
//
//	  stage "level" {
//	    count = params.levels - 1
//	    node "downX" { ... }
//	  }
//
//	  output "out_gray" {
//	    count = params.levels
//	    value = ...
//	  }
//	}
//
// Expressions stay undecoded here; they are evaluated when nodes are built.
package hclscript

import (
	"fmt"
	"math"
	"math/big"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// File is a decoded script.
type File struct {
	Builders []*Builder `hcl:"builder,block"`
}

// Builder is one builder block.
type Builder struct {
	Name    string `hcl:"name,label"`
	Kind    string `hcl:"kind"`
	Summary string `hcl:"summary,optional"`

	Parameters []*Parameter `hcl:"parameter,block"`
	Ports      []*Port      `hcl:"port,block"`
	Validate   []*Validate  `hcl:"validate,block"`

	Program         string          `hcl:"program,optional"`
	EntryPoint      string          `hcl:"entry_point,optional"`
	LocalSize       []int           `hcl:"local_size,optional"`
	GridFrom        string          `hcl:"grid_from,optional"`
	GridElementSize int             `hcl:"grid_element_size,optional"`
	PushConstants   []*PushConstant `hcl:"push_constant,block"`

	Nodes   []*Node   `hcl:"node,block"`
	Stages  []*Stage  `hcl:"stage,block"`
	Outputs []*Output `hcl:"output,block"`

	DefRange hcl.Range `hcl:",def_range"`
}

// Parameter declares a node parameter.
type Parameter struct {
	Name    string         `hcl:"name,label"`
	Type    string         `hcl:"type"`
	Default hcl.Expression `hcl:"default"`
	Summary string         `hcl:"summary,optional"`
}

// Port declares a node port.
type Port struct {
	Name         string    `hcl:"name,label"`
	Binding      int       `hcl:"binding"`
	Direction    string    `hcl:"direction"`
	Type         string    `hcl:"type"`
	Optional     bool      `hcl:"optional,optional"`
	Channels     int       `hcl:"channels,optional"`
	ChannelTypes []string  `hcl:"channel_types,optional"`
	Normalized   *bool     `hcl:"normalized_coordinates,optional"`
	Allocate     *Allocate `hcl:"allocate,block"`
}

// Allocate is the output rule of a node-owned port. Absent expressions
// evaluate to null.
type Allocate struct {
	Like        string         `hcl:"like,optional"`
	Width       hcl.Expression `hcl:"width,optional"`
	Height      hcl.Expression `hcl:"height,optional"`
	Depth       hcl.Expression `hcl:"depth,optional"`
	Channels    hcl.Expression `hcl:"channels,optional"`
	ChannelType hcl.Expression `hcl:"channel_type,optional"`
	Size        hcl.Expression `hcl:"size,optional"`
	Usage       []string       `hcl:"usage,optional"`
	Normalized  bool           `hcl:"normalized_coordinates,optional"`
}

// Validate rejects a node at Init when Condition is false.
type Validate struct {
	Condition hcl.Expression `hcl:"condition"`
	Message   string         `hcl:"message"`
}

// PushConstant is one 4-byte push constant.
type PushConstant struct {
	Name  string         `hcl:"name,label"`
	Type  string         `hcl:"type"`
	Value hcl.Expression `hcl:"value"`
}

// Node creates one child of a container.
type Node struct {
	Name       string         `hcl:"name,label"`
	Builder    string         `hcl:"builder"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
	Bind       hcl.Expression `hcl:"bind,optional"`

	DefRange hcl.Range `hcl:",def_range"`
}

// Stage repeats its nodes Count times with count.index set.
type Stage struct {
	Name  string         `hcl:"name,label"`
	Count hcl.Expression `hcl:"count"`
	Nodes []*Node        `hcl:"node,block"`

	DefRange hcl.Range `hcl:",def_range"`
}

// Output exposes a port of the container. With Count it exposes
// <name>_0 .. <name>_{count-1}.
type Output struct {
	Name  string         `hcl:"name,label"`
	Count hcl.Expression `hcl:"count,optional"`
	Value hcl.Expression `hcl:"value"`
}

// Step is a node or a stage of a container, in source order.
type Step struct {
	Node  *Node
	Stage *Stage
}

// Steps returns the nodes and stages of b in source order.
func (b *Builder) Steps() []Step {
	steps := make([]Step, 0, len(b.Nodes)+len(b.Stages))
	for _, n := range b.Nodes {
		steps = append(steps, Step{Node: n})
	}
	for _, s := range b.Stages {
		steps = append(steps, Step{Stage: s})
	}
	slices.SortStableFunc(steps, func(a, c Step) int {
		return a.offset() - c.offset()
	})
	return steps
}

func (s Step) offset() int {
	if s.Node != nil {
		return s.Node.DefRange.Start.Byte
	}
	return s.Stage.DefRange.Start.Byte
}

// Dependencies returns the builders named by nodes and stages, without
// duplicates.
func (b *Builder) Dependencies() []string {
	var deps []string
	add := func(name string) {
		if !slices.Contains(deps, name) {
			deps = append(deps, name)
		}
	}
	for _, n := range b.Nodes {
		add(n.Builder)
	}
	for _, s := range b.Stages {
		for _, n := range s.Nodes {
			add(n.Builder)
		}
	}
	return deps
}

// Parse decodes a script.
func Parse(filename string, src []byte) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	var file File
	if diags := gohcl.DecodeBody(f.Body, nil, &file); diags.HasErrors() {
		return nil, diags
	}
	return &file, nil
}

// Functions returns the functions available to expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"min":    stdlib.MinFunc,
		"max":    stdlib.MaxFunc,
		"floor":  stdlib.FloorFunc,
		"ceil":   stdlib.CeilFunc,
		"abs":    stdlib.AbsoluteFunc,
		"format": stdlib.FormatFunc,
		"length": stdlib.LengthFunc,
	}
}

// EvalContext returns a context with vars and Functions.
func EvalContext(vars map[string]cty.Value) *hcl.EvalContext {
	return &hcl.EvalContext{Variables: vars, Functions: Functions()}
}

// IsNull reports whether expr is absent or evaluates to a literal null
// without variables.
func IsNull(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}

// Int converts a number value, flooring fractions.
func Int(v cty.Value) (int64, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, fmt.Errorf("value is null or unknown")
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("want number, got %s", v.Type().FriendlyName())
	}
	f, _ := v.AsBigFloat().Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("number %v out of range", f)
	}
	return int64(math.Floor(f)), nil
}

// IsInteger reports whether v is a whole number.
func IsInteger(v cty.Value) bool {
	if v.Type() != cty.Number || v.IsNull() || !v.IsKnown() {
		return false
	}
	return v.AsBigFloat().IsInt()
}

// Float converts a number value.
func Float(v cty.Value) (float64, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, fmt.Errorf("value is null or unknown")
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("want number, got %s", v.Type().FriendlyName())
	}
	f, acc := v.AsBigFloat().Float64()
	if acc != big.Exact && (math.IsInf(f, 0)) {
		return 0, fmt.Errorf("number out of range")
	}
	return f, nil
}
