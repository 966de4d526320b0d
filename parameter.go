package nodegraph

import (
	"fmt"
	"strconv"
)

// ParameterType is the tag of a Parameter.
type ParameterType uint8

// Parameter types.
const (
	ParameterInt ParameterType = iota + 1
	ParameterFloat
	ParameterString
	ParameterBool
)

func (t ParameterType) String() string {
	switch t {
	case ParameterInt:
		return "int"
	case ParameterFloat:
		return "float"
	case ParameterString:
		return "string"
	case ParameterBool:
		return "bool"
	default:
		return fmt.Sprintf("ParameterType(%d)", uint8(t))
	}
}

// ParseParameterType converts a type name as printed by String.
func ParseParameterType(s string) (ParameterType, error) {
	for t := ParameterInt; t <= ParameterBool; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown parameter type %q", ErrParameterTypeMismatch, s)
}

// Parameter is a tagged value: int64, float64, string or bool.
// The zero Parameter has no type and is not a valid value.
type Parameter struct {
	typ ParameterType
	i   int64
	f   float64
	s   string
	b   bool
}

// IntParameter returns an int parameter.
func IntParameter(v int64) Parameter { return Parameter{typ: ParameterInt, i: v} }

// FloatParameter returns a float parameter.
func FloatParameter(v float64) Parameter { return Parameter{typ: ParameterFloat, f: v} }

// StringParameter returns a string parameter.
func StringParameter(v string) Parameter { return Parameter{typ: ParameterString, s: v} }

// BoolParameter returns a bool parameter.
func BoolParameter(v bool) Parameter { return Parameter{typ: ParameterBool, b: v} }

// Type returns the parameter tag.
func (p Parameter) Type() ParameterType { return p.typ }

// IsValid reports whether the parameter holds a value.
func (p Parameter) IsValid() bool { return p.typ != 0 }

// Int returns the int value, or 0 for other types.
func (p Parameter) Int() int64 { return p.i }

// Float returns the float value, or 0 for other types.
func (p Parameter) Float() float64 { return p.f }

// StringValue returns the string value, or "" for other types.
func (p Parameter) StringValue() string { return p.s }

// Bool returns the bool value, or false for other types.
func (p Parameter) Bool() bool { return p.b }

// Number returns int and float values as float64.
func (p Parameter) Number() (float64, bool) {
	switch p.typ {
	case ParameterInt:
		return float64(p.i), true
	case ParameterFloat:
		return p.f, true
	default:
		return 0, false
	}
}

func (p Parameter) String() string {
	switch p.typ {
	case ParameterInt:
		return strconv.FormatInt(p.i, 10)
	case ParameterFloat:
		return strconv.FormatFloat(p.f, 'g', -1, 64)
	case ParameterString:
		return strconv.Quote(p.s)
	case ParameterBool:
		return strconv.FormatBool(p.b)
	default:
		return "<invalid>"
	}
}

// ParameterSpec declares a node parameter and its default.
type ParameterSpec struct {
	Name    string
	Default Parameter
	Summary string
}

// Type returns the declared parameter type.
func (s ParameterSpec) Type() ParameterType { return s.Default.typ }

// parameterSet holds the current values of the declared parameters.
type parameterSet struct {
	specs  []ParameterSpec
	values map[string]Parameter
}

func newParameterSet(specs []ParameterSpec) parameterSet {
	ps := parameterSet{specs: specs, values: make(map[string]Parameter, len(specs))}
	for _, spec := range specs {
		ps.values[spec.Name] = spec.Default
	}
	return ps
}

func (ps parameterSet) get(name string) (Parameter, error) {
	v, ok := ps.values[name]
	if !ok {
		return Parameter{}, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return v, nil
}

func (ps parameterSet) set(name string, v Parameter) error {
	cur, ok := ps.values[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if cur.typ != v.typ {
		return fmt.Errorf("%w: %q is %v, got %v", ErrParameterTypeMismatch, name, cur.typ, v.typ)
	}
	ps.values[name] = v
	return nil
}
