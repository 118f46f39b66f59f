package op

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/flowforge/flowforge/types"
)

// DataType tags the declared type of an input or output slot.
type DataType string

const (
	TypeAny     DataType = "any"
	TypeBool    DataType = "bool"
	TypeInt     DataType = "int"
	TypeFloat   DataType = "float"
	TypeStr     DataType = "str"
	TypeList    DataType = "list"
	TypeMap     DataType = "map"
	TypePoint   DataType = "point"
	TypeMonitor DataType = "monitor"
)

// Namespace is the well-known prefix stripped from qualified operation
// names to derive short names.
const Namespace = "flowforge.ops."

// ReturnOutput is the reserved name representing a single unnamed output.
const ReturnOutput = "return"

// Header keys with engine-defined meaning.
const (
	HeaderDescription = "description"
	HeaderVersion     = "version"
	HeaderTags        = "tags"
	HeaderCacheable   = "cacheable"
)

// ConvertFunc coerces a raw value (e.g. a "x,y" string into a Point)
// before the declared type is checked. A conversion failure is reported
// as a validation error, never a crash.
type ConvertFunc func(raw any) (any, error)

// Range restricts a numeric input to [Min, Max].
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// InputSpec describes one named input slot of an operation.
type InputSpec struct {
	Name       string
	Position   int
	DataType   DataType
	Default    any
	HasDefault bool
	Nullable   bool
	ValueSet   []any
	ValueRange *Range
	// Deferred marks an input derived from the invocation context
	// (e.g. the progress monitor) rather than bound from arguments.
	Deferred bool
	Convert  ConvertFunc
}

// OutputSpec describes one named output slot of an operation.
type OutputSpec struct {
	Name       string
	DataType   DataType
	Default    any
	HasDefault bool
	// AddsHistory marks an output that carries provenance: after a
	// successful invocation a deterministic annotation is appended to it.
	AddsHistory bool
}

// Descriptor is the validated contract of a registered operation.
type Descriptor struct {
	QualifiedName string
	Header        map[string]any
	Inputs        []*InputSpec
	outputs       map[string]*OutputSpec
	outputOrder   []string
}

// ShortName strips the well-known namespace prefix from the qualified name.
func (d *Descriptor) ShortName() string {
	return strings.TrimPrefix(d.QualifiedName, Namespace)
}

// Input returns the input spec with the given name, or nil.
func (d *Descriptor) Input(name string) *InputSpec {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// Output returns the output spec with the given name, or nil.
func (d *Descriptor) Output(name string) *OutputSpec {
	return d.outputs[name]
}

// Outputs returns the output specs in declaration order.
func (d *Descriptor) Outputs() []*OutputSpec {
	out := make([]*OutputSpec, 0, len(d.outputOrder))
	for _, name := range d.outputOrder {
		out = append(out, d.outputs[name])
	}
	return out
}

// OutputNames returns the output names in declaration order.
func (d *Descriptor) OutputNames() []string {
	return append([]string(nil), d.outputOrder...)
}

// SingleOutput reports whether the descriptor declares exactly one output,
// returning it if so.
func (d *Descriptor) SingleOutput() (*OutputSpec, bool) {
	if len(d.outputOrder) != 1 {
		return nil, false
	}
	return d.outputs[d.outputOrder[0]], true
}

// Cacheable reports whether the header marks results as cacheable.
func (d *Descriptor) Cacheable() bool {
	v, ok := d.Header[HeaderCacheable]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Version returns the header version, or "" when unset.
func (d *Descriptor) Version() string {
	if v, ok := d.Header[HeaderVersion].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy of the descriptor. Augment patches the copy so
// a shared descriptor is never mutated behind a registration.
func (d *Descriptor) Clone() *Descriptor {
	c := &Descriptor{
		QualifiedName: d.QualifiedName,
		Header:        make(map[string]any, len(d.Header)),
		Inputs:        make([]*InputSpec, 0, len(d.Inputs)),
		outputs:       make(map[string]*OutputSpec, len(d.outputs)),
		outputOrder:   append([]string(nil), d.outputOrder...),
	}
	for k, v := range d.Header {
		c.Header[k] = v
	}
	for _, in := range d.Inputs {
		dup := *in
		dup.ValueSet = append([]any(nil), in.ValueSet...)
		if in.ValueRange != nil {
			r := *in.ValueRange
			dup.ValueRange = &r
		}
		c.Inputs = append(c.Inputs, &dup)
	}
	for name, out := range d.outputs {
		dup := *out
		c.outputs[name] = &dup
	}
	return c
}

// ProvenanceEntry renders the deterministic provenance annotation for an
// invocation: operation name and version plus a stable rendering of each
// input, marking values that came from declared defaults.
func (d *Descriptor) ProvenanceEntry(bound map[string]any, defaulted map[string]bool) string {
	names := make([]string, 0, len(d.Inputs))
	for _, in := range d.Inputs {
		if in.Deferred {
			continue
		}
		names = append(names, in.Name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(d.QualifiedName)
	if v := d.Version(); v != "" {
		sb.WriteString(" v")
		sb.WriteString(v)
	}
	sb.WriteString(":")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(renderValue(bound[name]))
		if defaulted[name] {
			sb.WriteString(" (default)")
		}
	}
	return sb.String()
}

// renderValue produces a stable, compact rendering of an input value.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// validate checks the structural invariants of a built descriptor: unique
// input names with dense positions.
func (d *Descriptor) validate() error {
	if d.QualifiedName == "" {
		return types.NewError(types.ErrValidation, "operation qualified name is required")
	}
	seen := make(map[string]bool, len(d.Inputs))
	for i, in := range d.Inputs {
		if in.Name == "" {
			return types.Errorf(types.ErrValidation, "input at position %d has no name", i)
		}
		if seen[in.Name] {
			return types.Errorf(types.ErrValidation, "duplicate input %q", in.Name).WithOperation(d.QualifiedName)
		}
		seen[in.Name] = true
		if in.Position != i {
			return types.Errorf(types.ErrValidation, "input %q has position %d, want %d", in.Name, in.Position, i).WithOperation(d.QualifiedName)
		}
	}
	return nil
}
