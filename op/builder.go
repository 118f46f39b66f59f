package op

// DescriptorBuilder declares an operation contract fluently:
//
//	desc, err := op.NewDescriptor("flowforge.ops.resample").
//		Description("Resample a grid to a new resolution").
//		Version("1.2").
//		Cacheable(true).
//		Input("grid", op.TypeMap).Done().
//		Input("factor", op.TypeFloat).Default(1.0).Range(0, 16).Done().
//		Output(op.ReturnOutput, op.TypeMap).AddsHistory().Done().
//		Build()
type DescriptorBuilder struct {
	desc *Descriptor
	err  error
}

// NewDescriptor starts building a descriptor for the given qualified name.
func NewDescriptor(qualifiedName string) *DescriptorBuilder {
	return &DescriptorBuilder{
		desc: &Descriptor{
			QualifiedName: qualifiedName,
			Header:        make(map[string]any),
			outputs:       make(map[string]*OutputSpec),
		},
	}
}

// Description sets the header description.
func (b *DescriptorBuilder) Description(text string) *DescriptorBuilder {
	b.desc.Header[HeaderDescription] = text
	return b
}

// Version sets the header version.
func (b *DescriptorBuilder) Version(version string) *DescriptorBuilder {
	b.desc.Header[HeaderVersion] = version
	return b
}

// Tags sets the header tags.
func (b *DescriptorBuilder) Tags(tags ...string) *DescriptorBuilder {
	b.desc.Header[HeaderTags] = tags
	return b
}

// Cacheable marks results of the operation as cacheable.
func (b *DescriptorBuilder) Cacheable(cacheable bool) *DescriptorBuilder {
	b.desc.Header[HeaderCacheable] = cacheable
	return b
}

// Header sets an arbitrary header entry.
func (b *DescriptorBuilder) Header(key string, value any) *DescriptorBuilder {
	b.desc.Header[key] = value
	return b
}

// Input declares the next input slot; its position is the declaration order.
func (b *DescriptorBuilder) Input(name string, dataType DataType) *InputBuilder {
	spec := &InputSpec{
		Name:     name,
		Position: len(b.desc.Inputs),
		DataType: dataType,
	}
	b.desc.Inputs = append(b.desc.Inputs, spec)
	return &InputBuilder{parent: b, spec: spec}
}

// Output declares a named output slot.
func (b *DescriptorBuilder) Output(name string, dataType DataType) *OutputBuilder {
	spec := &OutputSpec{Name: name, DataType: dataType}
	if _, exists := b.desc.outputs[name]; !exists {
		b.desc.outputOrder = append(b.desc.outputOrder, name)
	}
	b.desc.outputs[name] = spec
	return &OutputBuilder{parent: b, spec: spec}
}

// Monitor declares the reserved deferred input through which the progress
// monitor is injected at invocation time.
func (b *DescriptorBuilder) Monitor() *DescriptorBuilder {
	return b.Input("monitor", TypeMonitor).Deferred().Done()
}

// Build validates and returns the descriptor. A descriptor with no declared
// outputs gets the implicit single unnamed output.
func (b *DescriptorBuilder) Build() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.desc.outputOrder) == 0 {
		b.Output(ReturnOutput, TypeAny)
	}
	if err := b.desc.validate(); err != nil {
		return nil, err
	}
	return b.desc, nil
}

// BuildOpen is Build without the implicit unnamed output, for contracts
// that legitimately declare no outputs at all (workflow containers).
func (b *DescriptorBuilder) BuildOpen() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.desc.validate(); err != nil {
		return nil, err
	}
	return b.desc, nil
}

// MustBuild is Build for statically known-good declarations.
func (b *DescriptorBuilder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// InputBuilder refines one input slot.
type InputBuilder struct {
	parent *DescriptorBuilder
	spec   *InputSpec
}

// Default sets the value used when the input is not supplied.
func (b *InputBuilder) Default(v any) *InputBuilder {
	b.spec.Default = v
	b.spec.HasDefault = true
	return b
}

// Nullable allows an explicit nil value.
func (b *InputBuilder) Nullable() *InputBuilder {
	b.spec.Nullable = true
	return b
}

// ValueSet restricts the input to the given values.
func (b *InputBuilder) ValueSet(values ...any) *InputBuilder {
	b.spec.ValueSet = values
	return b
}

// Range restricts a numeric input to [min, max].
func (b *InputBuilder) Range(min, max float64) *InputBuilder {
	b.spec.ValueRange = &Range{Min: min, Max: max}
	return b
}

// Deferred marks the input as derived from the invocation context.
func (b *InputBuilder) Deferred() *InputBuilder {
	b.spec.Deferred = true
	return b
}

// Convert installs a coercion hook run before the type check.
func (b *InputBuilder) Convert(fn ConvertFunc) *InputBuilder {
	b.spec.Convert = fn
	return b
}

// Done returns to the descriptor builder.
func (b *InputBuilder) Done() *DescriptorBuilder {
	return b.parent
}

// OutputBuilder refines one output slot.
type OutputBuilder struct {
	parent *DescriptorBuilder
	spec   *OutputSpec
}

// Default sets the value used when the operation leaves the output unset.
func (b *OutputBuilder) Default(v any) *OutputBuilder {
	b.spec.Default = v
	b.spec.HasDefault = true
	return b
}

// AddsHistory marks the output as carrying provenance.
func (b *OutputBuilder) AddsHistory() *OutputBuilder {
	b.spec.AddsHistory = true
	return b
}

// Done returns to the descriptor builder.
func (b *OutputBuilder) Done() *DescriptorBuilder {
	return b.parent
}
