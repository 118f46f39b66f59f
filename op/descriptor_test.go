package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/types"
)

func TestDescriptorBuilder_Basic(t *testing.T) {
	desc, err := NewDescriptor("flowforge.ops.add").
		Description("Adds two numbers").
		Version("1.0").
		Cacheable(true).
		Input("x", TypeFloat).Done().
		Input("y", TypeFloat).Default(1.0).Done().
		Output(ReturnOutput, TypeFloat).Done().
		Build()

	require.NoError(t, err)
	assert.Equal(t, "flowforge.ops.add", desc.QualifiedName)
	assert.Equal(t, "add", desc.ShortName())
	assert.True(t, desc.Cacheable())
	assert.Equal(t, "1.0", desc.Version())

	require.Len(t, desc.Inputs, 2)
	assert.Equal(t, 0, desc.Inputs[0].Position)
	assert.Equal(t, 1, desc.Inputs[1].Position)
	assert.True(t, desc.Inputs[1].HasDefault)

	out, single := desc.SingleOutput()
	require.True(t, single)
	assert.Equal(t, ReturnOutput, out.Name)
}

func TestDescriptorBuilder_ImplicitReturnOutput(t *testing.T) {
	desc, err := NewDescriptor("flowforge.ops.noout").
		Input("x", TypeAny).Done().
		Build()

	require.NoError(t, err)
	_, single := desc.SingleOutput()
	assert.True(t, single, "a descriptor with no declared outputs gets the implicit unnamed output")
	assert.Equal(t, []string{ReturnOutput}, desc.OutputNames())
}

func TestDescriptorBuilder_DuplicateInput(t *testing.T) {
	_, err := NewDescriptor("flowforge.ops.dup").
		Input("x", TypeInt).Done().
		Input("x", TypeInt).Done().
		Build()

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestDescriptor_Clone(t *testing.T) {
	desc := NewDescriptor("flowforge.ops.orig").
		Input("x", TypeFloat).Range(0, 10).ValueSet(1.0, 2.0).Done().
		MustBuild()

	clone := desc.Clone()
	clone.Header["extra"] = true
	clone.Input("x").ValueRange.Max = 99
	clone.Input("x").ValueSet[0] = 7.0

	assert.NotContains(t, desc.Header, "extra")
	assert.Equal(t, 10.0, desc.Input("x").ValueRange.Max)
	assert.Equal(t, 1.0, desc.Input("x").ValueSet[0])
}

func TestDescriptor_ProvenanceEntryIsDeterministic(t *testing.T) {
	desc := NewDescriptor("flowforge.ops.calc").
		Version("2.1").
		Input("b", TypeFloat).Done().
		Input("a", TypeStr).Done().
		MustBuild()

	bound := map[string]any{"b": 3.5, "a": "grid"}
	defaulted := map[string]bool{"b": true}

	entry := desc.ProvenanceEntry(bound, defaulted)
	assert.Equal(t, `flowforge.ops.calc v2.1: a="grid", b=3.5 (default)`, entry)

	// Same inputs always render identically.
	assert.Equal(t, entry, desc.ProvenanceEntry(bound, defaulted))
}
