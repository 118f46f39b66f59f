package workflow_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/flowforge/flowforge/types"
	"github.com/flowforge/flowforge/workflow"
)

// calcDocJSON exercises every step kind and both reference spellings.
const calcDocJSON = `{
  "qualified_name": "flowforge.workflows.calc",
  "header": {"description": "arithmetic demo"},
  "inputs": {"x": {"value": 3}},
  "outputs": {"result": "op3.w"},
  "steps": [
    {"id": "op1", "op": "flowforge.ops.add",
     "inputs": {"a": ".x", "b": {"value": 1}}},
    {"id": "op2", "op": "flowforge.ops.scale",
     "inputs": {"y": {"source": "op1.y"}}},
    {"id": "op3", "op": "flowforge.ops.combine",
     "inputs": {"b": "op2.b"}},
    {"id": "alias", "no_op": true,
     "inputs": {"in": ".x"}, "outputs": {"out": ".in"}},
    {"id": "note", "expression": "y * 2",
     "inputs": {"y": "op1.y"}, "outputs": {"doubled": {}}},
    {"id": "shell", "sub_process_arguments": ["sh", "-c", "exit {code}"],
     "inputs": {"code": {"value": 0}}}
  ]
}`

func TestDecode_Invoke(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	doc, err := workflow.DocumentFromJSON([]byte(calcDocJSON))
	require.NoError(t, err)
	w, err := workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	require.NoError(t, err)

	require.NoError(t, w.Invoke(context.Background(), &workflow.Env{Registry: reg}))
	result, ok := outPort(t, w, "result").Value(w)
	require.True(t, ok)
	assert.Equal(t, 32.0, result)
}

func TestEncode_RoundTrip(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	doc, err := workflow.DocumentFromJSON([]byte(calcDocJSON))
	require.NoError(t, err)
	w, err := workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	require.NoError(t, err)

	back, err := workflow.Encode(w)
	require.NoError(t, err)
	data, err := back.ToJSON()
	require.NoError(t, err)

	// Both reference spellings and the empty-port form survive intact.
	assert.JSONEq(t, calcDocJSON, string(data))
}

func TestEncode_UnwiredWorkflowPortsRoundTrip(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	// The workflow's declared ports are its contract even when nothing
	// is wired to them yet.
	openJSON := `{
	  "qualified_name": "flowforge.workflows.open",
	  "inputs": {"x": {}},
	  "outputs": {"y": {}},
	  "steps": [
	    {"id": "note", "expression": "v + 1", "inputs": {"v": ".x"}}
	  ]
	}`

	doc, err := workflow.DocumentFromJSON([]byte(openJSON))
	require.NoError(t, err)
	w, err := workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	require.NoError(t, err)

	back, err := workflow.Encode(w)
	require.NoError(t, err)
	data, err := back.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, openJSON, string(data))

	// Re-decoding still finds the input port the step references.
	again, err := workflow.Decode(back, workflow.DecodeOptions{Registry: reg})
	require.NoError(t, err)
	_, ok := again.InputPort("x")
	assert.True(t, ok)
}

func TestEncode_SubWorkflowRoundTrip(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	childJSON := `{
	  "qualified_name": "flowforge.workflows.child",
	  "inputs": {"x": {}},
	  "outputs": {"sum": "add1.y"},
	  "steps": [
	    {"id": "add1", "op": "flowforge.ops.add",
	     "inputs": {"a": ".x", "b": {"value": 10}}}
	  ]
	}`
	parentJSON := `{
	  "qualified_name": "flowforge.workflows.parent",
	  "outputs": {"out": "sub1.sum"},
	  "steps": [
	    {"id": "sub1", "workflow": "child.json", "inputs": {"x": {"value": 5}}}
	  ]
	}`

	docs := map[string]string{"child.json": childJSON}
	loader := func(resource string) (*workflow.Document, error) {
		return workflow.DocumentFromJSON([]byte(docs[resource]))
	}

	doc, err := workflow.DocumentFromJSON([]byte(parentJSON))
	require.NoError(t, err)
	w, err := workflow.Decode(doc, workflow.DecodeOptions{Registry: reg, Loader: loader})
	require.NoError(t, err)

	require.NoError(t, w.Invoke(context.Background(), &workflow.Env{Registry: reg}))
	v, ok := outPort(t, w, "out").Value(w)
	require.True(t, ok)
	assert.Equal(t, 15.0, v)

	back, err := workflow.Encode(w)
	require.NoError(t, err)
	data, err := back.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, parentJSON, string(data))
}

func TestDecode_PortRejectsSourceAndValue(t *testing.T) {
	_, err := workflow.DocumentFromJSON([]byte(`{
	  "qualified_name": "w",
	  "inputs": {"x": {"source": "a.b", "value": 1}},
	  "steps": []
	}`))
	assert.Error(t, err)
}

func TestDecode_StepNeedsExactlyOneKind(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	for name, step := range map[string]string{
		"none": `{"id": "s"}`,
		"two":  `{"id": "s", "op": "flowforge.ops.add", "no_op": true}`,
	} {
		t.Run(name, func(t *testing.T) {
			doc, err := workflow.DocumentFromJSON([]byte(
				`{"qualified_name": "w", "steps": [` + step + `]}`))
			require.NoError(t, err)
			_, err = workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
			assert.True(t, types.IsCode(err, types.ErrValidation))
		})
	}
}

func TestDecode_UnknownOperation(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	doc, err := workflow.DocumentFromJSON([]byte(
		`{"qualified_name": "w", "steps": [{"id": "s", "op": "flowforge.ops.ghost"}]}`))
	require.NoError(t, err)
	_, err = workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	assert.True(t, types.IsCode(err, types.ErrUnknownOperation))
}

func TestDecode_DanglingReference(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	doc, err := workflow.DocumentFromJSON([]byte(`{
	  "qualified_name": "w",
	  "steps": [
	    {"id": "s", "op": "flowforge.ops.combine", "inputs": {"b": "ghost.y"}}
	  ]
	}`))
	require.NoError(t, err)
	_, err = workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	assert.True(t, types.IsCode(err, types.ErrDanglingReference))
}

func TestDocument_YAMLRoundTrip(t *testing.T) {
	var counts calcCounts
	reg := calcRegistry(t, &counts)

	yamlDoc := `qualified_name: flowforge.workflows.calc
inputs:
  x:
    value: 3
outputs:
  result: op3.w
steps:
  - id: op1
    op: flowforge.ops.add
    inputs:
      a: .x
      b:
        value: 1
  - id: op2
    op: flowforge.ops.scale
    inputs:
      y:
        source: op1.y
  - id: op3
    op: flowforge.ops.combine
    inputs:
      b: op2.b
`
	doc, err := workflow.DocumentFromYAML([]byte(yamlDoc))
	require.NoError(t, err)
	w, err := workflow.Decode(doc, workflow.DecodeOptions{Registry: reg})
	require.NoError(t, err)

	back, err := workflow.Encode(w)
	require.NoError(t, err)
	assert.Equal(t, doc, back)

	require.NoError(t, w.Invoke(context.Background(), &workflow.Env{Registry: reg}))
	result, ok := outPort(t, w, "result").Value(w)
	require.True(t, ok)
	assert.Equal(t, 32.0, result)
}

func TestDocument_SaveAndLoadFile(t *testing.T) {
	doc, err := workflow.DocumentFromJSON([]byte(calcDocJSON))
	require.NoError(t, err)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "calc.json")
	require.NoError(t, doc.SaveToFile(jsonPath))
	loaded, err := workflow.LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	// YAML re-reads integral numbers as int, so compare shape only.
	yamlPath := filepath.Join(dir, "calc.yaml")
	require.NoError(t, doc.SaveToFile(yamlPath))
	loadedYAML, err := workflow.LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, doc.QualifiedName, loadedYAML.QualifiedName)
	assert.Len(t, loadedYAML.Steps, len(doc.Steps))

	loader := workflow.FileLoader(dir)
	loaded, err = loader("calc.json")
	require.NoError(t, err)
	assert.Equal(t, doc.QualifiedName, loaded.QualifiedName)
}

func TestPortDoc_JSONRoundTrip(t *testing.T) {
	refGen := rapid.StringMatching(`[a-z][a-z0-9_]{0,8}(\.[a-z][a-z0-9_]{0,8})?`)

	rapid.Check(t, func(rt *rapid.T) {
		var pd workflow.PortDoc
		switch rapid.IntRange(0, 3).Draw(rt, "form") {
		case 0:
			// unwired
		case 1:
			pd = workflow.PortDoc{Source: refGen.Draw(rt, "src"), Shorthand: true}
		case 2:
			pd = workflow.PortDoc{Source: refGen.Draw(rt, "src")}
		default:
			var v any
			switch rapid.IntRange(0, 3).Draw(rt, "kind") {
			case 0:
				v = rapid.Float64Range(-1e9, 1e9).Draw(rt, "num")
			case 1:
				v = rapid.String().Draw(rt, "str")
			case 2:
				v = rapid.Bool().Draw(rt, "bool")
			default:
				v = nil
			}
			pd = workflow.PortDoc{Value: v, HasValue: true}
		}

		data, err := json.Marshal(pd)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		var back workflow.PortDoc
		if err := json.Unmarshal(data, &back); err != nil {
			rt.Fatalf("unmarshal: %v", err)
		}
		if back != pd {
			rt.Fatalf("round trip changed %#v to %#v", pd, back)
		}
	})
}
